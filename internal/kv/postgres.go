package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/whatsapp-ai/wabot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Postgres is a Store on the kv_entries table. Expired rows are hidden on
// read and removed by DeleteExpired.
type Postgres struct {
	db  *gorm.DB
	now func() time.Time
}

// NewPostgres wraps a migrated gorm connection.
func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

func (p *Postgres) Get(ctx context.Context, key string) (string, error) {
	var entry models.KVEntry
	err := p.db.WithContext(ctx).Where("entry_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kv: postgres get %q: %w", key, err)
	}
	if entry.Expired(p.now()) {
		return "", ErrNotFound
	}
	return entry.Value, nil
}

func (p *Postgres) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	entry := models.KVEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: models.ExpiryFrom(p.now(), ttl),
	}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("kv: postgres put %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if err := p.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&models.KVEntry{}).Error; err != nil {
		return fmt.Errorf("kv: postgres delete %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := p.db.WithContext(ctx).Model(&models.KVEntry{}).
		Where("entry_key LIKE ? AND (expires_at IS NULL OR expires_at > ?)", escapeLike(prefix)+"%", p.now()).
		Pluck("entry_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("kv: postgres list %q: %w", prefix, err)
	}
	return keys, nil
}

// DeleteExpired removes expired rows and returns how many were removed.
func (p *Postgres) DeleteExpired(ctx context.Context) (int, error) {
	res := p.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", p.now()).
		Delete(&models.KVEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("kv: postgres sweep: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
