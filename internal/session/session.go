// Package session keeps the WhatsApp user record created when a phone
// number completes OTP sign-up.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/whatsapp-ai/wabot/internal/kv"
	"github.com/whatsapp-ai/wabot/internal/phone"
)

const (
	// TTL is refreshed whenever the session is read or touched.
	TTL       = 30 * 24 * time.Hour
	keyPrefix = "session:"

	RoleAdmin = "admin"
	RoleUser  = "user"

	emailDomain = "whatsapp-ai.com"
)

var (
	ErrNotFound     = errors.New("session: not found")
	ErrInvalidPhone = errors.New("session: invalid phone number")
)

// User is the account behind a WhatsApp phone number.
type User struct {
	ID          uuid.UUID `json:"id"`
	PhoneNumber string    `json:"phoneNumber"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	LastActive  time.Time `json:"lastActive"`
}

// NewUser builds a user for a phone number that has just verified. The
// email is a placeholder derived from the number.
func NewUser(phoneNumber, role string, now time.Time) User {
	p := phone.Normalize(phoneNumber)
	if role == "" {
		role = RoleUser
	}
	return User{
		ID:          uuid.New(),
		PhoneNumber: p,
		Email:       fmt.Sprintf("%s@%s", phone.Digits(p), emailDomain),
		Name:        p,
		Role:        role,
		CreatedAt:   now,
		LastActive:  now,
	}
}

// Store persists sessions in the key-value backend.
type Store struct {
	kv  kv.Store
	now func() time.Time
}

func NewStore(store kv.Store) *Store {
	return &Store{kv: store, now: time.Now}
}

// WithClock returns a copy of s using now as the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	return &Store{kv: s.kv, now: now}
}

func key(phoneNumber string) (string, error) {
	p := phone.Normalize(phoneNumber)
	if p == "" {
		return "", ErrInvalidPhone
	}
	return keyPrefix + p, nil
}

// Put stores u under its phone number.
func (s *Store) Put(ctx context.Context, u User) error {
	k, err := key(u.PhoneNumber)
	if err != nil {
		return err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := s.kv.Put(ctx, k, string(data), TTL); err != nil {
		return fmt.Errorf("session: put: %w", err)
	}
	return nil
}

// Get returns the session user and refreshes LastActive and the expiry.
func (s *Store) Get(ctx context.Context, phoneNumber string) (*User, error) {
	u, err := s.load(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	u.LastActive = s.now().UTC()
	if err := s.Put(ctx, *u); err != nil {
		return nil, err
	}
	return u, nil
}

// Touch refreshes an existing session. It reports false when there is none.
func (s *Store) Touch(ctx context.Context, phoneNumber string) (bool, error) {
	_, err := s.Get(ctx, phoneNumber)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Exists reports whether a session is stored, without refreshing it.
func (s *Store) Exists(ctx context.Context, phoneNumber string) (bool, error) {
	_, err := s.load(ctx, phoneNumber)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, phoneNumber string) error {
	k, err := key(phoneNumber)
	if err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, k); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, phoneNumber string) (*User, error) {
	k, err := key(phoneNumber)
	if err != nil {
		return nil, err
	}
	raw, err := s.kv.Get(ctx, k)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &u, nil
}
