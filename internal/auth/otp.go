// Package auth signs WhatsApp users up with a one-time code delivered over
// WhatsApp and issues the dashboard JWT once the code is verified.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/whatsapp-ai/wabot/internal/keylock"
	"github.com/whatsapp-ai/wabot/internal/kv"
	"github.com/whatsapp-ai/wabot/internal/middleware"
	"github.com/whatsapp-ai/wabot/internal/phone"
	"github.com/whatsapp-ai/wabot/internal/session"
	"github.com/zerodha/logf"
	"golang.org/x/crypto/bcrypt"
)

const (
	codeDigits = 6
	keyPrefix  = "otp:"
	verifyPath = "/api/auth/verify"
)

var (
	ErrCodeExpired      = errors.New("auth: code expired or not requested")
	ErrTooManyAttempts  = errors.New("auth: too many attempts")
	ErrInvalidCode      = errors.New("auth: invalid code")
	ErrInvalidPhone     = errors.New("auth: invalid phone number")
	ErrNotConfigured    = errors.New("auth: jwt secret not configured")
	errRecordNotDecoded = errors.New("auth: corrupt otp record")
)

// Sender delivers a text message to a phone number.
type Sender interface {
	SendText(ctx context.Context, phoneNumber, text string) (string, error)
}

// Config controls code lifetime and token issuance.
type Config struct {
	JWTSecret      string
	TokenExpiry    time.Duration
	BaseURL        string
	CodeTTL        time.Duration
	ResendInterval time.Duration
	MaxAttempts    int
	AdminNumbers   *phone.AllowList
}

type record struct {
	Hash      string    `json:"hash"`
	Attempts  int       `json:"attempts"`
	SentAt    time.Time `json:"sentAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Result is returned by a successful verification.
type Result struct {
	User      session.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	Created   bool         `json:"created"`
}

// Service runs the OTP flow.
type Service struct {
	cfg      Config
	kv       kv.Store
	sessions *session.Store
	sender   Sender
	log      logf.Logger
	locks    *keylock.Map
	now      func() time.Time
	code     func() (string, error)
}

// NewService creates a Service. Zero durations fall back to 5 minute codes,
// a 60 second resend interval and 24 hour tokens.
func NewService(cfg Config, store kv.Store, sessions *session.Store, sender Sender, log logf.Logger) *Service {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.TokenExpiry <= 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
	return &Service{
		cfg:      cfg,
		kv:       store,
		sessions: sessions,
		sender:   sender,
		log:      log,
		locks:    keylock.New(),
		now:      time.Now,
		code:     randomCode,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetCodeGenerator replaces the code source.
func (s *Service) SetCodeGenerator(gen func() (string, error)) {
	s.code = gen
}

func key(p string) string {
	return keyPrefix + p
}

// VerifyURL is the link sent alongside the code.
func (s *Service) VerifyURL(phoneNumber, code string) string {
	q := url.Values{}
	q.Set("phoneNumber", phoneNumber)
	q.Set("code", code)
	return s.cfg.BaseURL + verifyPath + "?" + q.Encode()
}

// SendOTP creates a fresh code and sends it with its verification link. It
// returns false without sending when a code went out less than the resend
// interval ago.
func (s *Service) SendOTP(ctx context.Context, phoneNumber string) (bool, error) {
	p := phone.Normalize(phoneNumber)
	if p == "" {
		return false, ErrInvalidPhone
	}

	unlock := s.locks.Lock(p)
	defer unlock()

	now := s.now().UTC()
	existing, err := s.load(ctx, p)
	if err != nil && !errors.Is(err, ErrCodeExpired) {
		return false, err
	}
	if existing != nil && now.Sub(existing.SentAt) < s.cfg.ResendInterval {
		s.log.Debug("OTP resend suppressed", "phone", p)
		return false, nil
	}

	code, err := s.code()
	if err != nil {
		return false, fmt.Errorf("auth: generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("auth: hash code: %w", err)
	}

	rec := record{Hash: string(hash), SentAt: now, ExpiresAt: now.Add(s.cfg.CodeTTL)}
	if err := s.save(ctx, p, rec, s.cfg.CodeTTL); err != nil {
		return false, err
	}

	text := fmt.Sprintf("Your OTP is %s\n\nTap to verify: %s", code, s.VerifyURL(p, code))
	if _, err := s.sender.SendText(ctx, p, text); err != nil {
		return false, fmt.Errorf("auth: send code: %w", err)
	}

	s.log.Info("OTP sent", "phone", p, "expires_at", rec.ExpiresAt.Format(time.RFC3339))
	return true, nil
}

// Verify checks code and, on success, creates or refreshes the user's
// session and returns a signed token. Checks for one phone number run one
// at a time and every attempt is recorded before the code is compared.
func (s *Service) Verify(ctx context.Context, phoneNumber, code string) (*Result, error) {
	p := phone.Normalize(phoneNumber)
	if p == "" {
		return nil, ErrInvalidPhone
	}
	if s.cfg.JWTSecret == "" {
		return nil, ErrNotConfigured
	}

	unlock := s.locks.Lock(p)
	defer unlock()

	rec, err := s.load(ctx, p)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if !now.Before(rec.ExpiresAt) {
		_ = s.kv.Delete(ctx, key(p))
		return nil, ErrCodeExpired
	}
	if rec.Attempts >= s.cfg.MaxAttempts {
		_ = s.kv.Delete(ctx, key(p))
		return nil, ErrTooManyAttempts
	}

	rec.Attempts++
	if err := s.save(ctx, p, *rec, rec.ExpiresAt.Sub(now)); err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.Hash), []byte(code)); err != nil {
		s.log.Warn("OTP mismatch", "phone", p, "attempts", rec.Attempts)
		return nil, ErrInvalidCode
	}

	if err := s.kv.Delete(ctx, key(p)); err != nil {
		return nil, fmt.Errorf("auth: delete code: %w", err)
	}

	res := &Result{}
	user, err := s.sessions.Get(ctx, p)
	switch {
	case errors.Is(err, session.ErrNotFound):
		role := session.RoleUser
		if s.cfg.AdminNumbers.Allowed(p) {
			role = session.RoleAdmin
		}
		u := session.NewUser(p, role, now)
		if err := s.sessions.Put(ctx, u); err != nil {
			return nil, err
		}
		user = &u
		res.Created = true
		s.log.Info("User signed up", "phone", p, "role", role)
	case err != nil:
		return nil, err
	}

	token, err := middleware.NewToken(s.cfg.JWTSecret, user.ID, user.PhoneNumber, user.Role, s.cfg.TokenExpiry, now)
	if err != nil {
		return nil, fmt.Errorf("auth: sign token: %w", err)
	}

	res.User = *user
	res.Token = token
	res.ExpiresAt = now.Add(s.cfg.TokenExpiry)
	return res, nil
}

func (s *Service) load(ctx context.Context, p string) (*record, error) {
	raw, err := s.kv.Get(ctx, key(p))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrCodeExpired
	}
	if err != nil {
		return nil, fmt.Errorf("auth: get code: %w", err)
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, errRecordNotDecoded
	}
	return &rec, nil
}

func (s *Service) save(ctx context.Context, p string, rec record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("auth: encode code: %w", err)
	}
	if err := s.kv.Put(ctx, key(p), string(data), ttl); err != nil {
		return fmt.Errorf("auth: put code: %w", err)
	}
	return nil
}

func randomCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
