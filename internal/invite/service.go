package invite

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"gatehouse.org/internal/auth"
)

const (
	defaultCodeLength   = 10
	defaultCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	defaultTTL          = 7 * 24 * time.Hour
	defaultMaxAttempts  = 10
)

// Config tunes invitation issuance. Zero values fall back to the defaults:
// 10-character A-Z0-9 codes valid for seven days.
type Config struct {
	CodeLength   int
	CodeAlphabet string
	DefaultTTL   time.Duration
	MaxAttempts  int
}

func (c Config) withDefaults() Config {
	if c.CodeLength <= 0 {
		c.CodeLength = defaultCodeLength
	}
	if c.CodeAlphabet == "" {
		c.CodeAlphabet = defaultCodeAlphabet
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	return c
}

// Service drives the invitation lifecycle: issue, list, cancel, validate,
// redeem.
type Service struct {
	store  Store
	cfg    Config
	now    func() time.Time
	codeFn func() (string, error)
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Test use.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithCodeFunc overrides code generation. Test use.
func WithCodeFunc(fn func() (string, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.codeFn = fn
		}
	}
}

// NewService constructs an invitation service.
func NewService(store Store, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("invite: store is required")
	}
	s := &Service{store: store, cfg: cfg.withDefaults(), now: time.Now}
	s.codeFn = s.randomCode
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create issues a new invitation for the given email. A zero ttl uses the
// configured default; a negative ttl is honored as a caller-supplied past
// expiry, yielding an invitation that is already unusable. The code is
// re-drawn on collision until unique.
func (s *Service) Create(ctx context.Context, actorID int64, email string, roleIDs []int64, ttl time.Duration) (Invitation, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return Invitation{}, fmt.Errorf("%w: valid email is required", auth.ErrInvalidInput)
	}
	if ttl == 0 {
		ttl = s.cfg.DefaultTTL
	}
	code, err := s.uniqueCode(ctx)
	if err != nil {
		return Invitation{}, err
	}
	inv, err := s.store.CreateInvitation(ctx, NewInvitation{
		Code:        code,
		Email:       email,
		RoleIDs:     roleIDs,
		CreatedByID: actorID,
		ExpiresAt:   s.now().UTC().Add(ttl),
	})
	if err != nil {
		return Invitation{}, err
	}
	if err := s.store.AppendAudit(ctx, auth.AuditEntry{
		UserID: actorID,
		Action: "invitation.create",
		Details: map[string]any{
			"invitation_id": inv.ID,
			"email":         inv.Email,
			"expires_at":    inv.ExpiresAt.Format(time.RFC3339),
			"roles":         inv.RoleIDs(),
		},
	}); err != nil {
		return Invitation{}, err
	}
	return inv, nil
}

// List sweeps expired invitations first so listings never show a PENDING row
// past its deadline, then pages through matches.
func (s *Service) List(ctx context.Context, f Filter) ([]Invitation, error) {
	if _, err := s.store.SweepExpired(ctx, s.now().UTC()); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != "" {
		f.Status = strings.ToUpper(strings.TrimSpace(f.Status))
		switch f.Status {
		case StatusPending, StatusAccepted, StatusExpired, StatusCancelled:
		default:
			return nil, fmt.Errorf("%w: unknown status %s", auth.ErrInvalidInput, f.Status)
		}
	}
	return s.store.ListInvitations(ctx, f)
}

// Get returns one invitation with its roles.
func (s *Service) Get(ctx context.Context, id int64) (Invitation, error) {
	return s.store.GetInvitation(ctx, id)
}

// Cancel moves a PENDING invitation to CANCELLED. Any other state, including
// a concurrently accepted one, yields ErrNotPending.
func (s *Service) Cancel(ctx context.Context, actorID, id int64) (Invitation, error) {
	inv, err := s.store.CancelInvitation(ctx, id)
	if err != nil {
		return Invitation{}, err
	}
	if err := s.store.AppendAudit(ctx, auth.AuditEntry{
		UserID: actorID,
		Action: "invitation.cancel",
		Details: map[string]any{
			"invitation_id": inv.ID,
			"email":         inv.Email,
		},
	}); err != nil {
		return Invitation{}, err
	}
	return inv, nil
}

// ValidateForRedemption checks a code against a claimed email. Failures are
// reported in a fixed order: unknown code, wrong state, expired, then email
// mismatch.
func (s *Service) ValidateForRedemption(ctx context.Context, code, email string) (Invitation, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Invitation{}, auth.ErrNotFound
	}
	inv, err := s.store.GetInvitationByCode(ctx, code)
	if err != nil {
		return Invitation{}, err
	}
	if inv.Status != StatusPending {
		return Invitation{}, ErrNotPending
	}
	if !s.now().UTC().Before(inv.ExpiresAt) {
		return Invitation{}, ErrExpired
	}
	if !strings.EqualFold(strings.TrimSpace(email), inv.Email) {
		return Invitation{}, ErrEmailMismatch
	}
	return inv, nil
}

// ValidateCode is the public pre-registration check. Every failure collapses
// to {valid:false} so codes cannot be probed for why they failed.
func (s *Service) ValidateCode(ctx context.Context, code string) (CodeCheck, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return CodeCheck{}, nil
	}
	inv, err := s.store.GetInvitationByCode(ctx, code)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return CodeCheck{}, nil
		}
		return CodeCheck{}, err
	}
	if !inv.Pending(s.now().UTC()) {
		return CodeCheck{}, nil
	}
	names := make([]string, 0, len(inv.Roles))
	for _, r := range inv.Roles {
		names = append(names, r.Name)
	}
	return CodeCheck{Valid: true, Email: inv.Email, Roles: names}, nil
}

// Redeem validates the code, hashes the password, and hands the store one
// transaction covering the accept transition, the account insert, the role
// copy, and the audit row.
func (s *Service) Redeem(ctx context.Context, r Redemption) (auth.User, error) {
	r.FullName = strings.TrimSpace(r.FullName)
	if r.FullName == "" {
		return auth.User{}, fmt.Errorf("%w: full_name is required", auth.ErrInvalidInput)
	}
	if strings.TrimSpace(r.Password) == "" {
		return auth.User{}, fmt.Errorf("%w: password is required", auth.ErrInvalidInput)
	}
	inv, err := s.ValidateForRedemption(ctx, r.Code, r.Email)
	if err != nil {
		return auth.User{}, err
	}
	hash, err := auth.HashPassword(r.Password)
	if err != nil {
		return auth.User{}, err
	}
	if r.Username != nil {
		trimmed := strings.TrimSpace(*r.Username)
		if trimmed == "" {
			r.Username = nil
		} else {
			r.Username = &trimmed
		}
	}
	return s.store.RedeemInvitation(ctx, inv, auth.NewUser{
		FullName:     r.FullName,
		Username:     r.Username,
		Email:        inv.Email,
		PasswordHash: hash,
		PhoneNumber:  r.PhoneNumber,
		Status:       auth.UserStatusActive,
		RoleIDs:      inv.RoleIDs(),
	})
}

// uniqueCode draws codes until one is free or attempts run out. The unique
// index on the code column still backstops a race between the check and the
// insert.
func (s *Service) uniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		code, err := s.codeFn()
		if err != nil {
			return "", err
		}
		_, err = s.store.GetInvitationByCode(ctx, code)
		if errors.Is(err, auth.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: could not allocate a unique invitation code", auth.ErrConflict)
}

func (s *Service) randomCode() (string, error) {
	buf := make([]byte, s.cfg.CodeLength)
	maxIdx := big.NewInt(int64(len(s.cfg.CodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, maxIdx)
		if err != nil {
			return "", fmt.Errorf("generate invitation code: %w", err)
		}
		buf[i] = s.cfg.CodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
