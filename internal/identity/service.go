package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pricepin/pricepin/internal/captoken"
	"github.com/pricepin/pricepin/internal/digest"
)

// RelinkPolicy decides what happens when a callback email belongs to a user
// already linked to a different external identity.
type RelinkPolicy string

const (
	// RelinkOverwrite moves the account to the callback's identity.
	RelinkOverwrite RelinkPolicy = "relink"
	// RelinkReject refuses the callback with ErrIdentityConflict.
	RelinkReject RelinkPolicy = "reject"
)

// ParseRelinkPolicy validates a configured policy name.
func ParseRelinkPolicy(s string) (RelinkPolicy, error) {
	switch p := RelinkPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", RelinkOverwrite:
		return RelinkOverwrite, nil
	case RelinkReject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown relink policy %q", s)
	}
}

// Outcome labels how a callback was resolved.
type Outcome string

const (
	OutcomeReturning Outcome = "returning"
	OutcomeLinked    Outcome = "linked"
	OutcomeRelinked  Outcome = "relinked"
	OutcomeCreated   Outcome = "created"
	OutcomeRejected  Outcome = "rejected"
)

// Recorder observes reconciliation outcomes.
type Recorder interface {
	IdentityReconciled(outcome string)
}

const minPasswordLength = 6

// Config tunes the identity service.
type Config struct {
	RelinkPolicy RelinkPolicy
}

// Service manages local accounts and maps external identities onto them.
type Service struct {
	repo     Repository
	digester digest.Digester
	tokens   *captoken.Manager
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository, digester digest.Digester, tokens *captoken.Manager, cfg Config, logger *slog.Logger) *Service {
	if cfg.RelinkPolicy == "" {
		cfg.RelinkPolicy = RelinkOverwrite
	}
	return &Service{
		repo:     repo,
		digester: digester,
		tokens:   tokens,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithRecorder attaches a metrics recorder.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// Register creates a password account.
func (s *Service) Register(ctx context.Context, reg Registration) (User, error) {
	email := normalizeEmail(reg.Email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: a valid email is required", ErrInvalidRegistration)
	}
	if len(reg.Password) < minPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRegistration, minPasswordLength)
	}
	if len(reg.Password) > digest.MaxSecretBytes {
		return User{}, fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidRegistration, digest.MaxSecretBytes)
	}

	hash, err := s.digester.Digest(reg.Password)
	if err != nil {
		return User{}, err
	}

	now := s.now()
	user := User{
		ID:             uuid.New().String(),
		Email:          email,
		DisplayName:    displayName(reg.DisplayName, email),
		PasswordDigest: hash,
		Role:           RoleUser,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return User{}, fmt.Errorf("email already registered: %w", ErrDuplicate)
		}
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies an email and password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	user, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if password == "" || !s.digester.Verify(user.PasswordDigest, password) {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Get returns the user with the given id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

type match int

const (
	matchNone match = iota
	matchIdentity
	matchEmailUnlinked
	matchEmailLinkedElsewhere
)

// Reconcile resolves a provider callback to exactly one local user, creating
// or linking an account when needed. A uniqueness failure caused by a
// concurrent callback is retried once.
func (s *Service) Reconcile(ctx context.Context, cb Callback) (User, error) {
	cb.Email = normalizeEmail(cb.Email)
	cb.Provider = strings.TrimSpace(cb.Provider)
	cb.UID = strings.TrimSpace(cb.UID)
	if cb.Email == "" {
		s.logger.Warn("identity callback without email", slog.String("provider", cb.Provider))
		return User{}, ErrMissingEmail
	}
	if cb.Provider == "" || cb.UID == "" {
		return User{}, errors.New("callback must carry provider and uid")
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		user, outcome, err := s.resolve(ctx, cb)
		if errors.Is(err, ErrDuplicate) {
			lastErr = err
			s.logger.Info("identity reconcile raced, retrying lookup",
				slog.String("provider", cb.Provider), slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			if errors.Is(err, ErrIdentityConflict) {
				s.record(OutcomeRejected)
			}
			return User{}, err
		}
		s.record(outcome)
		s.logger.Info("identity reconciled",
			slog.String("user_id", user.ID),
			slog.String("provider", cb.Provider),
			slog.String("outcome", string(outcome)),
		)
		return user, nil
	}
	return User{}, fmt.Errorf("reconcile identity: %w", lastErr)
}

func (s *Service) classify(ctx context.Context, cb Callback) (match, User, error) {
	user, err := s.repo.FindByProviderUID(ctx, cb.Provider, cb.UID)
	if err == nil {
		return matchIdentity, user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return matchNone, User{}, fmt.Errorf("find by identity: %w", err)
	}

	user, err = s.repo.FindByEmail(ctx, cb.Email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return matchNone, User{}, nil
	case err != nil:
		return matchNone, User{}, fmt.Errorf("find by email: %w", err)
	case !user.Linked():
		return matchEmailUnlinked, user, nil
	default:
		return matchEmailLinkedElsewhere, user, nil
	}
}

func (s *Service) resolve(ctx context.Context, cb Callback) (User, Outcome, error) {
	m, user, err := s.classify(ctx, cb)
	if err != nil {
		return User{}, "", err
	}

	switch m {
	case matchIdentity:
		return user, OutcomeReturning, nil
	case matchEmailUnlinked:
		user, err = s.link(ctx, user, cb)
		return user, OutcomeLinked, err
	case matchEmailLinkedElsewhere:
		if s.cfg.RelinkPolicy == RelinkReject {
			s.logger.Warn("identity relink rejected",
				slog.String("user_id", user.ID),
				slog.String("linked_provider", user.Provider),
				slog.String("provider", cb.Provider),
			)
			return User{}, "", ErrIdentityConflict
		}
		user, err = s.link(ctx, user, cb)
		return user, OutcomeRelinked, err
	default:
		user, err = s.createFromCallback(ctx, cb)
		return user, OutcomeCreated, err
	}
}

// link writes only the identity columns so a concurrent share token change
// on the same user survives.
func (s *Service) link(ctx context.Context, user User, cb Callback) (User, error) {
	now := s.now()
	if err := s.repo.LinkIdentity(ctx, user.ID, cb.Provider, cb.UID, now); err != nil {
		return User{}, err
	}
	user.Provider = cb.Provider
	user.UID = cb.UID
	user.UpdatedAt = now
	return user, nil
}

func (s *Service) createFromCallback(ctx context.Context, cb Callback) (User, error) {
	// Nobody learns this password; the account has no password login until
	// one is set explicitly.
	secret, err := s.tokens.Issue()
	if err != nil {
		return User{}, fmt.Errorf("generate password: %w", err)
	}

	now := s.now()
	user := User{
		ID:             uuid.New().String(),
		Email:          cb.Email,
		DisplayName:    displayName(cb.DisplayName, cb.Email),
		Provider:       cb.Provider,
		UID:            cb.UID,
		PasswordDigest: secret.Digest,
		Role:           RoleUser,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// IssueShareToken mints a share map token for the user and returns the
// plaintext. Any previous share token stops working.
func (s *Service) IssueShareToken(ctx context.Context, userID string) (string, error) {
	tok, err := s.tokens.Issue()
	if err != nil {
		return "", err
	}
	if err := s.repo.SetShareTokenDigest(ctx, userID, tok.Digest, s.now()); err != nil {
		return "", err
	}
	return tok.Plaintext, nil
}

// VerifyShareToken reports whether token is the user's current share token.
func (s *Service) VerifyShareToken(ctx context.Context, userID, token string) bool {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return false
	}
	return s.tokens.Check(user.ShareTokenDigest, token)
}

func (s *Service) record(o Outcome) {
	if s.recorder != nil {
		s.recorder.IdentityReconciled(string(o))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func displayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}
