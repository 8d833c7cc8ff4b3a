package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pricepin/pricepin/internal/captoken"
	"github.com/pricepin/pricepin/internal/digest"
	"github.com/pricepin/pricepin/internal/logging"
)

// countingRepo records writes and can inject a duplicate error on the next write.
type countingRepo struct {
	Repository
	mu          sync.Mutex
	creates     int
	updates     int
	failNextDup bool
	onFailedDup func()
}

func (r *countingRepo) Create(ctx context.Context, user User) error {
	if r.injectDup() {
		return ErrDuplicate
	}
	r.mu.Lock()
	r.creates++
	r.mu.Unlock()
	return r.Repository.Create(ctx, user)
}

func (r *countingRepo) LinkIdentity(ctx context.Context, id, provider, uid string, at time.Time) error {
	if r.injectDup() {
		return ErrDuplicate
	}
	r.mu.Lock()
	r.updates++
	r.mu.Unlock()
	return r.Repository.LinkIdentity(ctx, id, provider, uid, at)
}

func (r *countingRepo) SetShareTokenDigest(ctx context.Context, id, digest string, at time.Time) error {
	r.mu.Lock()
	r.updates++
	r.mu.Unlock()
	return r.Repository.SetShareTokenDigest(ctx, id, digest, at)
}

func (r *countingRepo) injectDup() bool {
	r.mu.Lock()
	fail := r.failNextDup
	r.failNextDup = false
	hook := r.onFailedDup
	r.mu.Unlock()
	if fail && hook != nil {
		hook()
	}
	return fail
}

func (r *countingRepo) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creates + r.updates
}

type recorderStub struct {
	outcomes []string
}

func (r *recorderStub) IdentityReconciled(outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}

func newTestService(t *testing.T, cfg Config) (*Service, *countingRepo) {
	t.Helper()
	hasher, err := digest.New(digest.Config{Algorithm: digest.AlgorithmBcrypt, BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	repo := &countingRepo{Repository: NewMemoryRepository()}
	svc := NewService(repo, hasher, captoken.NewManager(hasher), cfg, logging.Discard())
	return svc, repo
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	user, err := svc.Register(ctx, Registration{Email: " Alice@Example.com ", Password: "secret123"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "alice@example.com" || user.DisplayName != "alice" || user.Role != RoleUser {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.PasswordDigest == "secret123" {
		t.Fatalf("password stored in plaintext")
	}

	authed, err := svc.Authenticate(ctx, "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.ID != user.ID {
		t.Fatalf("expected %s, got %s", user.ID, authed.ID)
	}

	if _, err := svc.Authenticate(ctx, "alice@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestRegisterRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	if _, err := svc.Register(ctx, Registration{Email: "bob@example.com", Password: "123"}); !errors.Is(err, ErrInvalidRegistration) {
		t.Fatalf("expected short password error")
	}
	if _, err := svc.Register(ctx, Registration{Email: "not-an-email", Password: "secret123"}); !errors.Is(err, ErrInvalidRegistration) {
		t.Fatalf("expected email error")
	}
	if _, err := svc.Register(ctx, Registration{Email: "bob@example.com", Password: "secret123"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, Registration{Email: "BOB@example.com", Password: "secret456"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestReconcileCreatesNewUser(t *testing.T) {
	svc, repo := newTestService(t, Config{})
	rec := &recorderStub{}
	svc.WithRecorder(rec)
	ctx := context.Background()

	user, err := svc.Reconcile(ctx, Callback{Provider: "google", UID: "123", Email: "new@example.com", DisplayName: "New Person"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if user.Provider != "google" || user.UID != "123" || user.DisplayName != "New Person" {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.PasswordDigest == "" {
		t.Fatalf("expected random password digest")
	}
	if repo.creates != 1 || repo.updates != 0 {
		t.Fatalf("expected one create, got creates=%d updates=%d", repo.creates, repo.updates)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != string(OutcomeCreated) {
		t.Fatalf("unexpected outcomes %v", rec.outcomes)
	}
}

func TestReconcileFallsBackToEmailLocalPart(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	user, err := svc.Reconcile(context.Background(), Callback{Provider: "google", UID: "9", Email: "hanako@example.com"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if user.DisplayName != "hanako" {
		t.Fatalf("expected display name hanako, got %q", user.DisplayName)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	svc, repo := newTestService(t, Config{})
	ctx := context.Background()
	cb := Callback{Provider: "google", UID: "123", Email: "same@example.com", DisplayName: "Same"}

	first, err := svc.Reconcile(ctx, cb)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	writes := repo.writes()

	second, err := svc.Reconcile(ctx, cb)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same user, got %s and %s", first.ID, second.ID)
	}
	if repo.writes() != writes {
		t.Fatalf("second reconcile wrote to the store")
	}
}

func TestReconcileLinksPasswordAccount(t *testing.T) {
	svc, repo := newTestService(t, Config{})
	ctx := context.Background()

	registered, err := svc.Register(ctx, Registration{Email: "a@example.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	user, err := svc.Reconcile(ctx, Callback{Provider: "google", UID: "123", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if user.ID != registered.ID {
		t.Fatalf("expected linked user %s, got %s", registered.ID, user.ID)
	}
	if user.Provider != "google" || user.UID != "123" {
		t.Fatalf("expected google/123 linkage, got %s/%s", user.Provider, user.UID)
	}
	if repo.creates != 1 || repo.updates != 1 {
		t.Fatalf("expected no duplicate user, creates=%d updates=%d", repo.creates, repo.updates)
	}

	// the password path still works after linking
	if _, err := svc.Authenticate(ctx, "a@example.com", "secret123"); err != nil {
		t.Fatalf("authenticate after link: %v", err)
	}
}

func TestReconcileRelinkPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("relink", func(t *testing.T) {
		svc, _ := newTestService(t, Config{RelinkPolicy: RelinkOverwrite})
		orig, err := svc.Reconcile(ctx, Callback{Provider: "github", UID: "77", Email: "c@example.com"})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		user, err := svc.Reconcile(ctx, Callback{Provider: "google", UID: "123", Email: "c@example.com"})
		if err != nil {
			t.Fatalf("relink: %v", err)
		}
		if user.ID != orig.ID || user.Provider != "google" || user.UID != "123" {
			t.Fatalf("unexpected relinked user %+v", user)
		}
	})

	t.Run("reject", func(t *testing.T) {
		svc, repo := newTestService(t, Config{RelinkPolicy: RelinkReject})
		if _, err := svc.Reconcile(ctx, Callback{Provider: "github", UID: "77", Email: "c@example.com"}); err != nil {
			t.Fatalf("seed: %v", err)
		}
		writes := repo.writes()
		if _, err := svc.Reconcile(ctx, Callback{Provider: "google", UID: "123", Email: "c@example.com"}); !errors.Is(err, ErrIdentityConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if repo.writes() != writes {
			t.Fatalf("rejected callback wrote to the store")
		}
	})
}

func TestReconcileMissingEmail(t *testing.T) {
	svc, repo := newTestService(t, Config{})
	_, err := svc.Reconcile(context.Background(), Callback{Provider: "google", UID: "123", Email: "  "})
	if !errors.Is(err, ErrMissingEmail) {
		t.Fatalf("expected missing email, got %v", err)
	}
	if repo.writes() != 0 {
		t.Fatalf("expected no user to be created")
	}
}

func TestReconcileRetriesAfterConcurrentCreate(t *testing.T) {
	svc, repo := newTestService(t, Config{})
	ctx := context.Background()
	cb := Callback{Provider: "google", UID: "555", Email: "race@example.com"}

	// Simulate another process winning the insert between our lookup and write.
	var winner User
	repo.failNextDup = true
	repo.onFailedDup = func() {
		winner = User{ID: "winner-id", Email: cb.Email, DisplayName: "race", Provider: cb.Provider, UID: cb.UID, Role: RoleUser}
		if err := repo.Repository.Create(ctx, winner); err != nil {
			t.Errorf("seed winner: %v", err)
		}
	}

	user, err := svc.Reconcile(ctx, cb)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if user.ID != winner.ID {
		t.Fatalf("expected the concurrently created user %s, got %s", winner.ID, user.ID)
	}
}

func TestShareToken(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	user, err := svc.Register(ctx, Registration{Email: "share@example.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if svc.VerifyShareToken(ctx, user.ID, "anything") {
		t.Fatalf("expected no share token before issuing")
	}

	first, err := svc.IssueShareToken(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !svc.VerifyShareToken(ctx, user.ID, first) {
		t.Fatalf("expected share token to verify")
	}

	second, err := svc.IssueShareToken(ctx, user.ID)
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if svc.VerifyShareToken(ctx, user.ID, first) {
		t.Fatalf("expected old share token to stop working")
	}
	if !svc.VerifyShareToken(ctx, user.ID, second) {
		t.Fatalf("expected new share token to verify")
	}
	if svc.VerifyShareToken(ctx, "missing", second) {
		t.Fatalf("expected unknown user to fail")
	}
}

func TestParseRelinkPolicy(t *testing.T) {
	if p, err := ParseRelinkPolicy(""); err != nil || p != RelinkOverwrite {
		t.Fatalf("expected default relink, got %v %v", p, err)
	}
	if p, err := ParseRelinkPolicy("REJECT"); err != nil || p != RelinkReject {
		t.Fatalf("expected reject, got %v %v", p, err)
	}
	if _, err := ParseRelinkPolicy("merge"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestPasswordLengthBoundary(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.Register(ctx, Registration{Email: "long@example.com", Password: strings.Repeat("s", 73)})
	if !errors.Is(err, ErrInvalidRegistration) {
		t.Fatalf("expected invalid registration for 73 byte password, got %v", err)
	}

	password := strings.Repeat("s", 72)
	if _, err := svc.Register(ctx, Registration{Email: "long@example.com", Password: password}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "long@example.com", password); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "long@example.com", password+"wrong-suffix"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for suffixed password, got %v", err)
	}
}

func TestLinkKeepsConcurrentShareToken(t *testing.T) {
	svc, repo := newTestService(t, Config{})
	ctx := context.Background()

	registered, err := svc.Register(ctx, Registration{Email: "mixed@example.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	stale, err := repo.FindByID(ctx, registered.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	token, err := svc.IssueShareToken(ctx, registered.ID)
	if err != nil {
		t.Fatalf("issue share token: %v", err)
	}
	if _, err := svc.link(ctx, stale, Callback{Provider: "google", UID: "42", Email: stale.Email}); err != nil {
		t.Fatalf("link: %v", err)
	}

	if !svc.VerifyShareToken(ctx, registered.ID, token) {
		t.Fatalf("share token issued before the link must stay valid")
	}
	user, err := repo.FindByID(ctx, registered.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if user.Provider != "google" || user.UID != "42" {
		t.Fatalf("expected google/42 linkage, got %s/%s", user.Provider, user.UID)
	}
	if user.PasswordDigest != registered.PasswordDigest || user.Email != registered.Email {
		t.Fatalf("link touched unrelated columns: %+v", user)
	}
}

func TestIssueShareTokenUnknownUser(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	if _, err := svc.IssueShareToken(context.Background(), "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}
