package identity

import (
	"errors"
	"time"
)

// Role is the authorization level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var (
	// ErrMissingEmail is returned when a provider callback does not disclose an email.
	ErrMissingEmail = errors.New("email is required but was not provided by the identity provider")
	// ErrIdentityConflict is returned under RelinkReject when the email
	// already belongs to a different external identity.
	ErrIdentityConflict = errors.New("email is already linked to another external identity")
	// ErrDuplicate signals a uniqueness violation in the user store.
	ErrDuplicate = errors.New("user already exists")
	// ErrUserNotFound is returned by repositories for absent users.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials covers both unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidRegistration wraps sign up input problems.
	ErrInvalidRegistration = errors.New("invalid registration")
)

// MissingEmailHint tells the user how to recover from ErrMissingEmail.
const MissingEmailHint = "We could not read an email address from your account. Make sure your email address is shared with this application and try again."

// User is a local account.
type User struct {
	ID               string
	Email            string
	DisplayName      string
	Provider         string
	UID              string
	PasswordDigest   string
	Role             Role
	ShareTokenDigest string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Linked reports whether the user carries an external identity.
func (u User) Linked() bool {
	return u.Provider != "" && u.UID != ""
}

// Callback is the identity assertion received from an OAuth provider.
type Callback struct {
	Provider    string
	UID         string
	Email       string
	DisplayName string
}

// Registration is a password sign up request.
type Registration struct {
	Email       string
	Password    string
	DisplayName string
}
