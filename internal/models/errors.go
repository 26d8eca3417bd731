package models

import "fmt"

// AuthErrorKind classifies identity-provider failures
type AuthErrorKind string

const (
	AuthInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthWrongPassword      AuthErrorKind = "wrong_password"
	AuthAccountNotFound    AuthErrorKind = "account_not_found"
	AuthEmailInUse         AuthErrorKind = "email_in_use"
	AuthWeakPassword       AuthErrorKind = "weak_password"
	// AuthPasswordTooShort is the local length check, before the provider is asked
	AuthPasswordTooShort   AuthErrorKind = "password_too_short"
	AuthInvalidEmail       AuthErrorKind = "invalid_email"
	AuthRateLimited        AuthErrorKind = "rate_limited"
	AuthMissingFields      AuthErrorKind = "missing_fields"
	AuthGeneric            AuthErrorKind = "generic"
)

var authMessages = map[AuthErrorKind]string{
	AuthEmailInUse:         "This email is already registered. Try signing in.",
	AuthInvalidEmail:       "Please enter a valid email address.",
	AuthAccountNotFound:    "No account found with this email.",
	AuthInvalidCredentials: "Invalid email or password.",
	AuthWrongPassword:      "Incorrect password. Please try again.",
	AuthWeakPassword:       "Password should be at least 6 characters.",
	AuthPasswordTooShort:   "Password must be at least 6 characters",
	AuthRateLimited:        "Too many attempts. Please try again later.",
	AuthMissingFields:      "Please enter email and password",
}

// AuthError is returned by the identity provider and the credential gate
type AuthError struct {
	Kind AuthErrorKind
	// Code is the raw provider code, if any
	Code string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth error %s (%s)", e.Kind, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("auth error %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("auth error %s", e.Kind)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches any *AuthError of the same kind
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Message returns the user-facing message for the error
func (e *AuthError) Message() string {
	if msg, ok := authMessages[e.Kind]; ok {
		return msg
	}
	return "An error occurred. Please try again."
}

// NewAuthError creates an AuthError of the given kind
func NewAuthError(kind AuthErrorKind, code string, err error) *AuthError {
	return &AuthError{Kind: kind, Code: code, Err: err}
}
