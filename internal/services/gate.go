package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Jakob98-code/distance-tracker/internal/models"

	"github.com/rs/zerolog/log"
)

const minSecretLength = 6

// ErrAuthInProgress is returned when a sign-in or sign-up is already running
var ErrAuthInProgress = errors.New("authentication already in progress")

// ErrAlreadyAuthenticated is returned by sign-in and sign-up while a session is live
var ErrAlreadyAuthenticated = errors.New("already authenticated")

// IdentityProvider is the managed account service behind the credential gate
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, identifier, secret string) (*models.Credential, error)
	CreateAccount(ctx context.Context, identifier, secret string) (*models.Credential, error)
	SignOut(ctx context.Context) error
	// OnAuthStateChanged delivers the current state, then every change; nil means signed out
	OnAuthStateChanged(fn func(*models.Credential)) (unsubscribe func())
}

// PinResetter removes the local PIN on sign-out
type PinResetter interface {
	DeletePinRecord(ctx context.Context) error
}

// AuthState is the state of the credential gate
type AuthState string

const (
	AuthUnauthenticated AuthState = "unauthenticated"
	AuthAuthenticating  AuthState = "authenticating"
	AuthAuthenticated   AuthState = "authenticated"
)

// GateView is a snapshot of the gate for rendering
type GateView struct {
	State      AuthState `json:"state"`
	Identifier string    `json:"identifier,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// GateHooks are invoked outside the gate's lock
type GateHooks struct {
	// OnAuthenticated fires once per transition to authenticated
	OnAuthenticated func(models.Credential)
	// OnUnauthenticated fires once per transition away from authenticated,
	// and for the initial signed-out state
	OnUnauthenticated func()
	// OnReload fires after sign-out has reset local trust
	OnReload func()
	// OnChange receives every view change
	OnChange func(GateView)
}

// CredentialGate manages sign-in, sign-up and sign-out against the identity provider
type CredentialGate struct {
	provider IdentityProvider
	pins     PinResetter
	hooks    GateHooks

	mu          sync.Mutex
	state       AuthState
	known       bool
	credential  *models.Credential
	errMsg      string
	unsubscribe func()
}

// NewCredentialGate creates a gate in the unauthenticated state
func NewCredentialGate(provider IdentityProvider, pins PinResetter, hooks GateHooks) *CredentialGate {
	return &CredentialGate{
		provider: provider,
		pins:     pins,
		hooks:    hooks,
		state:    AuthUnauthenticated,
	}
}

// Initialize registers with the provider's auth-state stream. It is safe to call more than once.
func (g *CredentialGate) Initialize(ctx context.Context) error {
	g.mu.Lock()
	if g.unsubscribe != nil {
		g.mu.Unlock()
		return nil
	}
	g.unsubscribe = func() {}
	g.mu.Unlock()

	unsubscribe := g.provider.OnAuthStateChanged(g.handleAuthState)

	g.mu.Lock()
	g.unsubscribe = unsubscribe
	g.mu.Unlock()

	log.Info().Msg("Credential gate initialized")
	return nil
}

// Close detaches from the provider
func (g *CredentialGate) Close() {
	g.mu.Lock()
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (g *CredentialGate) handleAuthState(cred *models.Credential) {
	g.mu.Lock()
	wasAuthenticated := g.state == AuthAuthenticated
	first := !g.known
	g.known = true

	var authenticated, unauthenticated bool
	if cred != nil && cred.Authenticated {
		c := *cred
		g.credential = &c
		g.state = AuthAuthenticated
		g.errMsg = ""
		authenticated = !wasAuthenticated
	} else {
		g.credential = nil
		if g.state != AuthAuthenticating {
			g.state = AuthUnauthenticated
		}
		unauthenticated = wasAuthenticated || first
	}
	view := g.viewLocked()
	g.mu.Unlock()

	if authenticated {
		log.Info().Str("identifier", cred.Identifier).Msg("Authenticated")
		if g.hooks.OnAuthenticated != nil {
			g.hooks.OnAuthenticated(*cred)
		}
	}
	if unauthenticated {
		log.Info().Msg("Not authenticated")
		if g.hooks.OnUnauthenticated != nil {
			g.hooks.OnUnauthenticated()
		}
	}
	g.changed(view)
}

// SignIn signs an existing account in
func (g *CredentialGate) SignIn(ctx context.Context, identifier, secret string) error {
	return g.authenticate(ctx, identifier, secret, false)
}

// SignUp creates an account; secrets shorter than six characters are rejected locally
func (g *CredentialGate) SignUp(ctx context.Context, identifier, secret string) error {
	return g.authenticate(ctx, identifier, secret, true)
}

func (g *CredentialGate) authenticate(ctx context.Context, identifier, secret string, create bool) error {
	g.mu.Lock()
	busy := g.busyLocked()
	g.mu.Unlock()
	if busy != nil {
		return busy
	}

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return g.fail(models.NewAuthError(models.AuthMissingFields, "", nil))
	}
	if create && len(secret) < minSecretLength {
		return g.fail(models.NewAuthError(models.AuthPasswordTooShort, "", nil))
	}

	g.mu.Lock()
	if err := g.busyLocked(); err != nil {
		g.mu.Unlock()
		return err
	}
	g.state = AuthAuthenticating
	g.errMsg = ""
	view := g.viewLocked()
	g.mu.Unlock()
	g.changed(view)

	var err error
	if create {
		_, err = g.provider.CreateAccount(ctx, identifier, secret)
	} else {
		_, err = g.provider.SignInWithPassword(ctx, identifier, secret)
	}
	if err != nil {
		var authErr *models.AuthError
		if !errors.As(err, &authErr) {
			authErr = models.NewAuthError(models.AuthGeneric, "", err)
		}
		log.Warn().Err(err).Str("identifier", identifier).Bool("sign_up", create).Msg("Authentication failed")
		return g.fail(authErr)
	}
	return nil
}

// busyLocked rejects a new attempt while one runs or a session is live
func (g *CredentialGate) busyLocked() error {
	switch g.state {
	case AuthAuthenticating:
		return ErrAuthInProgress
	case AuthAuthenticated:
		return ErrAlreadyAuthenticated
	}
	return nil
}

// fail returns the gate to unauthenticated with the error's message
func (g *CredentialGate) fail(authErr *models.AuthError) error {
	g.mu.Lock()
	if g.state != AuthAuthenticated {
		g.state = AuthUnauthenticated
	}
	g.errMsg = authErr.Message()
	view := g.viewLocked()
	g.mu.Unlock()

	g.changed(view)
	return authErr
}

// SignOut signs out, removes the local PIN and triggers a reload
func (g *CredentialGate) SignOut(ctx context.Context) error {
	if err := g.provider.SignOut(ctx); err != nil {
		log.Error().Err(err).Msg("Sign out failed")
		return fmt.Errorf("failed to sign out: %w", err)
	}
	if err := g.pins.DeletePinRecord(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to remove PIN on sign out")
	}
	log.Info().Msg("Signed out, local PIN removed")

	if g.hooks.OnReload != nil {
		g.hooks.OnReload()
	}
	return nil
}

// View returns the current state of the gate
func (g *CredentialGate) View() GateView {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.viewLocked()
}

// Credential returns the signed-in credential, or nil
func (g *CredentialGate) Credential() *models.Credential {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.credential == nil {
		return nil
	}
	c := *g.credential
	return &c
}

func (g *CredentialGate) viewLocked() GateView {
	v := GateView{State: g.state, Error: g.errMsg}
	if g.credential != nil {
		v.Identifier = g.credential.Identifier
	}
	return v
}

func (g *CredentialGate) changed(v GateView) {
	if g.hooks.OnChange != nil {
		g.hooks.OnChange(v)
	}
}
