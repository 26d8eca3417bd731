// Package identity adapts a managed identity provider to the credential gate.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultRefreshLead = 5 * time.Minute

// SessionStore persists the provider session between runs
type SessionStore interface {
	AuthSession(ctx context.Context) ([]byte, error)
	SaveAuthSession(ctx context.Context, data []byte) error
	ClearAuthSession(ctx context.Context) error
}

// FirebaseOptions configures the Identity Toolkit client
type FirebaseOptions struct {
	APIKey        string
	Endpoint      string
	TokenEndpoint string
	Timeout       time.Duration
	// RefreshLead is how long before expiry the ID token is refreshed
	RefreshLead time.Duration
}

type session struct {
	Email        string    `json:"email"`
	UserID       string    `json:"localId"`
	IDToken      string    `json:"idToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// FirebaseProvider signs users in with email and password through the
// Identity Toolkit REST API and keeps the session fresh with the Secure Token API
type FirebaseProvider struct {
	apiKey        string
	endpoint      string
	tokenEndpoint string
	refreshLead   time.Duration
	httpClient    *http.Client
	store         SessionStore
	now           func() time.Time

	mu        sync.Mutex
	session   *session
	timer     *time.Timer
	listeners map[string]func(*models.Credential)

	// notifyMu keeps deliveries ordered; listeners must not call back into the provider
	notifyMu sync.Mutex
}

// NewFirebaseProvider creates a provider backed by store
func NewFirebaseProvider(opts FirebaseOptions, store SessionStore) *FirebaseProvider {
	lead := opts.RefreshLead
	if lead == 0 {
		lead = defaultRefreshLead
	}
	return &FirebaseProvider{
		apiKey:        opts.APIKey,
		endpoint:      strings.TrimRight(opts.Endpoint, "/"),
		tokenEndpoint: strings.TrimRight(opts.TokenEndpoint, "/"),
		refreshLead:   lead,
		httpClient:    &http.Client{Timeout: opts.Timeout},
		store:         store,
		now:           time.Now,
		listeners:     make(map[string]func(*models.Credential)),
	}
}

// Restore loads a persisted session; an expired one is refreshed or dropped
func (p *FirebaseProvider) Restore(ctx context.Context) error {
	data, err := p.store.AuthSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to load auth session: %w", err)
	}
	if data == nil {
		return nil
	}

	var s session
	if err := json.Unmarshal(data, &s); err != nil || s.RefreshToken == "" {
		log.Warn().Err(err).Msg("Discarding unreadable auth session")
		return p.store.ClearAuthSession(ctx)
	}

	if !p.now().Before(s.ExpiresAt) {
		refreshed, err := p.refresh(ctx, s)
		if err != nil {
			log.Warn().Err(err).Str("email", s.Email).Msg("Stored session expired and could not be refreshed")
			return p.store.ClearAuthSession(ctx)
		}
		s = *refreshed
		if err := p.persist(ctx, &s); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.session = &s
	p.scheduleLocked()
	p.mu.Unlock()

	log.Info().Str("email", s.Email).Time("expires_at", s.ExpiresAt).Msg("Auth session restored")
	p.notify()
	return nil
}

// SignInWithPassword signs an existing account in
func (p *FirebaseProvider) SignInWithPassword(ctx context.Context, email, password string) (*models.Credential, error) {
	return p.passwordCall(ctx, "accounts:signInWithPassword", email, password)
}

// CreateAccount registers a new account and signs it in
func (p *FirebaseProvider) CreateAccount(ctx context.Context, email, password string) (*models.Credential, error) {
	return p.passwordCall(ctx, "accounts:signUp", email, password)
}

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type passwordResponse struct {
	IDToken      string `json:"idToken"`
	Email        string `json:"email"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *FirebaseProvider) passwordCall(ctx context.Context, method, email, password string) (*models.Credential, error) {
	body, err := json.Marshal(passwordRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return nil, models.NewAuthError(models.AuthGeneric, "", err)
	}

	u := p.endpoint + "/" + method + "?key=" + url.QueryEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, models.NewAuthError(models.AuthGeneric, "", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out passwordResponse
	if err := p.do(req, &out); err != nil {
		return nil, err
	}

	s := &session{
		Email:        out.Email,
		UserID:       out.LocalID,
		IDToken:      out.IDToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    p.expiry(out.IDToken, out.ExpiresIn),
	}
	if s.Email == "" {
		s.Email = email
	}
	if err := p.persist(ctx, s); err != nil {
		log.Error().Err(err).Msg("Failed to persist auth session")
	}

	p.mu.Lock()
	p.session = s
	p.scheduleLocked()
	p.mu.Unlock()

	log.Info().Str("email", s.Email).Str("method", method).Msg("Identity provider sign-in succeeded")
	p.notify()
	return credentialFor(s), nil
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

func (p *FirebaseProvider) refresh(ctx context.Context, s session) (*session, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", s.RefreshToken)

	u := p.tokenEndpoint + "/token?key=" + url.QueryEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out refreshResponse
	if err := p.do(req, &out); err != nil {
		return nil, err
	}

	s.IDToken = out.IDToken
	if out.RefreshToken != "" {
		s.RefreshToken = out.RefreshToken
	}
	if out.UserID != "" {
		s.UserID = out.UserID
	}
	s.ExpiresAt = p.expiry(out.IDToken, out.ExpiresIn)
	return &s, nil
}

func (p *FirebaseProvider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.NewAuthError(models.AuthGeneric, "", fmt.Errorf("identity request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			return models.NewAuthError(models.AuthGeneric, "", fmt.Errorf("identity provider returned status %d", resp.StatusCode))
		}
		code := providerCode(e.Error.Message)
		return models.NewAuthError(classify(code), code, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return models.NewAuthError(models.AuthGeneric, "", fmt.Errorf("failed to decode identity response: %w", err))
	}
	return nil
}

// expiry prefers the exp claim of the ID token and falls back to expiresIn
func (p *FirebaseProvider) expiry(idToken, expiresIn string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if secs, err := strconv.Atoi(expiresIn); err == nil {
		return p.now().Add(time.Duration(secs) * time.Second)
	}
	return p.now().Add(time.Hour)
}

func (p *FirebaseProvider) persist(ctx context.Context, s *session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal auth session: %w", err)
	}
	if err := p.store.SaveAuthSession(ctx, data); err != nil {
		return fmt.Errorf("failed to save auth session: %w", err)
	}
	return nil
}

// scheduleLocked arms the refresh timer for the current session; p.mu must be held
func (p *FirebaseProvider) scheduleLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.session == nil {
		return
	}
	delay := p.session.ExpiresAt.Sub(p.now()) - p.refreshLead
	if delay < 0 {
		delay = 0
	}
	current := p.session
	p.timer = time.AfterFunc(delay, func() { p.refreshScheduled(current) })
}

func (p *FirebaseProvider) refreshScheduled(s *session) {
	ctx, cancel := context.WithTimeout(context.Background(), p.httpClient.Timeout+time.Second)
	defer cancel()

	refreshed, err := p.refresh(ctx, *s)

	p.mu.Lock()
	if p.session != s {
		// signed out or replaced while refreshing
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.session = nil
		p.timer = nil
		p.mu.Unlock()

		log.Warn().Err(err).Str("email", s.Email).Msg("Session refresh failed, signing out")
		if err := p.store.ClearAuthSession(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to clear auth session")
		}
		p.notify()
		return
	}
	p.session = refreshed
	p.scheduleLocked()
	p.mu.Unlock()

	if err := p.persist(ctx, refreshed); err != nil {
		log.Error().Err(err).Msg("Failed to persist refreshed auth session")
	}
	log.Debug().Str("email", refreshed.Email).Time("expires_at", refreshed.ExpiresAt).Msg("Session refreshed")
}

// SignOut drops the session locally; the provider has no server-side sign-out
func (p *FirebaseProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.session = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	if err := p.store.ClearAuthSession(ctx); err != nil {
		return fmt.Errorf("failed to clear auth session: %w", err)
	}
	p.notify()
	return nil
}

// Current returns the signed-in credential or nil
func (p *FirebaseProvider) Current() *models.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	return credentialFor(p.session)
}

// OnAuthStateChanged registers fn and delivers the current state immediately.
// Every later sign-in, sign-out or failed refresh is delivered as well.
func (p *FirebaseProvider) OnAuthStateChanged(fn func(*models.Credential)) func() {
	id := uuid.New().String()

	p.notifyMu.Lock()
	p.mu.Lock()
	p.listeners[id] = fn
	p.mu.Unlock()
	fn(p.Current())
	p.notifyMu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *FirebaseProvider) notify() {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	var cred *models.Credential
	if p.session != nil {
		cred = credentialFor(p.session)
	}
	fns := make([]func(*models.Credential), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(cred)
	}
}

// Close stops the refresh timer
func (p *FirebaseProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func credentialFor(s *session) *models.Credential {
	return &models.Credential{
		Identifier:    s.Email,
		UserID:        s.UserID,
		Authenticated: true,
	}
}

// providerCode strips the human-readable suffix, e.g. "WEAK_PASSWORD : Password should be..."
func providerCode(message string) string {
	code, _, _ := strings.Cut(message, " ")
	return strings.TrimSpace(code)
}

func classify(code string) models.AuthErrorKind {
	switch code {
	case "EMAIL_EXISTS":
		return models.AuthEmailInUse
	case "EMAIL_NOT_FOUND":
		return models.AuthAccountNotFound
	case "INVALID_PASSWORD":
		return models.AuthWrongPassword
	case "INVALID_LOGIN_CREDENTIALS", "INVALID_REFRESH_TOKEN", "TOKEN_EXPIRED":
		return models.AuthInvalidCredentials
	case "WEAK_PASSWORD":
		return models.AuthWeakPassword
	case "INVALID_EMAIL", "MISSING_EMAIL":
		return models.AuthInvalidEmail
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return models.AuthRateLimited
	case "MISSING_PASSWORD":
		return models.AuthMissingFields
	default:
		return models.AuthGeneric
	}
}
