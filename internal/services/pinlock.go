package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	PinLength       = 4
	MaxPinAttempts  = 5
	LockoutDuration = 15 * time.Minute

	// pinSalt is fixed application-wide; the digest deters casual tampering only,
	// a 4-digit space is trivially brute-forced offline
	pinSalt = "distance-salt-2025"

	// DeleteKey removes the last entered digit
	DeleteKey = "delete"
)

var (
	ErrPinMismatch   = errors.New("PINs don't match. Try again.")
	ErrLockoutActive = errors.New("too many attempts, PIN entry locked")
	ErrInvalidKey    = errors.New("invalid PIN key")
)

// IncorrectPinError is returned for a wrong PIN that did not trigger a lockout
type IncorrectPinError struct {
	AttemptsLeft int
}

func (e *IncorrectPinError) Error() string {
	return fmt.Sprintf("Incorrect PIN. %d attempts left.", e.AttemptsLeft)
}

// PinStore persists the PIN digest and the lockout deadline
type PinStore interface {
	PinRecord(ctx context.Context) (*models.PinRecord, error)
	SavePinRecord(ctx context.Context, rec models.PinRecord) error
	DeletePinRecord(ctx context.Context) error
	Lockout(ctx context.Context) (*models.LockoutState, error)
	SaveLockout(ctx context.Context, state models.LockoutState) error
	ClearLockout(ctx context.Context) error
}

// PinState is the state of the PIN lock
type PinState string

const (
	PinSetup        PinState = "setup"
	PinSetupConfirm PinState = "setup_confirm"
	PinLockedOut    PinState = "locked_out"
	PinUnlock       PinState = "unlock"
	PinUnlocked     PinState = "unlocked"
)

// PinView is what a keypad renderer needs to draw the lock screen
type PinView struct {
	State       PinState   `json:"state"`
	Entered     int        `json:"entered"`
	Title       string     `json:"title"`
	Subtitle    string     `json:"subtitle"`
	Error       string     `json:"error,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// PinOption configures a PinLock
type PinOption func(*PinLock)

// WithClock replaces time.Now
func WithClock(now func() time.Time) PinOption {
	return func(p *PinLock) {
		p.now = now
	}
}

// PinLock is the local PIN state machine: setup, confirmation, unlock and lockout
type PinLock struct {
	store    PinStore
	onUnlock func()
	now      func() time.Time

	mu       sync.Mutex
	state    PinState
	entered  string
	pending  string
	hash     string
	attempts int
	until    time.Time
	errMsg   string
}

// NewPinLock loads the persisted PIN state and picks the initial state
func NewPinLock(ctx context.Context, store PinStore, onUnlock func(), opts ...PinOption) (*PinLock, error) {
	p := &PinLock{
		store:    store,
		onUnlock: onUnlock,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	rec, err := store.PinRecord(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pin record: %w", err)
	}
	lockout, err := store.Lockout(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load lockout state: %w", err)
	}

	if lockout != nil && !lockout.Active(p.now()) {
		if err := store.ClearLockout(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear expired lockout: %w", err)
		}
		lockout = nil
	}

	switch {
	case rec == nil:
		p.state = PinSetup
	case lockout != nil:
		p.hash = rec.Hash
		p.state = PinLockedOut
		p.until = lockout.Until
	default:
		p.hash = rec.Hash
		p.state = PinUnlock
	}

	log.Debug().Str("state", string(p.state)).Msg("PIN lock created")
	return p, nil
}

// Press handles a keypad key: a single digit or DeleteKey
func (p *PinLock) Press(ctx context.Context, key string) (PinView, error) {
	if key == DeleteKey {
		return p.Delete(ctx)
	}
	if len(key) != 1 || key[0] < '0' || key[0] > '9' {
		return p.View(), ErrInvalidKey
	}
	return p.PressDigit(ctx, key[0])
}

// PressDigit appends a digit; the fourth digit completes the entry
func (p *PinLock) PressDigit(ctx context.Context, d byte) (PinView, error) {
	if d < '0' || d > '9' {
		return p.View(), ErrInvalidKey
	}

	p.mu.Lock()
	if err := p.checkLockoutLocked(ctx); err != nil {
		view := p.viewLocked()
		p.mu.Unlock()
		return view, err
	}
	if p.state == PinUnlocked || len(p.entered) >= PinLength {
		view := p.viewLocked()
		p.mu.Unlock()
		return view, nil
	}

	if p.entered == "" {
		p.errMsg = ""
	}
	p.entered += string(d)

	var unlocked bool
	var err error
	if len(p.entered) == PinLength {
		unlocked, err = p.completeLocked(ctx)
	}
	view := p.viewLocked()
	p.mu.Unlock()

	if unlocked && p.onUnlock != nil {
		p.onUnlock()
	}
	return view, err
}

// Delete removes the last entered digit and clears the error message
func (p *PinLock) Delete(ctx context.Context) (PinView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkLockoutLocked(ctx); err != nil {
		return p.viewLocked(), err
	}
	if p.entered != "" {
		p.entered = p.entered[:len(p.entered)-1]
	}
	p.errMsg = ""
	return p.viewLocked(), nil
}

// checkLockoutLocked rejects input during an active lockout and lifts an expired one
func (p *PinLock) checkLockoutLocked(ctx context.Context) error {
	if p.state != PinLockedOut {
		return nil
	}
	if p.now().Before(p.until) {
		return ErrLockoutActive
	}

	if err := p.store.ClearLockout(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to clear expired lockout")
	}
	p.until = time.Time{}
	p.attempts = 0
	p.state = PinUnlock
	p.errMsg = ""
	log.Info().Msg("PIN lockout expired")
	return nil
}

func (p *PinLock) completeLocked(ctx context.Context) (bool, error) {
	entry := p.entered
	p.entered = ""

	switch p.state {
	case PinSetup:
		p.pending = entry
		p.state = PinSetupConfirm
		return false, nil

	case PinSetupConfirm:
		if entry != p.pending {
			p.pending = ""
			p.state = PinSetup
			p.errMsg = ErrPinMismatch.Error()
			return false, ErrPinMismatch
		}
		hash := HashPin(entry)
		if err := p.store.SavePinRecord(ctx, models.PinRecord{Hash: hash}); err != nil {
			return false, fmt.Errorf("failed to save pin: %w", err)
		}
		p.pending = ""
		p.hash = hash
		p.state = PinUnlocked
		log.Info().Msg("PIN created")
		return true, nil

	case PinUnlock:
		if subtle.ConstantTimeCompare([]byte(HashPin(entry)), []byte(p.hash)) == 1 {
			p.attempts = 0
			p.state = PinUnlocked
			log.Info().Msg("PIN unlocked")
			return true, nil
		}

		p.attempts++
		if p.attempts >= MaxPinAttempts {
			p.until = p.now().Add(LockoutDuration)
			p.state = PinLockedOut
			p.errMsg = ""
			if err := p.store.SaveLockout(ctx, models.LockoutState{Until: p.until}); err != nil {
				log.Error().Err(err).Msg("Failed to persist lockout")
			}
			log.Warn().Time("until", p.until).Msg("Too many PIN attempts, locked out")
			return false, ErrLockoutActive
		}
		wrong := &IncorrectPinError{AttemptsLeft: MaxPinAttempts - p.attempts}
		p.errMsg = wrong.Error()
		return false, wrong
	}
	return false, nil
}

// View returns the current keypad state
func (p *PinLock) View() PinView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

// State returns the current state
func (p *PinLock) State() PinState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Attempts returns the number of consecutive wrong unlock attempts
func (p *PinLock) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *PinLock) viewLocked() PinView {
	v := PinView{State: p.state, Entered: len(p.entered), Error: p.errMsg}
	switch p.state {
	case PinSetup:
		v.Title = "Create PIN"
		v.Subtitle = fmt.Sprintf("Choose a %d-digit PIN to protect your app", PinLength)
	case PinSetupConfirm:
		v.Title = "Confirm PIN"
		v.Subtitle = "Enter the PIN again to confirm"
	case PinUnlock:
		v.Title = "Enter PIN"
		v.Subtitle = fmt.Sprintf("Enter your %d-digit PIN to unlock", PinLength)
	case PinLockedOut:
		until := p.until
		v.LockedUntil = &until
		v.Title = "Locked"
		v.Subtitle = fmt.Sprintf("Too many attempts. Try again in %d minutes.", remainingMinutes(until.Sub(p.now())))
	case PinUnlocked:
		v.Title = "Unlocked"
	}
	return v
}

func remainingMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}

// HashPin returns the lowercase hex SHA-256 of the PIN and the application salt
func HashPin(pin string) string {
	sum := sha256.Sum256([]byte(pin + pinSalt))
	return hex.EncodeToString(sum[:])
}
