package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/config"
	"github.com/Jakob98-code/distance-tracker/internal/geolocation"
	"github.com/Jakob98-code/distance-tracker/internal/models"
	"github.com/Jakob98-code/distance-tracker/internal/syncstore"

	"github.com/rs/zerolog/log"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrLocked           = errors.New("app is locked")
)

const pinLoadTimeout = 5 * time.Second

// LocalState is the device-local persisted state the app needs
type LocalState interface {
	PinStore
	AppSettings(ctx context.Context) (*models.AppSettings, error)
	SaveAppSettings(ctx context.Context, settings models.AppSettings) error
}

// AppDeps wires the app to its collaborators. Resolver, Source, Events and Map may be nil.
type AppDeps struct {
	Provider IdentityProvider
	Local    LocalState
	Store    syncstore.Store
	Resolver PlaceResolver
	Source   geolocation.Source
	Events   Broadcaster
	Map      MapView
	// Defaults seed the settings until the user saves their own
	Defaults models.AppSettings
	Now      func() time.Time
}

type appSession struct {
	settings     models.AppSettings
	engine       *LocationSyncEngine
	tracker      *Tracker
	subs         []syncstore.Subscription
	connectivity models.Connectivity
}

// App drives the flow: credential gate, then PIN lock, then the unlocked session
type App struct {
	deps AppDeps
	gate *CredentialGate

	mu      sync.Mutex
	pin     *PinLock
	session *appSession
}

// NewApp creates the app; call Start to attach to the identity provider
func NewApp(deps AppDeps) *App {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	a := &App{deps: deps}
	a.gate = NewCredentialGate(deps.Provider, deps.Local, GateHooks{
		OnAuthenticated:   func(models.Credential) { a.relock() },
		OnUnauthenticated: a.signedOut,
		OnReload:          a.Reload,
		OnChange:          func(v GateView) { a.emit(EventAuthState, v) },
	})
	return a
}

// Start attaches the gate to the identity provider's auth-state stream
func (a *App) Start(ctx context.Context) error {
	return a.gate.Initialize(ctx)
}

// Gate returns the credential gate
func (a *App) Gate() *CredentialGate {
	return a.gate
}

// relock shows a fresh PIN lock for the signed-in user and ends any session
func (a *App) relock() {
	ctx, cancel := context.WithTimeout(context.Background(), pinLoadTimeout)
	defer cancel()

	var pl *PinLock
	pl, err := NewPinLock(ctx, a.deps.Local, func() { a.unlocked(pl) }, WithClock(a.deps.Now))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create PIN lock")
		a.emit(EventError, map[string]string{"message": "Failed to load PIN state"})
		return
	}

	a.mu.Lock()
	old := a.session
	a.session = nil
	a.pin = pl
	a.mu.Unlock()

	a.teardown(old)
	a.emit(EventPinState, pl.View())
}

func (a *App) signedOut() {
	a.mu.Lock()
	old := a.session
	a.session = nil
	a.pin = nil
	a.mu.Unlock()

	a.teardown(old)
}

// Reload ends the session and re-locks, as a full page reload would
func (a *App) Reload() {
	if a.gate.Credential() != nil {
		a.relock()
		return
	}
	a.signedOut()
}

func (a *App) unlocked(pl *PinLock) {
	ctx, cancel := context.WithTimeout(context.Background(), pinLoadTimeout)
	defer cancel()

	settings, err := a.Settings(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load settings for session")
		a.emit(EventError, map[string]string{"message": "Failed to load settings"})
		a.mu.Lock()
		current := a.pin == pl
		a.mu.Unlock()
		if current {
			a.relock()
		}
		return
	}

	s := &appSession{settings: settings, connectivity: models.Disconnected}
	s.engine = NewLocationSyncEngine(a.deps.Store, a.deps.Resolver, a.deps.Map, settings)
	s.tracker = NewTracker(a.deps.Source, s.engine, func(active bool) {
		a.emit(EventTracking, map[string]bool{"active": active})
	})

	a.mu.Lock()
	if a.pin != pl || a.session != nil {
		a.mu.Unlock()
		return
	}
	a.session = s
	a.mu.Unlock()

	locations, err := s.engine.SubscribeToLocations(func(u LocationUpdate) {
		a.locationsChanged(settings, u)
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to subscribe to locations")
		a.emit(EventError, map[string]string{"message": "Failed to subscribe to locations"})
	}
	connectivity := s.engine.SubscribeToConnectivity(func(c models.Connectivity) {
		a.mu.Lock()
		s.connectivity = c
		a.mu.Unlock()
		a.emit(EventConnectivity, map[string]models.Connectivity{"state": c})
	})

	a.mu.Lock()
	if locations != nil {
		s.subs = append(s.subs, locations)
	}
	s.subs = append(s.subs, connectivity)
	stale := a.session != s
	a.mu.Unlock()

	// torn down while subscribing
	if stale {
		a.teardown(s)
		return
	}

	log.Info().
		Str("couple_id", settings.CoupleID).
		Str("who_am_i", string(settings.WhoAmI)).
		Msg("Session started")
}

func (a *App) teardown(s *appSession) {
	if s == nil {
		return
	}

	a.mu.Lock()
	subs := s.subs
	s.subs = nil
	a.mu.Unlock()

	s.tracker.StopTracking()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	log.Info().Msg("Session ended")
}

func (a *App) locationsChanged(settings models.AppSettings, u LocationUpdate) {
	for _, msg := range locationMessages(settings, u, a.deps.Now()) {
		a.emit(msg.Type, msg.Data)
	}
}

// locationMessages renders one location event per present slot and the distance
func locationMessages(settings models.AppSettings, u LocationUpdate, now time.Time) []WSMessage {
	var msgs []WSMessage
	for _, slot := range []models.Slot{models.SlotA, models.SlotB} {
		rec := u.Pair.Get(slot)
		if rec == nil {
			continue
		}
		msgs = append(msgs, WSMessage{Type: EventLocation, Data: map[string]any{
			"slot":     slot,
			"name":     settings.Name(slot),
			"record":   rec,
			"coords":   fmt.Sprintf("%.4f, %.4f", rec.Lat, rec.Lon),
			"time_ago": TimeAgo(rec.Timestamp, now),
		}})
	}
	if u.Distance != nil {
		msgs = append(msgs, WSMessage{Type: EventDistance, Data: map[string]any{
			"km":    u.Distance.Km,
			"label": FormatDistance(u.Distance.Km),
		}})
	}
	return msgs
}

// Authenticated reports whether a user is signed in
func (a *App) Authenticated() bool {
	return a.gate.Credential() != nil
}

// Unlocked reports whether the PIN was entered and a session is running
func (a *App) Unlocked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

// PinView returns the keypad state
func (a *App) PinView() (PinView, error) {
	a.mu.Lock()
	pl := a.pin
	a.mu.Unlock()

	if pl == nil {
		return PinView{}, ErrNotAuthenticated
	}
	return pl.View(), nil
}

// PressPin forwards keypad keys to the PIN lock and stops at the first error
func (a *App) PressPin(ctx context.Context, keys ...string) (PinView, error) {
	a.mu.Lock()
	pl := a.pin
	a.mu.Unlock()

	if pl == nil {
		return PinView{}, ErrNotAuthenticated
	}

	view := pl.View()
	var err error
	for _, key := range keys {
		view, err = pl.Press(ctx, key)
		if err != nil {
			break
		}
	}

	// the lock is replaced when a session fails to start
	a.mu.Lock()
	if a.pin != nil && a.pin != pl {
		view = a.pin.View()
	}
	a.mu.Unlock()
	a.emit(EventPinState, view)
	return view, err
}

func (a *App) current() (*appSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		if a.pin == nil {
			return nil, ErrNotAuthenticated
		}
		return nil, ErrLocked
	}
	return a.session, nil
}

// UpdateLocationNow takes one fix and publishes it
func (a *App) UpdateLocationNow(ctx context.Context) (*models.LocationRecord, error) {
	s, err := a.current()
	if err != nil {
		return nil, err
	}
	pos, err := s.tracker.GetCurrentLocationOnce(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current location: %w", err)
	}
	return s.engine.PublishMyLocation(ctx, pos.Lat, pos.Lon)
}

// StartTracking starts continuous publishing
func (a *App) StartTracking() error {
	s, err := a.current()
	if err != nil {
		return err
	}
	return s.tracker.StartTracking()
}

// StopTracking stops continuous publishing
func (a *App) StopTracking() error {
	s, err := a.current()
	if err != nil {
		return err
	}
	s.tracker.StopTracking()
	return nil
}

// IsTracking reports whether continuous publishing is active
func (a *App) IsTracking() bool {
	s, err := a.current()
	if err != nil {
		return false
	}
	return s.tracker.IsTracking()
}

// Locations returns the latest pair delivered to the session
func (a *App) Locations() (LocationUpdate, error) {
	s, err := a.current()
	if err != nil {
		return LocationUpdate{}, err
	}
	return s.engine.Latest(), nil
}

// Settings returns the saved settings, or the configured defaults
func (a *App) Settings(ctx context.Context) (models.AppSettings, error) {
	saved, err := a.deps.Local.AppSettings(ctx)
	if err != nil {
		return models.AppSettings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if saved == nil {
		return config.NormalizeSettings(a.deps.Defaults), nil
	}
	return config.NormalizeSettings(*saved), nil
}

// SaveSettings validates and stores settings, then reloads so the new namespace takes effect
func (a *App) SaveSettings(ctx context.Context, settings models.AppSettings) (models.AppSettings, error) {
	settings = config.NormalizeSettings(settings)
	if err := config.ValidateSettings(settings); err != nil {
		return models.AppSettings{}, err
	}
	if err := a.deps.Local.SaveAppSettings(ctx, settings); err != nil {
		return models.AppSettings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	log.Info().Str("couple_id", settings.CoupleID).Str("who_am_i", string(settings.WhoAmI)).Msg("Settings saved")

	a.Reload()
	return settings, nil
}

// Counters holds the relationship day counters
type Counters struct {
	DaysTogether *int   `json:"days_together,omitempty"`
	DaysUntil    *int   `json:"days_until_meet,omitempty"`
	MeetLabel    string `json:"meet_label,omitempty"`
}

// Counters computes the day counters from settings
func (a *App) Counters(settings models.AppSettings) Counters {
	now := a.deps.Now()
	var c Counters
	if settings.RelationshipStart != "" {
		if n, err := DaysTogether(settings.RelationshipStart, now); err == nil {
			c.DaysTogether = &n
		}
	}
	if settings.NextMeetDate != "" {
		if n, err := DaysUntilMeet(settings.NextMeetDate, now); err == nil {
			c.DaysUntil = &n
			c.MeetLabel = MeetLabel(n)
		}
	}
	return c
}

// Snapshot returns the events a freshly connected dashboard needs
func (a *App) Snapshot() []WSMessage {
	msgs := []WSMessage{{Type: EventAuthState, Data: a.gate.View()}}

	a.mu.Lock()
	pl := a.pin
	s := a.session
	var conn models.Connectivity
	if s != nil {
		conn = s.connectivity
	}
	a.mu.Unlock()

	if pl != nil {
		msgs = append(msgs, WSMessage{Type: EventPinState, Data: pl.View()})
	}
	if s != nil {
		msgs = append(msgs,
			WSMessage{Type: EventConnectivity, Data: map[string]models.Connectivity{"state": conn}},
			WSMessage{Type: EventTracking, Data: map[string]bool{"active": s.tracker.IsTracking()}},
		)
		msgs = append(msgs, locationMessages(s.settings, s.engine.Latest(), a.deps.Now())...)
	}
	return msgs
}

// Close ends the session and detaches from the identity provider
func (a *App) Close() {
	a.gate.Close()
	a.signedOut()
}

func (a *App) emit(kind string, data any) {
	if a.deps.Events == nil {
		return
	}
	a.deps.Events.Broadcast(WSMessage{Type: kind, Data: data})
}
