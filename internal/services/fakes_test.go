package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/models"
	"github.com/Jakob98-code/distance-tracker/internal/syncstore"
)

const (
	testWait = time.Second
	testTick = 5 * time.Millisecond
)

// memoryLocal is an in-memory LocalState
type memoryLocal struct {
	mu       sync.Mutex
	pin      *models.PinRecord
	lockout  *models.LockoutState
	settings *models.AppSettings
	// settingsErr fails AppSettings reads
	settingsErr error
}

func (m *memoryLocal) PinRecord(ctx context.Context) (*models.PinRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pin == nil {
		return nil, nil
	}
	rec := *m.pin
	return &rec, nil
}

func (m *memoryLocal) SavePinRecord(ctx context.Context, rec models.PinRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pin = &rec
	return nil
}

func (m *memoryLocal) DeletePinRecord(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pin = nil
	return nil
}

func (m *memoryLocal) Lockout(ctx context.Context) (*models.LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockout == nil {
		return nil, nil
	}
	l := *m.lockout
	return &l, nil
}

func (m *memoryLocal) SaveLockout(ctx context.Context, state models.LockoutState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockout = &state
	return nil
}

func (m *memoryLocal) ClearLockout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockout = nil
	return nil
}

func (m *memoryLocal) AppSettings(ctx context.Context) (*models.AppSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settingsErr != nil {
		return nil, m.settingsErr
	}
	if m.settings == nil {
		return nil, nil
	}
	s := *m.settings
	return &s, nil
}

func (m *memoryLocal) SaveAppSettings(ctx context.Context, settings models.AppSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &settings
	return nil
}

func (m *memoryLocal) failSettings(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settingsErr = err
}

func (m *memoryLocal) pinRecord() *models.PinRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pin
}

func (m *memoryLocal) lockoutState() *models.LockoutState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockout
}

// fakeClock is a settable clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memoryStore is a synchronous in-memory syncstore.Store
type memoryStore struct {
	mu       sync.Mutex
	values   map[string]syncstore.Snapshot
	watches  map[int]memoryWatch
	conns    map[int]func(models.Connectivity)
	nextID   int
	setErr   error
	sets     int
	conn     models.Connectivity
	lastPath string
}

type memoryWatch struct {
	path string
	fn   func(syncstore.Snapshot)
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		values:  make(map[string]syncstore.Snapshot),
		watches: make(map[int]memoryWatch),
		conns:   make(map[int]func(models.Connectivity)),
		conn:    models.Connected,
	}
}

func (m *memoryStore) Set(ctx context.Context, path string, value []byte) error {
	parent, key, err := syncstore.SplitPath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.setErr != nil {
		err := m.setErr
		m.mu.Unlock()
		return err
	}
	m.sets++
	m.lastPath = path
	if m.values[parent] == nil {
		m.values[parent] = make(syncstore.Snapshot)
	}
	m.values[parent][key] = value
	var fns []func(syncstore.Snapshot)
	for _, w := range m.watches {
		if w.path == parent {
			fns = append(fns, w.fn)
		}
	}
	snap := m.copyLocked(parent)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
	return nil
}

func (m *memoryStore) copyLocked(parent string) syncstore.Snapshot {
	out := make(syncstore.Snapshot)
	for k, v := range m.values[parent] {
		out[k] = v
	}
	return out
}

func (m *memoryStore) Watch(path string, fn func(syncstore.Snapshot)) (syncstore.Subscription, error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watches[id] = memoryWatch{path: path, fn: fn}
	snap := m.copyLocked(path)
	m.mu.Unlock()

	fn(snap)
	return unsubscribeFunc(func() {
		m.mu.Lock()
		delete(m.watches, id)
		m.mu.Unlock()
	}), nil
}

func (m *memoryStore) WatchConnectivity(fn func(models.Connectivity)) syncstore.Subscription {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.conns[id] = fn
	state := m.conn
	m.mu.Unlock()

	fn(state)
	return unsubscribeFunc(func() {
		m.mu.Lock()
		delete(m.conns, id)
		m.mu.Unlock()
	})
}

func (m *memoryStore) setConnectivity(c models.Connectivity) {
	m.mu.Lock()
	m.conn = c
	var fns []func(models.Connectivity)
	for _, fn := range m.conns {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (m *memoryStore) watchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches) + len(m.conns)
}

func (m *memoryStore) setCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

func (m *memoryStore) Close() error { return nil }

type unsubscribeFunc func()

func (f unsubscribeFunc) Unsubscribe() { f() }

// fakeResolver returns a fixed city or error
type fakeResolver struct {
	city string
	err  error
}

func (r fakeResolver) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	return r.city, r.err
}

var errResolver = errors.New("resolver down")

// recordingMap captures rendered pairs
type recordingMap struct {
	mu    sync.Mutex
	pairs [][2]models.LocationRecord
}

func (r *recordingMap) RenderPair(a, b models.LocationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs = append(r.pairs, [2]models.LocationRecord{a, b})
}

func (r *recordingMap) rendered() [][2]models.LocationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]models.LocationRecord(nil), r.pairs...)
}

// recordingEvents captures broadcast dashboard events
type recordingEvents struct {
	mu   sync.Mutex
	msgs []WSMessage
}

func (r *recordingEvents) Broadcast(msg WSMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingEvents) ofType(kind string) []WSMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WSMessage
	for _, m := range r.msgs {
		if m.Type == kind {
			out = append(out, m)
		}
	}
	return out
}

// fakeProvider is a synchronous IdentityProvider
type fakeProvider struct {
	mu        sync.Mutex
	current   *models.Credential
	listeners map[int]func(*models.Credential)
	nextID    int
	err       error
	calls     int
	signOuts  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{listeners: make(map[int]func(*models.Credential))}
}

func (p *fakeProvider) signIn(identifier string) (*models.Credential, error) {
	p.mu.Lock()
	p.calls++
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return nil, err
	}
	p.current = &models.Credential{Identifier: identifier, UserID: "uid-" + identifier, Authenticated: true}
	cred := *p.current
	p.mu.Unlock()

	p.emit()
	return &cred, nil
}

func (p *fakeProvider) SignInWithPassword(ctx context.Context, identifier, secret string) (*models.Credential, error) {
	return p.signIn(identifier)
}

func (p *fakeProvider) CreateAccount(ctx context.Context, identifier, secret string) (*models.Credential, error) {
	return p.signIn(identifier)
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.signOuts++
	p.mu.Unlock()
	p.emit()
	return nil
}

func (p *fakeProvider) OnAuthStateChanged(fn func(*models.Credential)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	cur := p.current
	p.mu.Unlock()

	fn(cur)
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// expire simulates a failed session refresh
func (p *fakeProvider) expire() {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	p.emit()
}

func (p *fakeProvider) emit() {
	p.mu.Lock()
	cur := p.current
	fns := make([]func(*models.Credential), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(cur)
	}
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
