package geolocation

import (
	"context"
	"sync"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/models"
)

type watcher struct {
	out  chan Sample
	kick chan struct{}
}

// FeedSource is a Source whose fixes are pushed in from outside, typically by
// the dashboard browser relaying navigator.geolocation results
type FeedSource struct {
	mu       sync.Mutex
	last     *models.Position
	event    Sample
	updated  chan struct{}
	watchers map[*watcher]struct{}
	now      func() time.Time
}

// NewFeedSource creates an empty feed
func NewFeedSource() *FeedSource {
	return &FeedSource{
		updated:  make(chan struct{}),
		watchers: make(map[*watcher]struct{}),
		now:      time.Now,
	}
}

// Push records a new fix and delivers it to every watcher
func (f *FeedSource) Push(pos models.Position) {
	if pos.AcquiredAt.IsZero() {
		pos.AcquiredAt = f.now()
	}
	f.publish(Sample{Position: pos})
}

// PushError delivers a sampling failure to every watcher and pending Current call
func (f *FeedSource) PushError(code ErrorCode, message string) {
	f.publish(Sample{Err: &PositionError{Code: code, Message: message}})
}

func (f *FeedSource) publish(s Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s.Err == nil {
		pos := s.Position
		f.last = &pos
	}
	f.event = s
	close(f.updated)
	f.updated = make(chan struct{})

	for w := range f.watchers {
		offer(w.out, s)
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

func (f *FeedSource) fresh(maxAge time.Duration) (models.Position, bool) {
	if f.last == nil {
		return models.Position{}, false
	}
	if f.now().Sub(f.last.AcquiredAt) > maxAge {
		return models.Position{}, false
	}
	return *f.last, true
}

// Current returns a cached fix younger than opts.MaximumAge, or waits for the
// next pushed fix for at most opts.Timeout
func (f *FeedSource) Current(ctx context.Context, opts Options) (models.Position, error) {
	f.mu.Lock()
	if pos, ok := f.fresh(opts.MaximumAge); ok {
		f.mu.Unlock()
		return pos, nil
	}
	updated := f.updated
	f.mu.Unlock()

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-updated:
		f.mu.Lock()
		event := f.event
		f.mu.Unlock()
		if event.Err != nil {
			return models.Position{}, event.Err
		}
		return event.Position, nil
	case <-timeout:
		return models.Position{}, &PositionError{Code: Timeout, Message: "no position within timeout"}
	case <-ctx.Done():
		return models.Position{}, ctx.Err()
	}
}

// Watch delivers every pushed fix until ctx is cancelled. A fix younger than
// opts.MaximumAge is delivered immediately; a Timeout sample is emitted when
// no fix arrives within opts.Timeout.
func (f *FeedSource) Watch(ctx context.Context, opts Options) (<-chan Sample, error) {
	w := &watcher{
		out:  make(chan Sample, 1),
		kick: make(chan struct{}, 1),
	}

	f.mu.Lock()
	f.watchers[w] = struct{}{}
	if pos, ok := f.fresh(opts.MaximumAge); ok {
		offer(w.out, Sample{Position: pos})
	}
	f.mu.Unlock()

	go f.supervise(ctx, w, opts.Timeout)
	return w.out, nil
}

func (f *FeedSource) supervise(ctx context.Context, w *watcher, timeout time.Duration) {
	defer func() {
		f.mu.Lock()
		delete(f.watchers, w)
		close(w.out)
		f.mu.Unlock()
	}()

	var timer *time.Timer
	var expired <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(timeout)
			}
		case <-expired:
			f.mu.Lock()
			offer(w.out, Sample{Err: &PositionError{Code: Timeout, Message: "no position within timeout"}})
			f.mu.Unlock()
			timer.Reset(timeout)
		}
	}
}

// offer replaces any undelivered sample with s
func offer(ch chan Sample, s Sample) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
