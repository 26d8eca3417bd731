package geolocation

import (
	"context"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/models"
)

// StaticSource reports a fixed, configured position
type StaticSource struct {
	lat, lon, accuracy float64
	interval           time.Duration
	now                func() time.Time
}

// NewStaticSource creates a source that always reports (lat, lon). Watch
// re-emits the position every interval.
func NewStaticSource(lat, lon, accuracy float64, interval time.Duration) *StaticSource {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StaticSource{lat: lat, lon: lon, accuracy: accuracy, interval: interval, now: time.Now}
}

func (s *StaticSource) position() models.Position {
	return models.Position{Lat: s.lat, Lon: s.lon, Accuracy: s.accuracy, AcquiredAt: s.now()}
}

// Current returns the configured position
func (s *StaticSource) Current(ctx context.Context, opts Options) (models.Position, error) {
	if err := ctx.Err(); err != nil {
		return models.Position{}, err
	}
	return s.position(), nil
}

// Watch emits the configured position immediately and then every interval
func (s *StaticSource) Watch(ctx context.Context, opts Options) (<-chan Sample, error) {
	out := make(chan Sample, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		offer(out, Sample{Position: s.position()})
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				offer(out, Sample{Position: s.position()})
			}
		}
	}()
	return out, nil
}
