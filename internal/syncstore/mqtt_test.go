package syncstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatch(path string) (*mqttWatch, *snapshotRecorder) {
	rec := &snapshotRecorder{}
	return &mqttWatch{
		path:   path,
		box:    newMailbox(rec.record),
		values: make(Snapshot),
	}, rec
}

func TestMQTTWatch_ApplyAccumulatesChildren(t *testing.T) {
	w, rec := newTestWatch("couples/c1/locations")
	defer w.box.close()

	w.apply("couples/c1/locations/person1", []byte(`{"lat":10}`))
	w.apply("couples/c1/locations/person2", []byte(`{"lat":30}`))
	w.apply("couples/c1/locations/person1", []byte(`{"lat":11}`))

	require.Eventually(t, func() bool {
		s, _ := rec.get()
		return string(s["person1"]) == `{"lat":11}` && string(s["person2"]) == `{"lat":30}`
	}, time.Second, 5*time.Millisecond)
}

func TestMQTTWatch_EmptyPayloadClearsChild(t *testing.T) {
	w, rec := newTestWatch("couples/c1/locations")
	defer w.box.close()

	w.apply("couples/c1/locations/person1", []byte(`{"lat":10}`))
	w.apply("couples/c1/locations/person1", nil)

	require.Eventually(t, func() bool {
		s, n := rec.get()
		return n > 0 && len(s) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMQTTWatch_IgnoresForeignTopics(t *testing.T) {
	w, _ := newTestWatch("couples/c1/locations")
	defer w.box.close()

	w.apply("couples/c2/locations/person1", []byte(`{"lat":10}`))
	assert.Empty(t, w.snapshot())
}

func TestMQTTWatch_SnapshotIsCopy(t *testing.T) {
	w, _ := newTestWatch("a/b")
	defer w.box.close()

	w.apply("a/b/c", []byte(`1`))
	snap := w.snapshot()
	snap["c"][0] = '2'
	assert.Equal(t, `1`, string(w.snapshot()["c"]))
}
