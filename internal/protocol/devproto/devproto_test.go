package devproto

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WHABGAMES/rafeq-backend-sub002/internal/protocol"
)

type updateRecorder struct {
	mu      sync.Mutex
	updates []protocol.ConnectionUpdate
}

func (r *updateRecorder) record(u protocol.ConnectionUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *updateRecorder) states() []protocol.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.ConnectionState, 0, len(r.updates))
	for _, u := range r.updates {
		out = append(out, u.State)
	}
	return out
}

func newTestClient(t *testing.T) (protocol.Client, *updateRecorder) {
	t.Helper()
	c, err := factory{}.NewClient(t.TempDir() + "/auth")
	require.NoError(t, err)

	rec := &updateRecorder{}
	c.SetConnectionHandler(rec.record)
	return c, rec
}

func TestPairingLifecycle(t *testing.T) {
	c, rec := newTestClient(t)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		states := rec.states()
		return len(states) == 2 &&
			states[0] == protocol.StateQR &&
			states[1] == protocol.StateOpen
	}, 5*time.Second, 10*time.Millisecond, "should emit QR then open")

	assert.Equal(t, defaultPhone, c.PhoneNumber())

	id, err := c.SendText(context.Background(), "966598765432", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestSilentResume(t *testing.T) {
	dir := t.TempDir() + "/auth"

	first, err := factory{}.NewClient(dir)
	require.NoError(t, err)
	rec1 := &updateRecorder{}
	first.SetConnectionHandler(rec1.record)
	require.NoError(t, first.Connect(context.Background()))
	require.Eventually(t, func() bool {
		states := rec1.states()
		return len(states) > 0 && states[len(states)-1] == protocol.StateOpen
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, first.Close())

	// A second client on the same auth dir resumes without any QR.
	second, err := factory{}.NewClient(dir)
	require.NoError(t, err)
	rec2 := &updateRecorder{}
	second.SetConnectionHandler(rec2.record)
	t.Cleanup(func() { second.Close() })

	require.NoError(t, second.Connect(context.Background()))
	require.Eventually(t, func() bool {
		states := rec2.states()
		return len(states) == 1 && states[0] == protocol.StateOpen
	}, 5*time.Second, 10*time.Millisecond, "resume should skip the QR state")
}

func TestRequestPairingCode(t *testing.T) {
	c, _ := newTestClient(t)
	t.Cleanup(func() { c.Close() })

	code, err := c.RequestPairingCode(context.Background(), "966501234567")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{4}$`), code)
	assert.Equal(t, "966501234567", c.PhoneNumber())
}

func TestDrop(t *testing.T) {
	c, rec := newTestClient(t)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		states := rec.states()
		return len(states) > 0 && states[len(states)-1] == protocol.StateOpen
	}, 5*time.Second, 10*time.Millisecond)

	c.(*client).Drop(protocol.ReasonConnectionLost)

	states := rec.states()
	last := states[len(states)-1]
	assert.Equal(t, protocol.StateClosed, last)

	_, err := c.SendText(context.Background(), "966598765432", "hi")
	assert.Error(t, err, "send must fail after the connection dropped")
}
