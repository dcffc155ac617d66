package eventbus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(msg, args...))
}

func (l *recordingLogger) Info(msg string, args ...any)  { l.record(msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record(msg, args...) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record(msg, args...) }

func (l *recordingLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func TestPublishAsyncDelivers(t *testing.T) {
	bus := NewAsyncEventBus(2, nil)
	bus.Start()
	defer bus.Stop()

	got := make(chan CredentialEventData, 1)
	require.NoError(t, bus.Subscribe(EventCredentialResolved, func(d CredentialEventData) { got <- d }))
	assert.True(t, bus.HasCallback(EventCredentialResolved))

	bus.PublishAsync(EventCredentialResolved, CredentialEventData{Address: "11:22:33:44:55:66", Source: "cache"})

	select {
	case d := <-got:
		assert.Equal(t, "11:22:33:44:55:66", d.Address)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHandlerPanicDoesNotKillWorker(t *testing.T) {
	logger := &recordingLogger{}
	bus := NewAsyncEventBus(1, logger)
	bus.Start()
	defer bus.Stop()

	calls := 0
	require.NoError(t, bus.Subscribe(EventLoginFailed, func(LoginEventData) {
		calls++
		if calls == 1 {
			panic("boom")
		}
	}))

	bus.PublishAsync(EventLoginFailed, LoginEventData{})
	bus.PublishAsync(EventLoginFailed, LoginEventData{})
	require.True(t, bus.WaitAsync(time.Second))

	assert.Equal(t, 2, calls)
	assert.Contains(t, logger.snapshot()[0], "panicked")
}

func TestStopDrainsQueue(t *testing.T) {
	bus := NewAsyncEventBus(1, nil)
	var mu sync.Mutex
	delivered := 0
	require.NoError(t, bus.Subscribe(EventCacheFilled, func(CacheEventData) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}))

	for i := 0; i < 5; i++ {
		bus.PublishAsync(EventCacheFilled, CacheEventData{})
	}
	bus.Start()
	bus.Stop()
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, delivered)
}

func TestSubscribeLogging(t *testing.T) {
	logger := &recordingLogger{}
	bus := NewAsyncEventBus(1, nil)
	require.NoError(t, SubscribeLogging(bus, logger))

	bus.Publish(EventCacheFilled, CacheEventData{AccessID: "abc...", Devices: 2, Failed: 1, Partial: true})
	bus.Publish(EventCredentialNotRegistered, CredentialEventData{Address: "FF:FF:FF:FF:FF:FF"})

	lines := logger.snapshot()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "1 skipped")
	assert.Contains(t, lines[1], "FF:FF:FF:FF:FF:FF")
}
