package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuya-ble-cloud/internal/platform/testutil"
)

func TestJournalPersistsEvents(t *testing.T) {
	db := testutil.OpenTestDB(t)

	logger := &recordingLogger{}
	journal := NewJournal(db, logger)
	base := time.Unix(1700000000, 0)
	tick := 0
	journal.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	bus := NewAsyncEventBus(1, logger)
	require.NoError(t, journal.Subscribe(bus))
	bus.Start()

	bus.PublishAsync(EventLoginSucceeded, LoginEventData{AccessID: "ab****yz", Region: "eu"})
	bus.PublishAsync(EventCredentialResolved, CredentialEventData{Address: "11:22:33:44:55:66", Source: "cache"})
	bus.PublishAsync(EventCredentialNotRegistered, CredentialEventData{Address: "AA:BB:CC:DD:EE:FF"})
	require.True(t, bus.WaitAsync(time.Second))
	bus.Stop()

	all, err := journal.Recent(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, EventCredentialNotRegistered, all[0].EventType)
	assert.Equal(t, EventLoginSucceeded, all[2].EventType)
	assert.Equal(t, "ab****yz", all[2].AccessID)

	byAddr, err := journal.Recent(context.Background(), "11:22:33:44:55:66", 10)
	require.NoError(t, err)
	require.Len(t, byAddr, 1)
	assert.Contains(t, string(byAddr[0].Data), `"source":"cache"`)
	assert.Empty(t, logger.snapshot())
}
