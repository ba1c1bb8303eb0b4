package ticketing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	mu       sync.Mutex
	payloads []Payload
	failures int
}

func (c *recordingClient) CreateTicket(_ context.Context, payload Payload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failures > 0 {
		c.failures--
		return "", fmt.Errorf("%w: status 503", ErrUnavailable)
	}
	c.payloads = append(c.payloads, payload)
	return fmt.Sprintf("T-%d", len(c.payloads)), nil
}

func TestReplayDeliversStoredPayloadUnchanged(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryFallbackStore()
	payload := NewPayload(sampleTicket())

	entry, err := store.Enqueue(ctx, payload, "unavailable")
	require.NoError(t, err)

	client := &recordingClient{}
	report, err := NewReplayer(store, client).Replay(ctx, 0)
	require.NoError(t, err)

	require.Len(t, report.Delivered, 1)
	assert.Equal(t, entry.ID, report.Delivered[0].EntryID)
	assert.Equal(t, "T-1", report.Delivered[0].TicketID)
	require.Len(t, client.payloads, 1)
	assert.Equal(t, payload, client.payloads[0])

	pending, err := store.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReplayStopsWhileTicketingUnavailable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryFallbackStore()
	for i := range 3 {
		payload := NewPayload(sampleTicket())
		payload.CallID = fmt.Sprintf("CA%d", i)
		_, err := store.Enqueue(ctx, payload, "unavailable")
		require.NoError(t, err)
	}

	client := &recordingClient{failures: 1}
	report, err := NewReplayer(store, client).Replay(ctx, 0)
	require.NoError(t, err)
	assert.True(t, report.Stopped)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, report.Delivered)

	pending, err := store.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "ticketing unavailable")

	report, err = NewReplayer(store, client).Replay(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, report.Delivered, 2)
	assert.Equal(t, "CA0", report.Delivered[0].CallID)
}

func TestMemoryFallbackStoreUnknownEntry(t *testing.T) {
	store := NewMemoryFallbackStore()
	assert.True(t, errors.Is(store.MarkDelivered(context.Background(), "missing", "T"), ErrNotFound))
	assert.ErrorIs(t, store.RecordFailure(context.Background(), "missing", nil), ErrNotFound)
}

func TestConcurrentReplaysCreateOneTicket(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryFallbackStore()
	_, err := store.Enqueue(ctx, NewPayload(sampleTicket()), "unavailable")
	require.NoError(t, err)

	var created atomic.Int32
	client := ClientFunc(func(context.Context, Payload) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return fmt.Sprintf("T-%d", created.Add(1)), nil
	})
	replayer := NewReplayer(store, client)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := replayer.Replay(ctx, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, created.Load())
	pending, err := store.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReplayersSharingStoreSkipClaimedEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryFallbackStore()
	_, err := store.Enqueue(ctx, NewPayload(sampleTicket()), "unavailable")
	require.NoError(t, err)

	var created atomic.Int32
	release := make(chan struct{})
	client := ClientFunc(func(context.Context, Payload) (string, error) {
		<-release
		return fmt.Sprintf("T-%d", created.Add(1)), nil
	})

	first := make(chan ReplayReport, 1)
	go func() {
		report, _ := NewReplayer(store, client).Replay(ctx, 0)
		first <- report
	}()
	require.Eventually(t, func() bool {
		pending, _ := store.Pending(ctx, 0)
		return len(pending) == 1 && pending[0].ClaimedAt != nil
	}, time.Second, 5*time.Millisecond)

	report, err := NewReplayer(store, client).Replay(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, report.Delivered)

	close(release)
	assert.Len(t, (<-first).Delivered, 1)
	assert.EqualValues(t, 1, created.Load())
}

func TestMemoryFallbackStoreClaims(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryFallbackStore()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	entry, err := store.Enqueue(ctx, NewPayload(sampleTicket()), "unavailable")
	require.NoError(t, err)

	require.NoError(t, store.Claim(ctx, entry.ID))
	assert.ErrorIs(t, store.Claim(ctx, entry.ID), ErrClaimed)

	require.NoError(t, store.RecordFailure(ctx, entry.ID, errors.New("status 503")))
	require.NoError(t, store.Claim(ctx, entry.ID), "a failed attempt releases the claim")

	now = now.Add(ClaimLease)
	require.NoError(t, store.Claim(ctx, entry.ID), "an expired claim can be taken over")

	require.NoError(t, store.MarkDelivered(ctx, entry.ID, "T-1"))
	now = now.Add(2 * ClaimLease)
	assert.ErrorIs(t, store.Claim(ctx, entry.ID), ErrClaimed)
	assert.ErrorIs(t, store.Claim(ctx, "missing"), ErrNotFound)
}
