package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"seoscope/internal/audit"
)

func TestHubFanOutPreservesOrder(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	defer hub.Close()

	ch1, cancel1 := hub.Subscribe("job-1")
	ch2, cancel2 := hub.Subscribe("job-1")
	defer cancel1()
	defer cancel2()

	hub.Broadcast("job-1", StatusEvent("job-1", 10, "sitemap"))
	hub.Broadcast("job-1", StatusEvent("job-1", 50, "scanning"))
	hub.Broadcast("job-1", CompleteEvent("job-1", &audit.ScoreReport{OverallScore: 95}))

	for _, ch := range []<-chan Event{ch1, ch2} {
		var got []Event
		for evt := range ch {
			got = append(got, evt)
		}
		require.Len(t, got, 3)
		require.Equal(t, EventStatus, got[0].Type)
		require.Equal(t, 10, got[0].Progress)
		require.Equal(t, 50, got[1].Progress)
		require.Equal(t, EventComplete, got[2].Type)
		require.NotNil(t, got[2].Report)
	}
}

func TestHubIsolatesJobs(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	defer hub.Close()

	ch, cancel := hub.Subscribe("job-a")
	defer cancel()

	hub.Broadcast("job-b", StatusEvent("job-b", 30, "other job"))

	select {
	case evt := <-ch:
		t.Fatalf("subscriber received foreign event: %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHubDropsEventsWithoutSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	defer hub.Close()

	// Must not panic or grow state.
	hub.Broadcast("ghost", StatusEvent("ghost", 10, ""))
	require.Zero(t, hub.SubscriberCount("ghost"))
}

func TestHubTerminalEventClosesStream(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	defer hub.Close()

	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	hub.Broadcast("job-1", ErrorEvent("job-1", "scan failed"))

	evt, open := <-ch
	require.True(t, open)
	require.Equal(t, EventError, evt.Type)
	require.Equal(t, "scan failed", evt.Error)

	_, open = <-ch
	require.False(t, open, "channel must close after the terminal event")
	require.Zero(t, hub.SubscriberCount("job-1"))

	// Events after a terminal event are not delivered to late subscribers.
	late, cancelLate := hub.Subscribe("job-1")
	defer cancelLate()
	select {
	case evt := <-late:
		t.Fatalf("late subscriber saw history: %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHubCancelRemovesSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	defer hub.Close()

	_, cancel1 := hub.Subscribe("job-1")
	_, cancel2 := hub.Subscribe("job-1")
	require.Equal(t, 2, hub.SubscriberCount("job-1"))

	cancel1()
	cancel1() // idempotent
	require.Equal(t, 1, hub.SubscriberCount("job-1"))

	cancel2()
	require.Zero(t, hub.SubscriberCount("job-1"))
}

func TestHubBroadcastNeverBlocksOnSlowSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	defer hub.Close()

	// Nobody reads from this subscription.
	_, cancel := hub.Subscribe("job-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultSubscriberBuffer*2; i++ {
			hub.Broadcast("job-1", StatusEvent("job-1", i%100, "tick"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}
}

func TestHubClose(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	hub.Close()
	hub.Close() // idempotent

	_, open := <-ch
	require.False(t, open)

	lateCh, lateCancel := hub.Subscribe("job-2")
	defer lateCancel()
	_, open = <-lateCh
	require.False(t, open, "subscribe after close returns a closed channel")

	hub.Broadcast("job-1", StatusEvent("job-1", 10, "")) // no-op, no panic
}
