package events

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/taskmesh/taskcore/internal/observability"
)

type countingSink struct {
	received chan Event
}

func (s *countingSink) Send(ctx context.Context, ev Event) error {
	s.received <- ev
	return nil
}

// TestPublisher_CloseStopsDrainGoroutine verifies Close() fully tears down
// the background drain goroutine started by NewPublisher, the way the
// teacher's TestGitHubAdapter_ExecuteAction verifies its own background
// worker leaves no goroutine behind.
func TestPublisher_CloseStopsDrainGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	sink := &countingSink{received: make(chan Event, 5)}
	pub := NewPublisher(sink, 16, observability.NewStandardLogger("test"), metrics)

	const n = 5
	for i := 0; i < n; i++ {
		pub.Publish(context.Background(), Event{Type: TaskCreated, TaskID: int64(i)})
	}

	for i := 0; i < n; i++ {
		select {
		case <-sink.received:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d to reach the sink", i)
		}
	}

	pub.Close()
}
