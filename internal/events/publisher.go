package events

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/taskmesh/taskcore/internal/observability"
)

// Publisher is the fire-and-forget fan-out component the Lifecycle Engine
// calls after each mutation. Publish never blocks the caller: it enqueues
// onto a bounded channel and a background worker drains it, retrying
// transient Sink failures with jittered exponential backoff behind a
// circuit breaker so a wedged subscriber can't starve the queue.
type Publisher struct {
	sink    Sink
	logger  observability.Logger
	metrics *observability.Metrics
	cb      *gobreaker.CircuitBreaker

	queue chan Event
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewPublisher starts a background worker draining into sink. depth bounds
// the outgoing queue; once full, the oldest queued low-priority event is
// dropped to make room rather than blocking the publisher (and, in turn,
// the Lifecycle Engine).
func NewPublisher(sink Sink, depth int, logger observability.Logger, metrics *observability.Metrics) *Publisher {
	if depth <= 0 {
		depth = 256
	}
	cbSettings := gobreaker.Settings{
		Name:        "event-publisher-sink",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	p := &Publisher{
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		cb:      gobreaker.NewCircuitBreaker(cbSettings),
		queue:   make(chan Event, depth),
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.drain()
	return p
}

// Publish enqueues ev without blocking. If the queue is full, the single
// oldest low-priority event in the queue is discarded to make room,
// whatever ev's own priority. If the queue holds only normal-priority
// events and is full, the new event is dropped and recorded — publication
// failures never block or fail the mutation.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	select {
	case p.queue <- ev:
		if p.metrics != nil {
			p.metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
		}
		return
	default:
	}
	if p.evictOneLowPriority() {
		select {
		case p.queue <- ev:
			if p.metrics != nil {
				p.metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
			}
			return
		default:
		}
	}
	if p.metrics != nil {
		p.metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
	}
	p.logger.Warn("event queue full, dropping event", observability.Fields{"type": string(ev.Type), "task_id": ev.TaskID})
}

// evictOneLowPriority drains up to one low-priority event from the queue
// to make room for a new arrival. It is a best-effort scan that never
// waits on an empty queue: it only inspects events already buffered (never
// the in-flight one being sent) and rotates each of them through the queue
// once, preserving FIFO order among the rest.
func (p *Publisher) evictOneLowPriority() bool {
	n := len(p.queue)
	evicted := false
	for i := 0; i < n; i++ {
		var ev Event
		select {
		case ev = <-p.queue:
		default:
			return evicted
		}
		if !evicted && priorityOf(ev.Type) == priorityLow {
			if p.metrics != nil {
				p.metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
			}
			evicted = true
			continue
		}
		p.queue <- ev
	}
	return evicted
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ev)
		case <-p.done:
			return
		}
	}
}

func (p *Publisher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	op := func() error {
		_, err := p.cb.Execute(func() (interface{}, error) {
			return nil, p.sink.Send(ctx, ev)
		})
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		p.logger.Error("event delivery failed", observability.Fields{
			"type": string(ev.Type), "task_id": ev.TaskID, "error": err.Error(),
		})
	}
}

// Close stops the background worker, letting any in-flight delivery
// finish but abandoning anything still queued.
func (p *Publisher) Close() {
	close(p.done)
	p.wg.Wait()
}
