package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/LeventeLantos/webhook-inbox/internal/metrics"
)

const publishTimeout = 5 * time.Second

// Dispatcher decouples event publishing from ingestion. Enqueue never
// blocks; when the queue is full the event is dropped and counted.
type Dispatcher struct {
	queue chan Event
	pubs  []Publisher
	log   *slog.Logger
}

func NewDispatcher(size int, logger *slog.Logger, pubs ...Publisher) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue: make(chan Event, size),
		pubs:  pubs,
		log:   logger,
	}
}

func (d *Dispatcher) Enqueue(ev Event) bool {
	select {
	case d.queue <- ev:
		return true
	default:
		metrics.FanoutDropped()
		d.log.Warn("fanout queue full, dropping event",
			slog.String("id", ev.ID),
			slog.String("kind", string(ev.Kind)),
		)
		return false
	}
}

// Run publishes queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.queue:
			d.publish(ctx, ev)
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, ev Event) {
	for _, p := range d.pubs {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := p.Publish(pctx, ev)
		cancel()

		if err != nil {
			metrics.FanoutDropped()
			d.log.Error("publish event failed",
				slog.String("id", ev.ID),
				slog.String("kind", string(ev.Kind)),
				slog.Any("err", err),
			)
			continue
		}
		metrics.FanoutPublished(string(ev.Kind))
	}
}
