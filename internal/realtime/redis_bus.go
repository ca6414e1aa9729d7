package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries events between processes over a Redis pub/sub
// channel. Publish sends to the channel; Run relays everything received
// on it into the local Hub, so every process delivers every event to its
// own subscribers exactly once.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	log     *slog.Logger
	ready   chan struct{}
}

func NewRedisBus(rdb *redis.Client, channel string, hub *Hub, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		hub:     hub,
		log:     logger,
		ready:   make(chan struct{}),
	}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Ready is closed once Run holds an active subscription.
func (b *RedisBus) Ready() <-chan struct{} {
	return b.ready
}

func (b *RedisBus) Run(ctx context.Context) error {
	ps := b.rdb.Subscribe(ctx, b.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	close(b.ready)
	b.log.Info("redis bus subscribed", slog.String("channel", b.channel))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(ctx, msg.Payload)
		}
	}
}

func (b *RedisBus) relay(ctx context.Context, payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		b.log.Warn("discarding undecodable bus message", slog.Any("err", err))
		return
	}
	if err := b.hub.Publish(ctx, ev); err != nil {
		b.log.Warn("relay to hub failed", slog.String("id", ev.ID), slog.Any("err", err))
	}
}
