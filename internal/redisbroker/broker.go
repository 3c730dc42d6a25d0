// Package redisbroker wires github.com/redis/go-redis/v9 into the three
// roles the pipeline needs from Redis: an action-stream producer
// (dispatch.Broker), a rule-change pub/sub subscriber (repository.Subscriber),
// and a consumer-group stream client (worker.Stream).
package redisbroker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bittoy/reviewpipe/internal/repository"
)

// ActionBroker appends dispatched review results onto a Redis Stream.
type ActionBroker struct {
	client    *redis.Client
	streamKey string
}

func NewActionBroker(client *redis.Client, streamKey string) *ActionBroker {
	return &ActionBroker{client: client, streamKey: streamKey}
}

func (b *ActionBroker) XAdd(ctx context.Context, payload []byte) error {
	_, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.streamKey,
		Values: map[string]any{"data": string(payload)},
	}).Result()
	if err != nil {
		return fmt.Errorf("redisbroker: xadd: %w", err)
	}
	return nil
}

// RuleSubscriber implements repository.Subscriber over a Redis pub/sub
// channel.
type RuleSubscriber struct {
	client  *redis.Client
	channel string
}

func NewRuleSubscriber(client *redis.Client, channel string) *RuleSubscriber {
	return &RuleSubscriber{client: client, channel: channel}
}

func (s *RuleSubscriber) Subscribe(ctx context.Context) (<-chan repository.RuleChangeEvent, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redisbroker: subscribe %s: %w", s.channel, err)
	}

	out := make(chan repository.RuleChangeEvent)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event repository.RuleChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
