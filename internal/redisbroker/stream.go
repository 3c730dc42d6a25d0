package redisbroker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bittoy/reviewpipe/internal/worker"
)

// EventStream implements worker.Stream against a single Redis stream key
// using a consumer group, the Go equivalent of
// original_source/src/worker/consumer.py's XREADGROUP/XACK/XAUTOCLAIM
// calls.
type EventStream struct {
	client       *redis.Client
	streamKey    string
	group        string
	consumer     string
	autoClaimPos string
}

func NewEventStream(client *redis.Client, streamKey, group, consumer string) *EventStream {
	return &EventStream{client: client, streamKey: streamKey, group: group, consumer: consumer, autoClaimPos: "0-0"}
}

// EnsureGroup creates the consumer group starting from the stream's
// current tail, tolerating BUSYGROUP if it already exists.
func (s *EventStream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.streamKey, s.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redisbroker: xgroup create %s/%s: %w", s.streamKey, s.group, err)
	}
	return nil
}

func (s *EventStream) ReadGroup(ctx context.Context, count int64, block time.Duration) ([]worker.StreamEntry, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.streamKey, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redisbroker: xreadgroup %s: %w", s.streamKey, err)
	}
	return toEntries(res), nil
}

func (s *EventStream) Ack(ctx context.Context, id string) error {
	if err := s.client.XAck(ctx, s.streamKey, s.group, id).Err(); err != nil {
		return fmt.Errorf("redisbroker: xack %s %s: %w", s.streamKey, id, err)
	}
	return nil
}

func (s *EventStream) AutoClaim(ctx context.Context, minIdle time.Duration, count int64) ([]worker.StreamEntry, error) {
	messages, nextCursor, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.streamKey,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  minIdle,
		Start:    s.autoClaimPos,
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisbroker: xautoclaim %s: %w", s.streamKey, err)
	}
	s.autoClaimPos = nextCursor

	entries := make([]worker.StreamEntry, 0, len(messages))
	for _, msg := range messages {
		data, _ := msg.Values["data"].(string)
		entries = append(entries, worker.StreamEntry{ID: msg.ID, Data: data})
	}
	return entries, nil
}

func toEntries(res []redis.XStream) []worker.StreamEntry {
	var entries []worker.StreamEntry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			data, _ := msg.Values["data"].(string)
			entries = append(entries, worker.StreamEntry{ID: msg.ID, Data: data})
		}
	}
	return entries
}
