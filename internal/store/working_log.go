package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stratumhq/stratum/internal/domain"
)

const (
	// markerRetention bounds the consolidated-id set. Re-delivered ids
	// inside the window are filtered; entries older than this have been
	// trimmed from the stream anyway.
	markerRetention = 7 * 24 * time.Hour

	fieldContent    = "content"
	fieldImportance = "importance"
	fieldCreatedAt  = "created_at"
	fieldMetadata   = "metadata"
)

// WorkingLogStore is the tier-0 log for one tenant, backed by a Redis
// Stream. Entry ids are assigned by Redis and strictly increase in append
// order. A companion set tracks consolidated ids and a hash tracks access
// counts; both carry a rolling retention TTL.
type WorkingLogStore struct {
	client   *redis.Client
	stream   string
	markers  string
	accesses string
	capacity int64
}

func NewWorkingLogStore(client *redis.Client, tenantID string, capacity int64) *WorkingLogStore {
	if capacity <= 0 {
		capacity = 2048
	}
	return &WorkingLogStore{
		client:   client,
		stream:   fmt.Sprintf("stratum:%s:log", tenantID),
		markers:  fmt.Sprintf("stratum:%s:consolidated", tenantID),
		accesses: fmt.Sprintf("stratum:%s:access", tenantID),
		capacity: capacity,
	}
}

// Append adds the item and trims the stream to capacity. The trim is
// approximate, so the log may briefly overshoot by a bounded amount.
// Returns the store-assigned id.
func (s *WorkingLogStore) Append(ctx context.Context, it *domain.Item) (string, error) {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}

	values := map[string]any{
		fieldContent:    it.Content,
		fieldImportance: strconv.FormatFloat(it.Importance, 'f', -1, 64),
		fieldCreatedAt:  it.CreatedAt.Format(time.RFC3339Nano),
	}
	if len(it.Metadata) > 0 {
		raw, err := json.Marshal(it.Metadata)
		if err != nil {
			return "", fmt.Errorf("encode metadata: %w", err)
		}
		values[fieldMetadata] = string(raw)
	}

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", domain.Transient(fmt.Errorf("append item: %w", err))
	}

	if err := s.Trim(ctx, s.capacity); err != nil {
		return id, err
	}

	it.ID = id
	return id, nil
}

// Recent returns up to k items, newest first. Ids strictly decrease.
func (s *WorkingLogStore) Recent(ctx context.Context, k int) ([]domain.Item, error) {
	if k <= 0 {
		return []domain.Item{}, nil
	}

	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", int64(k)).Result()
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read recent: %w", err))
	}
	return s.toItems(ctx, msgs)
}

// Unconsolidated returns up to limit unconsolidated items, oldest first.
func (s *WorkingLogStore) Unconsolidated(ctx context.Context, limit int) ([]domain.Item, error) {
	if limit <= 0 {
		return []domain.Item{}, nil
	}

	// The stream is capacity-bounded, so a full range read stays cheap.
	msgs, err := s.client.XRange(ctx, s.stream, "-", "+").Result()
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read log: %w", err))
	}
	if len(msgs) == 0 {
		return []domain.Item{}, nil
	}

	items, err := s.toItems(ctx, msgs)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Item, 0, limit)
	for _, it := range items {
		if it.Consolidated {
			continue
		}
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkConsolidated records ids in the marker set. Re-marking is a no-op;
// unknown ids are accepted (the entry may already be trimmed).
func (s *WorkingLogStore) MarkConsolidated(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.markers, members...)
	pipe.Expire(ctx, s.markers, markerRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Transient(fmt.Errorf("mark consolidated: %w", err))
	}
	return nil
}

// RecordAccess bumps access counts for the given ids. Best effort:
// callers typically ignore the error.
func (s *WorkingLogStore) RecordAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.HIncrBy(ctx, s.accesses, id, 1)
	}
	pipe.Expire(ctx, s.accesses, markerRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Transient(fmt.Errorf("record access: %w", err))
	}
	return nil
}

// Clear removes the stream and its companion keys atomically.
func (s *WorkingLogStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.stream, s.markers, s.accesses).Err(); err != nil {
		return domain.Transient(fmt.Errorf("clear log: %w", err))
	}
	return nil
}

func (s *WorkingLogStore) Len(ctx context.Context) (int64, error) {
	n, err := s.client.XLen(ctx, s.stream).Result()
	if err != nil {
		return 0, domain.Transient(fmt.Errorf("log length: %w", err))
	}
	return n, nil
}

// Trim caps the stream length. MAXLEN ~ lets Redis trim at node
// boundaries, so the overshoot is bounded but nonzero.
func (s *WorkingLogStore) Trim(ctx context.Context, maxLen int64) error {
	if maxLen <= 0 {
		return nil
	}
	if err := s.client.XTrimMaxLenApprox(ctx, s.stream, maxLen, 0).Err(); err != nil {
		return domain.Transient(fmt.Errorf("trim log: %w", err))
	}
	return nil
}

// OldestUnconsolidatedAge reports how long the oldest unconsolidated item
// has been waiting. ok is false when nothing is pending.
func (s *WorkingLogStore) OldestUnconsolidatedAge(ctx context.Context, now time.Time) (time.Duration, bool, error) {
	items, err := s.Unconsolidated(ctx, 1)
	if err != nil {
		return 0, false, err
	}
	if len(items) == 0 {
		return 0, false, nil
	}
	return now.Sub(items[0].CreatedAt), true, nil
}

// toItems converts stream messages, resolving consolidation markers and
// access counts in bulk.
func (s *WorkingLogStore) toItems(ctx context.Context, msgs []redis.XMessage) ([]domain.Item, error) {
	if len(msgs) == 0 {
		return []domain.Item{}, nil
	}

	ids := make([]any, len(msgs))
	accessFields := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		accessFields[i] = m.ID
	}

	consolidated, err := s.client.SMIsMember(ctx, s.markers, ids...).Result()
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("check markers: %w", err))
	}

	counts, err := s.client.HMGet(ctx, s.accesses, accessFields...).Result()
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read access counts: %w", err))
	}

	items := make([]domain.Item, 0, len(msgs))
	for i, m := range msgs {
		it := domain.Item{ID: m.ID}

		if v, ok := m.Values[fieldContent].(string); ok {
			it.Content = v
		}
		if v, ok := m.Values[fieldImportance].(string); ok {
			it.Importance, _ = strconv.ParseFloat(v, 64)
		}
		if v, ok := m.Values[fieldCreatedAt].(string); ok {
			it.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
		}
		if v, ok := m.Values[fieldMetadata].(string); ok && v != "" {
			_ = json.Unmarshal([]byte(v), &it.Metadata)
		}
		if i < len(consolidated) {
			it.Consolidated = consolidated[i]
		}
		if i < len(counts) && counts[i] != nil {
			if raw, ok := counts[i].(string); ok {
				it.AccessCount, _ = strconv.Atoi(raw)
			}
		}

		items = append(items, it)
	}
	return items, nil
}
