package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/arloliu/go-gcodelink/logger"
	"github.com/arloliu/go-gcodelink/stream"
)

// DefaultKeyPrefix is prepended to every snapshot key.
const DefaultKeyPrefix = "gcodelink:pause:"

// Snapshot is the stored view of a parked job.
type Snapshot struct {
	PrinterID string             `json:"printer_id"`
	State     stream.PauseState  `json:"state"`
	Reason    stream.PauseReason `json:"reason"`
	Layer     string             `json:"layer,omitempty"`
	Position  stream.PrinterMove `json:"position"`
	Time      time.Time          `json:"time"`
}

// RedisSnapshots stores the latest pause snapshot of each printer in Redis.
type RedisSnapshots struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger logger.Logger
}

// SnapshotOption configures RedisSnapshots.
type SnapshotOption func(*RedisSnapshots)

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) SnapshotOption {
	return func(s *RedisSnapshots) { s.prefix = prefix }
}

// WithTTL expires snapshots after ttl. Zero keeps them until deleted.
func WithTTL(ttl time.Duration) SnapshotOption {
	return func(s *RedisSnapshots) { s.ttl = ttl }
}

// WithSnapshotLogger sets the logger.
func WithSnapshotLogger(l logger.Logger) SnapshotOption {
	return func(s *RedisSnapshots) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewRedisClient creates a Redis client and checks the connection.
func NewRedisClient(ctx context.Context, addr string, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis %s: %w", ErrUnavailable, addr, err)
	}

	return client, nil
}

// NewRedisSnapshots returns a snapshot store over client.
func NewRedisSnapshots(client *redis.Client, opts ...SnapshotOption) *RedisSnapshots {
	s := &RedisSnapshots{
		client: client,
		prefix: DefaultKeyPrefix,
		logger: logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Save stores evt as the snapshot of printerID.
func (s *RedisSnapshots) Save(ctx context.Context, printerID string, evt stream.PauseEvent) error {
	data, err := json.Marshal(snapshotFromEvent(printerID, evt))
	if err != nil {
		return err
	}

	return s.client.Set(ctx, s.key(printerID), data, s.ttl).Err()
}

// Load returns the snapshot of printerID, or ErrNotFound.
func (s *RedisSnapshots) Load(ctx context.Context, printerID string) (Snapshot, error) {
	var snap Snapshot

	data, err := s.client.Get(ctx, s.key(printerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, fmt.Errorf("%w: snapshot of %s", ErrNotFound, printerID)
	}
	if err != nil {
		return snap, err
	}

	err = json.Unmarshal(data, &snap)

	return snap, err
}

// Delete removes the snapshot of printerID.
func (s *RedisSnapshots) Delete(ctx context.Context, printerID string) error {
	return s.client.Del(ctx, s.key(printerID)).Err()
}

// PauseHandler saves a snapshot when a pause completes and removes it once the job runs again.
func (s *RedisSnapshots) PauseHandler(printerID string) stream.PauseEventHandler {
	return func(evt stream.PauseEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var err error
		switch evt.State {
		case stream.Paused:
			err = s.Save(ctx, printerID, evt)
		case stream.Running:
			err = s.Delete(ctx, printerID)
		default:
			return
		}

		if err != nil {
			s.logger.Warn("pause snapshot update failed", "printer", printerID, "state", evt.State, "error", err)
		}
	}
}

func (s *RedisSnapshots) key(printerID string) string {
	return s.prefix + printerID
}

func snapshotFromEvent(printerID string, evt stream.PauseEvent) Snapshot {
	return Snapshot{
		PrinterID: printerID,
		State:     evt.State,
		Reason:    evt.Reason,
		Layer:     evt.Layer,
		Position:  evt.Position,
		Time:      evt.Time,
	}
}
