package learner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Snapshot is the serializable model state. Candle history and indicator
// state are rebuilt by warmup replay, so only the learned parameters and
// scaler statistics persist.
type Snapshot struct {
	W          []float64 `json:"w"`
	B          float64   `json:"b"`
	TrainCount int64     `json:"train_count"`
	Scaler     *Scaler   `json:"scaler"`
	SavedAt    int64     `json:"saved_at"`
}

// Snapshot captures the learned parameters.
func (l *Learner) Snapshot() Snapshot {
	w := make([]float64, featureDim)
	copy(w, l.w[:])
	sc := &Scaler{
		N:    l.scaler.N,
		Mean: append([]float64(nil), l.scaler.Mean...),
		M2:   append([]float64(nil), l.scaler.M2...),
	}
	return Snapshot{
		W:          w,
		B:          l.b,
		TrainCount: l.trainCount,
		Scaler:     sc,
		SavedAt:    time.Now().UnixMilli(),
	}
}

// Restore loads learned parameters from a snapshot. Mismatched feature
// dimensions reject the snapshot rather than corrupting the model.
func (l *Learner) Restore(snap Snapshot) error {
	if len(snap.W) != featureDim {
		return fmt.Errorf("snapshot has %d weights, want %d", len(snap.W), featureDim)
	}
	if snap.Scaler == nil || len(snap.Scaler.Mean) != featureDim {
		return fmt.Errorf("snapshot scaler missing or wrong dimension")
	}
	copy(l.w[:], snap.W)
	l.b = snap.B
	l.trainCount = snap.TrainCount
	l.scaler = &Scaler{
		N:    snap.Scaler.N,
		Mean: append([]float64(nil), snap.Scaler.Mean...),
		M2:   append([]float64(nil), snap.Scaler.M2...),
	}
	return nil
}

// CheckpointStore persists learner snapshots in Redis, one key per symbol.
// The engine saves periodically and restores at startup so long-run
// learning survives restarts.
type CheckpointStore struct {
	client *redis.Client
}

// NewCheckpointStore connects to Redis and verifies the connection.
func NewCheckpointStore(ctx context.Context, addr, password string) (*CheckpointStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &CheckpointStore{client: client}, nil
}

func checkpointKey(symbol string) string {
	return "learner:ckpt:" + symbol
}

// Save stores the snapshot for a symbol.
func (s *CheckpointStore) Save(ctx context.Context, symbol string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, checkpointKey(symbol), data, 0).Err(); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", symbol, err)
	}
	return nil
}

// Load fetches the snapshot for a symbol. The boolean reports whether a
// checkpoint existed.
func (s *CheckpointStore) Load(ctx context.Context, symbol string) (Snapshot, bool, error) {
	data, err := s.client.Get(ctx, checkpointKey(symbol)).Bytes()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load checkpoint %s: %w", symbol, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode checkpoint %s: %w", symbol, err)
	}
	return snap, true, nil
}

// Close releases the Redis connection.
func (s *CheckpointStore) Close() error {
	return s.client.Close()
}
