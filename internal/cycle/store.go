package cycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"edgetrader/internal/model"
	"edgetrader/pkg/logger"
	"edgetrader/pkg/recorder"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrStateNotFound 还没有持久化过状态
	ErrStateNotFound = errors.New("cycle state not found")
	// ErrStateCorrupt 状态文件无法解析，调用方应丢弃并重新开始
	ErrStateCorrupt = errors.New("cycle state corrupt")
)

// Store 周期状态的持久化
type Store interface {
	Load(ctx context.Context) (model.CycleState, error)
	Save(ctx context.Context, st model.CycleState) error
}

// EncodeState 持久化格式
func EncodeState(st model.CycleState) ([]byte, error) {
	return json.MarshalIndent(st, "", "  ")
}

// DecodeState 解析失败时不返回部分结果
func DecodeState(data []byte) (model.CycleState, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return model.CycleState{}, ErrStateNotFound
	}
	var st model.CycleState
	if err := json.Unmarshal(data, &st); err != nil {
		return model.CycleState{}, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if st.CycleID == "" {
		return model.CycleState{}, fmt.Errorf("%w: missing cycle id", ErrStateCorrupt)
	}
	if st.Positions == nil {
		st.Positions = make(map[string]model.Position)
	}
	for asset, p := range st.Positions {
		if p.Quantity <= 0 || p.EntryPrice <= 0 || p.Asset != asset {
			logger.Warnf("dropping invalid persisted position %s: qty=%v entry=%v", asset, p.Quantity, p.EntryPrice)
			delete(st.Positions, asset)
		}
	}
	if st.Breaker.Status == "" {
		st.Breaker.Status = model.BreakerClosed
	}
	return st, nil
}

// FileStore 单个json文件，先写临时文件再rename
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (model.CycleState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.CycleState{}, ErrStateNotFound
	}
	if err != nil {
		return model.CycleState{}, fmt.Errorf("read state %s: %w", s.path, err)
	}
	return DecodeState(data)
}

func (s *FileStore) Save(ctx context.Context, st model.CycleState) error {
	data, err := EncodeState(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := recorder.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write state %s: %w", s.path, err)
	}
	return nil
}

// RedisStore 多实例部署时共享状态，SET 本身是原子的
type RedisStore struct {
	rdb *redis.Client
	key string
}

func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	return &RedisStore{rdb: rdb, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (model.CycleState, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.CycleState{}, ErrStateNotFound
	}
	if err != nil {
		return model.CycleState{}, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return DecodeState(data)
}

func (s *RedisStore) Save(ctx context.Context, st model.CycleState) error {
	data, err := EncodeState(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}
