package ranking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"edgetrader/pkg/hype/rest"
	"edgetrader/pkg/hype/types"
	"edgetrader/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// UniverseSource 合约列表及24h成交额
type UniverseSource interface {
	Universe(ctx context.Context) ([]types.AssetInfo, error)
}

// Entry 单个资产的排名
type Entry struct {
	Asset     string  `json:"asset"`
	DayVolume float64 `json:"dayVolume"`
	Rank      int     `json:"rank"`
}

// Ranking 一次排名结果
type Ranking struct {
	Entries []Entry   `json:"entries"`
	At      time.Time `json:"at"`
}

// Assets 前N名的资产名
func (r Ranking) Assets() []string {
	out := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, e.Asset)
	}
	return out
}

// Ranker 按24h名义成交额排序，取前N。可选 redis 缓存，多个进程共享同一份排名
type Ranker struct {
	source UniverseSource
	topN   int
	rdb    *redis.Client
	key    string
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Ranker)

// WithRedisCache 缓存排名结果，ttl 内直接使用缓存，拉取失败时也回退到缓存
func WithRedisCache(rdb *redis.Client, key string, ttl time.Duration) Option {
	return func(r *Ranker) {
		r.rdb = rdb
		r.key = key
		r.ttl = ttl
	}
}

func NewRanker(source UniverseSource, topN int, opts ...Option) *Ranker {
	r := &Ranker{source: source, topN: topN, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rank 返回成交额前N的资产，下架合约和成交额为0的资产不参与排名
func (r *Ranker) Rank(ctx context.Context) (Ranking, error) {
	if cached, ok := r.cached(ctx); ok && r.now().Sub(cached.At) < r.ttl {
		return cached, nil
	}

	infos, err := r.source.Universe(ctx)
	if err != nil {
		if cached, ok := r.cached(ctx); ok {
			logger.Warnf("ranking: universe fetch failed, using cached ranking from %s: %v", cached.At.Format(time.RFC3339), err)
			return cached, nil
		}
		return Ranking{}, fmt.Errorf("fetch universe: %w", err)
	}

	ranking := Ranking{Entries: Top(infos, r.topN), At: r.now()}
	r.store(ctx, ranking)
	return ranking, nil
}

// Top 纯函数排序：成交额降序，相同时按名称
func Top(infos []types.AssetInfo, n int) []Entry {
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if info.Meta.IsDelisted {
			continue
		}
		vol := rest.ParseFloat(info.Ctx.DayNtlVlm)
		if vol <= 0 {
			continue
		}
		entries = append(entries, Entry{Asset: info.Meta.Name, DayVolume: vol})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DayVolume != entries[j].DayVolume {
			return entries[i].DayVolume > entries[j].DayVolume
		}
		return entries[i].Asset < entries[j].Asset
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func (r *Ranker) cached(ctx context.Context) (Ranking, bool) {
	if r.rdb == nil {
		return Ranking{}, false
	}
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warnf("ranking: read cache %s: %v", r.key, err)
		}
		return Ranking{}, false
	}
	var ranking Ranking
	if err := json.Unmarshal(data, &ranking); err != nil {
		logger.Warnf("ranking: corrupt cache %s: %v", r.key, err)
		return Ranking{}, false
	}
	return ranking, true
}

func (r *Ranker) store(ctx context.Context, ranking Ranking) {
	if r.rdb == nil {
		return
	}
	data, err := json.Marshal(ranking)
	if err != nil {
		return
	}
	// 缓存保留更久，作为拉取失败时的兜底
	if err := r.rdb.Set(ctx, r.key, data, r.ttl*24).Err(); err != nil {
		logger.Warnf("ranking: write cache %s: %v", r.key, err)
	}
}
