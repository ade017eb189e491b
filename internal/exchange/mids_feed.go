package exchange

import (
	"context"
	"sync"
	"time"

	"edgetrader/pkg/hype/stream"
	"edgetrader/pkg/logger"
)

const reconnectDelay = 5 * time.Second

// MidsFeed 订阅 allMids 推送并缓存最新中间价，过期的价格不使用
type MidsFeed struct {
	mu     sync.RWMutex
	prices map[string]float64
	at     time.Time
	maxAge time.Duration
}

func NewMidsFeed(maxAge time.Duration) *MidsFeed {
	return &MidsFeed{prices: make(map[string]float64), maxAge: maxAge}
}

// Update 整体替换一次快照
func (f *MidsFeed) Update(mids map[string]float64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range mids {
		f.prices[k] = v
	}
	f.at = at
}

// Price 返回缓存价格及其时间，缺失或过期时 ok 为 false
func (f *MidsFeed) Price(asset string, now time.Time) (float64, time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	px, ok := f.prices[asset]
	if !ok || px <= 0 || now.Sub(f.at) > f.maxAge {
		return 0, f.at, false
	}
	return px, f.at, true
}

// Run 连接推送并在断线后重连，直到ctx结束
func (f *MidsFeed) Run(ctx context.Context, wsURL string) {
	for {
		if err := f.consume(ctx, wsURL); err != nil {
			logger.Warnf("mids feed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *MidsFeed) consume(ctx context.Context, wsURL string) error {
	client, err := stream.NewHyperliquidWebsocketClient(ctx, wsURL)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.StreamAllMids(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return nil
		case err := <-client.ErrorChan:
			logger.Warnf("mids feed stream error: %v", err)
		case mids := <-client.AllMidsChan:
			f.Update(mids, time.Now())
		}
	}
}
