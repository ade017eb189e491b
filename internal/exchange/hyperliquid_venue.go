package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"edgetrader/internal/indicator"
	"edgetrader/internal/model"
	"edgetrader/pkg/hype/rest"
	"edgetrader/pkg/hype/types"
	"edgetrader/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

const (
	metaTTL = time.Hour
	// 永续合约价格最多 6 - szDecimals 位小数
	perpMaxDecimals = 6
	sigFigures      = 5
)

// HyperliquidVenue 基于 rest 客户端的交易所实现，同时提供K线与外部数据
type HyperliquidVenue struct {
	client  *rest.HyperliquidRestClient
	wallet  string
	breaker *gobreaker.CircuitBreaker
	feed    *MidsFeed

	mu     sync.RWMutex
	assets map[string]types.AssetInfo
	metaAt time.Time
	lastOI map[string]float64

	now func() time.Time
}

func NewHyperliquidVenue(client *rest.HyperliquidRestClient, wallet string, feed *MidsFeed) *HyperliquidVenue {
	st := gobreaker.Settings{
		Name:        "hyperliquid-info",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// 调用方主动取消不算交易所故障
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				logger.Pair("name", name),
				logger.Pair("from", from.String()),
				logger.Pair("to", to.String()))
		},
	}
	return &HyperliquidVenue{
		client:  client,
		wallet:  wallet,
		breaker: gobreaker.NewCircuitBreaker(st),
		feed:    feed,
		assets:  make(map[string]types.AssetInfo),
		lastOI:  make(map[string]float64),
		now:     time.Now,
	}
}

// protect 查询类请求经过熔断器
func protect[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (interface{}, error) {
		out, err := fn()
		return out, err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Universe 合约列表与行情上下文，同时刷新本地元数据缓存
func (v *HyperliquidVenue) Universe(ctx context.Context) ([]types.AssetInfo, error) {
	infos, err := protect(v.breaker, func() ([]types.AssetInfo, error) {
		return v.client.PerpetualAssetContexts(ctx)
	})
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, info := range infos {
		v.assets[info.Meta.Name] = info
	}
	v.metaAt = v.now()
	return infos, nil
}

func (v *HyperliquidVenue) asset(ctx context.Context, name string) (types.AssetInfo, error) {
	v.mu.RLock()
	info, ok := v.assets[name]
	fresh := v.now().Sub(v.metaAt) < metaTTL
	v.mu.RUnlock()
	if ok && fresh {
		return info, nil
	}
	if _, err := v.Universe(ctx); err != nil {
		if ok {
			// 刷新失败时沿用旧的元数据
			return info, nil
		}
		return types.AssetInfo{}, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	info, ok = v.assets[name]
	if !ok {
		return types.AssetInfo{}, fmt.Errorf("%w: unknown asset %s", ErrNonRetryable, name)
	}
	return info, nil
}

func (v *HyperliquidVenue) Mid(ctx context.Context, asset string) (float64, error) {
	if v.feed != nil {
		if px, _, ok := v.feed.Price(asset, v.now()); ok {
			return px, nil
		}
	}
	mids, err := protect(v.breaker, func() (map[string]float64, error) {
		return v.client.AllMids(ctx)
	})
	if err != nil {
		return 0, err
	}
	px, ok := mids[asset]
	if !ok || px <= 0 {
		return 0, fmt.Errorf("no mid price for %s", asset)
	}
	return px, nil
}

// Quote 不早于 notBefore 的价格，推送价格过旧时回退到REST
func (v *HyperliquidVenue) Quote(ctx context.Context, asset string, notBefore time.Time) (float64, time.Time, error) {
	if v.feed != nil {
		if px, at, ok := v.feed.Price(asset, v.now()); ok && !at.Before(notBefore) {
			return px, at, nil
		}
	}
	mids, err := protect(v.breaker, func() (map[string]float64, error) {
		return v.client.AllMids(ctx)
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	px, ok := mids[asset]
	if !ok || px <= 0 {
		return 0, time.Time{}, fmt.Errorf("no mid price for %s", asset)
	}
	return px, v.now(), nil
}

func (v *HyperliquidVenue) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderAck, error) {
	info, err := v.asset(ctx, req.Asset)
	if err != nil {
		return model.OrderAck{}, err
	}
	if info.Meta.IsDelisted && !req.ReduceOnly {
		return model.OrderAck{}, fmt.Errorf("%w: %s is delisted", ErrNonRetryable, req.Asset)
	}
	size, err := FormatSize(req.Size, info.Meta.SzDecimals)
	if err != nil {
		return model.OrderAck{}, err
	}
	tif := types.TifIoc
	if req.Tif == model.Gtc {
		tif = types.TifGtc
	}
	wire := types.OrderWire{
		Asset:      info.Index,
		IsBuy:      req.Side == model.Buy,
		LimitPx:    FormatPrice(req.Price, info.Meta.SzDecimals, req.Side == model.Buy),
		Size:       size,
		ReduceOnly: req.ReduceOnly,
		OrderType:  types.OrderTypeWire{Limit: &types.LimitOrderType{Tif: tif}},
		Cloid:      cloid(req.ClientID),
	}

	st, err := v.client.PlaceOrder(ctx, wire)
	if err != nil {
		return model.OrderAck{}, mapOrderError(err)
	}
	switch {
	case st.Filled != nil:
		return model.OrderAck{
			OrderID:  strconv.FormatInt(st.Filled.Oid, 10),
			State:    model.OrderFilled,
			FilledSz: rest.ParseFloat(st.Filled.TotalSz),
			AvgPrice: rest.ParseFloat(st.Filled.AvgPx),
		}, nil
	case st.Resting != nil:
		return model.OrderAck{OrderID: strconv.FormatInt(st.Resting.Oid, 10), State: model.OrderOpen}, nil
	case st.Error != "":
		if nonRetryableMessage(st.Error) {
			return model.OrderAck{}, fmt.Errorf("%w: %s", ErrNonRetryable, st.Error)
		}
		return model.OrderAck{State: model.OrderRejected, RejectMsg: st.Error}, nil
	}
	return model.OrderAck{}, errors.New("hyperliquid: empty order status")
}

func (v *HyperliquidVenue) OrderStatus(ctx context.Context, asset, orderID string) (model.OrderStatus, error) {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return model.OrderStatus{}, fmt.Errorf("%w: bad order id %q", ErrNonRetryable, orderID)
	}
	o, err := protect(v.breaker, func() (types.Order, error) {
		return v.client.OrderStatus(ctx, v.wallet, oid)
	})
	if errors.Is(err, rest.ErrUnknownOrder) {
		return model.OrderStatus{OrderID: orderID, State: model.OrderUnknown}, nil
	}
	if err != nil {
		return model.OrderStatus{}, err
	}
	orig := rest.ParseFloat(o.Order.OrigSz)
	remaining := rest.ParseFloat(o.Order.Sz)
	return model.OrderStatus{
		OrderID:   orderID,
		State:     orderState(o.Status),
		Filled:    math.Max(orig-remaining, 0),
		Remaining: remaining,
	}, nil
}

func (v *HyperliquidVenue) CancelOrder(ctx context.Context, asset, orderID string) error {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad order id %q", ErrNonRetryable, orderID)
	}
	info, err := v.asset(ctx, asset)
	if err != nil {
		return err
	}
	err = v.client.Cancel(ctx, info.Index, oid)
	var ee *rest.ExchangeError
	if errors.As(err, &ee) && strings.Contains(strings.ToLower(ee.Message), "already canceled") {
		return nil
	}
	return err
}

func (v *HyperliquidVenue) Account(ctx context.Context) (Account, error) {
	data, err := protect(v.breaker, func() (types.MarginData, error) {
		return v.client.PerpetualsAccountSummary(ctx, v.wallet)
	})
	if err != nil {
		return Account{}, err
	}
	acc := Account{
		Equity:       rest.ParseFloat(data.MarginSummary.AccountValue),
		Withdrawable: rest.ParseFloat(data.Withdrawable),
		Time:         time.UnixMilli(data.Time),
	}
	for _, ap := range data.AssetPositions {
		if !ap.Open() {
			continue
		}
		szi := rest.ParseFloat(ap.Position.Szi)
		side := model.Long
		if szi < 0 {
			side = model.Short
		}
		acc.Positions = append(acc.Positions, VenuePosition{
			Asset:      ap.Position.Coin,
			Side:       side,
			Quantity:   math.Abs(szi),
			EntryPrice: rest.ParseFloat(ap.Position.EntryPx),
			Leverage:   float64(ap.Position.Leverage.Value),
		})
	}
	return acc, nil
}

// Candles 实现 indicator.CandleSource
func (v *HyperliquidVenue) Candles(ctx context.Context, asset, interval string, limit int) ([]model.Kline, error) {
	step, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	end := v.now()
	start := end.Add(-step * time.Duration(limit))
	candles, err := protect(v.breaker, func() ([]types.Candle, error) {
		return v.client.CandleSnapshot(ctx, asset, interval, start, end)
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.Kline, 0, len(candles))
	for _, c := range candles {
		out = append(out, model.Kline{
			Timestamp: time.UnixMilli(c.OpenTime),
			Open:      rest.ParseFloat(c.Open),
			Close:     rest.ParseFloat(c.Close),
			High:      rest.ParseFloat(c.High),
			Low:       rest.ParseFloat(c.Low),
			Vol:       rest.ParseFloat(c.Volume),
		})
	}
	return out, nil
}

// External 实现 indicator.ExternalSource。巨鲸与交易所流向没有数据源，保持缺失
func (v *HyperliquidVenue) External(ctx context.Context, asset string) (indicator.ExternalData, error) {
	ext := indicator.ExternalData{
		FundingRate:           math.NaN(),
		OpenInterestChangePct: math.NaN(),
		OrderBookImbalance:    math.NaN(),
		WhaleActivity:         math.NaN(),
		ExchangeNetFlow:       math.NaN(),
	}
	if info, err := v.asset(ctx, asset); err == nil {
		if info.Ctx.Funding != "" {
			ext.FundingRate = rest.ParseFloat(info.Ctx.Funding)
		}
		if oi := rest.ParseFloat(info.Ctx.OpenInterest); oi > 0 {
			v.mu.Lock()
			if prev, ok := v.lastOI[asset]; ok && prev > 0 {
				ext.OpenInterestChangePct = (oi - prev) / prev * 100
			}
			v.lastOI[asset] = oi
			v.mu.Unlock()
		}
	}
	book, err := protect(v.breaker, func() (types.L2Book, error) {
		return v.client.L2Book(ctx, asset)
	})
	if err == nil {
		ext.OrderBookImbalance = bookImbalance(book)
	}
	return ext, nil
}

// bookImbalance (买量-卖量)/(买量+卖量)
func bookImbalance(book types.L2Book) float64 {
	if len(book.Levels) < 2 {
		return math.NaN()
	}
	var bids, asks float64
	for _, l := range book.Levels[0] {
		bids += rest.ParseFloat(l.Sz)
	}
	for _, l := range book.Levels[1] {
		asks += rest.ParseFloat(l.Sz)
	}
	if bids+asks == 0 {
		return math.NaN()
	}
	return (bids - asks) / (bids + asks)
}

// FormatSize 按 szDecimals 截断，截断后为0视为非法数量
func FormatSize(size float64, szDecimals int) (string, error) {
	if math.IsNaN(size) || math.IsInf(size, 0) || size <= 0 {
		return "", fmt.Errorf("%w: invalid size %v", ErrNonRetryable, size)
	}
	d := decimal.NewFromFloat(size).Truncate(int32(szDecimals))
	if !d.IsPositive() {
		return "", fmt.Errorf("%w: size %v below lot size (%d decimals)", ErrNonRetryable, size, szDecimals)
	}
	return d.String(), nil
}

// FormatPrice 最多5位有效数字、6-szDecimals位小数；买单向上取整，卖单向下取整
func FormatPrice(px float64, szDecimals int, isBuy bool) string {
	if px <= 0 || math.IsNaN(px) || math.IsInf(px, 0) {
		return "0"
	}
	places := sigFigures - 1 - int(math.Floor(math.Log10(px)))
	if maxPlaces := perpMaxDecimals - szDecimals; places > maxPlaces {
		places = maxPlaces
	}
	if places < 0 {
		places = 0
	}
	d := decimal.NewFromFloat(px)
	if isBuy {
		d = d.RoundCeil(int32(places))
	} else {
		d = d.RoundFloor(int32(places))
	}
	return d.String()
}

// IntervalDuration K线周期字符串转时长
func IntervalDuration(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	switch interval[len(interval)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid interval %q", interval)
}

func orderState(status string) model.OrderState {
	switch status {
	case "open", "triggered":
		return model.OrderOpen
	case "filled":
		return model.OrderFilled
	case "rejected":
		return model.OrderRejected
	}
	if strings.HasSuffix(status, "anceled") {
		// canceled / marginCanceled / reduceOnlyCanceled ...
		return model.OrderCanceled
	}
	return model.OrderUnknown
}

func nonRetryableMessage(msg string) bool {
	m := strings.ToLower(msg)
	for _, s := range []string{"insufficient margin", "invalid size", "minimum value", "reduce only order would increase"} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}

func mapOrderError(err error) error {
	if errors.Is(err, rest.ErrNoSigner) {
		return fmt.Errorf("%w: %v", ErrNonRetryable, err)
	}
	var ee *rest.ExchangeError
	if errors.As(err, &ee) {
		// 整个动作被拒绝（签名、nonce、参数），重试没有意义
		return fmt.Errorf("%w: %v", ErrNonRetryable, err)
	}
	return err
}

// cloid 交易所要求 0x 开头的 16 字节十六进制
func cloid(clientID string) string {
	if clientID == "" {
		return ""
	}
	id, err := uuid.Parse(clientID)
	if err != nil {
		return ""
	}
	return "0x" + strings.ReplaceAll(id.String(), "-", "")
}
