package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"edgetrader/pkg/hype/types"
	"edgetrader/pkg/logger"
	"edgetrader/pkg/retry"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

var (
	// ErrNoSigner 没有配置签名器时不能调用 exchange 接口
	ErrNoSigner = errors.New("hyperliquid: no signer configured")
	// ErrUnknownOrder 交易所查不到该订单
	ErrUnknownOrder = errors.New("hyperliquid: unknown order id")
)

// StatusError 非200返回
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("received non-OK HTTP status: %s %s", e.Status, e.Body)
}

// Temporary 429 与 5xx 可以重试
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Signer 对 exchange 动作签名，实现由调用方注入
type Signer interface {
	SignAction(ctx context.Context, action any, nonce int64) (types.Signature, error)
}

type Option func(*HyperliquidRestClient)

func WithHTTPClient(c *http.Client) Option {
	return func(rest *HyperliquidRestClient) { rest.httpClient = c }
}

func WithRateLimit(rps float64, burst int) Option {
	return func(rest *HyperliquidRestClient) {
		if rps > 0 {
			rest.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(rest *HyperliquidRestClient) { rest.policy = p }
}

func WithSigner(s Signer) Option {
	return func(rest *HyperliquidRestClient) { rest.signer = s }
}

type HyperliquidRestClient struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
	signer     Signer
	nonce      func() int64
}

func NewHyperliquidRestClient(rawUrl string, opts ...Option) (*HyperliquidRestClient, error) {
	parsedUrl, err := url.Parse(rawUrl)
	if err != nil || parsedUrl.Scheme == "" || parsedUrl.Host == "" {
		return nil, fmt.Errorf("invalid URL: %s", rawUrl)
	}
	parsedUrl.Path = strings.TrimSuffix(parsedUrl.Path, "/")

	rest := &HyperliquidRestClient{
		url:        parsedUrl.String(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		policy:     retry.Policy{MaxAttempts: 5, InitialInterval: 500 * time.Millisecond, MaxInterval: 10 * time.Second, Multiplier: 2},
		nonce:      func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(rest)
	}
	rest.policy = rest.policy.WithRetryable(retryable)
	if rest.policy.OnRetry == nil {
		rest.policy.OnRetry = func(err error, wait time.Duration) {
			logger.Warnf("HyperliquidRestClient retrying in %v: %v", wait, err)
		}
	}
	return rest, nil
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// post 单次请求：限流后发送，非200返回 StatusError
func (rest *HyperliquidRestClient) post(ctx context.Context, endpoint string, body []byte, result any) error {
	if err := rest.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rest.url+endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rest.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request (network error): %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: string(data)}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return retry.Permanent(fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return nil
}

func (rest *HyperliquidRestClient) doRequestWithContext(ctx context.Context, endpoint string, requestType string, additionalParams map[string]any, result any) error {
	reqBody := map[string]any{"type": requestType}
	for key, value := range additionalParams {
		reqBody[key] = value
	}
	reqBodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	err = rest.policy.Do(ctx, func(ctx context.Context) error {
		return rest.post(ctx, endpoint, reqBodyJSON, result)
	})
	if err != nil {
		return fmt.Errorf("hyperliquid %s: %w", requestType, err)
	}
	return nil
}

func (rest *HyperliquidRestClient) PerpetualsMetadata(ctx context.Context) (types.Universe, error) {
	var metadata types.Universe
	if err := rest.doRequestWithContext(ctx, "/info", "meta", nil, &metadata); err != nil {
		return types.Universe{}, err
	}
	return metadata, nil
}

// PerpetualAssetContexts 合约列表与行情上下文（资金费率、持仓量、24h成交额）
func (rest *HyperliquidRestClient) PerpetualAssetContexts(ctx context.Context) ([]types.AssetInfo, error) {
	var respData []json.RawMessage
	if err := rest.doRequestWithContext(ctx, "/info", "metaAndAssetCtxs", nil, &respData); err != nil {
		return nil, err
	}
	if len(respData) < 2 {
		return nil, fmt.Errorf("metaAndAssetCtxs: expected 2 elements, got %d", len(respData))
	}

	var universeData types.Universe
	if err := json.Unmarshal(respData[0], &universeData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal universe data: %w", err)
	}
	var assetContexts []types.AssetContext
	if err := json.Unmarshal(respData[1], &assetContexts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset contexts: %w", err)
	}

	out := make([]types.AssetInfo, 0, len(universeData.Universe))
	for i, item := range universeData.Universe {
		info := types.AssetInfo{Index: i, Meta: item}
		if i < len(assetContexts) {
			info.Ctx = assetContexts[i]
		}
		out = append(out, info)
	}
	return out, nil
}

// PerpetualsAccountSummary 永续账户：持仓、保证金、可提余额
func (rest *HyperliquidRestClient) PerpetualsAccountSummary(ctx context.Context, user string) (types.MarginData, error) {
	var marginData types.MarginData
	params := map[string]any{"user": user}
	if err := rest.doRequestWithContext(ctx, "/info", "clearinghouseState", params, &marginData); err != nil {
		return types.MarginData{}, err
	}
	return marginData, nil
}

// AllMids 所有币种的中间价，过滤掉 @ 开头的现货编号
func (rest *HyperliquidRestClient) AllMids(ctx context.Context) (map[string]float64, error) {
	var raw map[string]string
	if err := rest.doRequestWithContext(ctx, "/info", "allMids", nil, &raw); err != nil {
		return nil, err
	}
	return ParseMids(raw), nil
}

func (rest *HyperliquidRestClient) CandleSnapshot(ctx context.Context, coin, interval string, start, end time.Time) ([]types.Candle, error) {
	params := map[string]any{
		"req": map[string]any{
			"coin":      coin,
			"interval":  interval,
			"startTime": start.UnixMilli(),
			"endTime":   end.UnixMilli(),
		},
	}
	var candles []types.Candle
	if err := rest.doRequestWithContext(ctx, "/info", "candleSnapshot", params, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

func (rest *HyperliquidRestClient) L2Book(ctx context.Context, coin string) (types.L2Book, error) {
	var book types.L2Book
	if err := rest.doRequestWithContext(ctx, "/info", "l2Book", map[string]any{"coin": coin}, &book); err != nil {
		return types.L2Book{}, err
	}
	return book, nil
}

// OrderStatus 按订单号查询，查不到时返回 ErrUnknownOrder
func (rest *HyperliquidRestClient) OrderStatus(ctx context.Context, user string, oid int64) (types.Order, error) {
	var resp types.OrderQueryResponse
	params := map[string]any{"user": user, "oid": oid}
	if err := rest.doRequestWithContext(ctx, "/info", "orderStatus", params, &resp); err != nil {
		return types.Order{}, err
	}
	if resp.Status != "order" || resp.Order == nil {
		return types.Order{}, fmt.Errorf("%w: %d", ErrUnknownOrder, oid)
	}
	return *resp.Order, nil
}

// exchange 签名并提交动作。nonce 在重试之间保持不变，交易所会拒绝重复提交
func (rest *HyperliquidRestClient) exchange(ctx context.Context, action any) (types.ExchangeData, error) {
	if rest.signer == nil {
		return types.ExchangeData{}, ErrNoSigner
	}
	nonce := rest.nonce()
	sig, err := rest.signer.SignAction(ctx, action, nonce)
	if err != nil {
		return types.ExchangeData{}, fmt.Errorf("sign action: %w", err)
	}
	body, err := json.Marshal(types.ExchangeRequest{Action: action, Nonce: nonce, Signature: sig})
	if err != nil {
		return types.ExchangeData{}, fmt.Errorf("failed to marshal exchange request: %w", err)
	}

	var resp types.ExchangeResponse
	err = rest.policy.Do(ctx, func(ctx context.Context) error {
		return rest.post(ctx, "/exchange", body, &resp)
	})
	if err != nil {
		return types.ExchangeData{}, fmt.Errorf("hyperliquid exchange: %w", err)
	}
	if resp.Status != "ok" {
		var msg string
		if json.Unmarshal(resp.Response, &msg) != nil {
			msg = string(resp.Response)
		}
		return types.ExchangeData{}, &ExchangeError{Message: msg}
	}
	var data types.ExchangeData
	if err := json.Unmarshal(resp.Response, &data); err != nil {
		return types.ExchangeData{}, fmt.Errorf("failed to unmarshal exchange response: %w", err)
	}
	return data, nil
}

// ExchangeError 交易所拒绝整个动作
type ExchangeError struct {
	Message string
}

func (e *ExchangeError) Error() string {
	return "hyperliquid exchange error: " + e.Message
}

// PlaceOrder 提交单个订单
func (rest *HyperliquidRestClient) PlaceOrder(ctx context.Context, order types.OrderWire) (types.OrderStatusEntry, error) {
	data, err := rest.exchange(ctx, types.OrderAction{Type: "order", Orders: []types.OrderWire{order}, Grouping: "na"})
	if err != nil {
		return types.OrderStatusEntry{}, err
	}
	if len(data.Data.Statuses) == 0 {
		return types.OrderStatusEntry{}, errors.New("hyperliquid exchange: empty order statuses")
	}
	return data.Data.Statuses[0], nil
}

func (rest *HyperliquidRestClient) Cancel(ctx context.Context, asset int, oid int64) error {
	data, err := rest.exchange(ctx, types.CancelAction{Type: "cancel", Cancels: []types.CancelWire{{Asset: asset, Oid: oid}}})
	if err != nil {
		return err
	}
	if len(data.Data.Statuses) > 0 && data.Data.Statuses[0].Error != "" {
		return &ExchangeError{Message: data.Data.Statuses[0].Error}
	}
	return nil
}
