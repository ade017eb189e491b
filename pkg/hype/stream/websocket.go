package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"edgetrader/pkg/hype/rest"
	"edgetrader/pkg/hype/types"
	"edgetrader/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	pingInterval   = 50 * time.Second
	minSendSpacing = 50 * time.Millisecond
)

type HyperliquidWebsocketClient struct {
	websocketUrl string
	conn         *websocket.Conn
	AllMidsChan  chan map[string]float64 // 价格变化的通道
	ErrorChan    chan error              // 错误通道
	mutex        sync.Mutex
	lastRequest  time.Time
	closeOnce    sync.Once
	done         chan struct{}
}

// NewHyperliquidWebsocketClient 建立连接并启动读循环与心跳，ctx 结束时关闭连接
func NewHyperliquidWebsocketClient(ctx context.Context, rawUrl string) (*HyperliquidWebsocketClient, error) {
	if _, err := url.ParseRequestURI(rawUrl); err != nil {
		return nil, errors.New("invalid websocket URL")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawUrl, nil)
	if err != nil {
		return nil, err
	}

	client := &HyperliquidWebsocketClient{
		websocketUrl: rawUrl,
		conn:         conn,
		AllMidsChan:  make(chan map[string]float64, 16),
		ErrorChan:    make(chan error, 4),
		done:         make(chan struct{}),
	}

	go client.keepAlive(ctx)
	go client.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-client.done:
		}
	}()
	return client, nil
}

// Done 连接结束后关闭
func (client *HyperliquidWebsocketClient) Done() <-chan struct{} {
	return client.done
}

func (client *HyperliquidWebsocketClient) Close() {
	client.closeOnce.Do(func() {
		close(client.done)
		_ = client.conn.Close()
	})
}

func (client *HyperliquidWebsocketClient) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case <-ticker.C:
			if err := client.send(types.Subscription{Method: "ping"}); err != nil {
				client.reportError(fmt.Errorf("send ping: %w", err))
			}
		}
	}
}

func (client *HyperliquidWebsocketClient) readLoop() {
	defer client.Close()
	for {
		_, msg, err := client.conn.ReadMessage()
		if err != nil {
			select {
			case <-client.done:
			default:
				client.reportError(fmt.Errorf("read: %w", err))
			}
			return
		}

		var response types.GenericMessage
		if err := json.Unmarshal(msg, &response); err != nil {
			client.reportError(fmt.Errorf("unmarshal: %w", err))
			continue
		}

		switch response.Channel {
		case "allMids":
			client.handleAllMidsMessage(response.Data)
		}
	}
}

// reportError 错误通道满时只记日志，不阻塞读循环
func (client *HyperliquidWebsocketClient) reportError(err error) {
	select {
	case client.ErrorChan <- err:
	default:
		logger.Warnf("HyperliquidWebsocketClient error dropped: %v", err)
	}
}

func (client *HyperliquidWebsocketClient) handleAllMidsMessage(data json.RawMessage) {
	var mids types.Mids
	if err := json.Unmarshal(data, &mids); err != nil {
		client.reportError(err)
		return
	}
	select {
	case client.AllMidsChan <- rest.ParseMids(mids.Prices):
	case <-client.done:
	}
}

func (client *HyperliquidWebsocketClient) send(message any) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	// 两次发送至少间隔50ms
	if wait := minSendSpacing - time.Since(client.lastRequest); wait > 0 {
		time.Sleep(wait)
	}
	client.lastRequest = time.Now()
	return client.conn.WriteJSON(message)
}

func (client *HyperliquidWebsocketClient) StreamAllMids() error {
	msg := types.Subscription{Method: "subscribe", Subscription: map[string]string{"type": "allMids"}}
	if err := client.send(msg); err != nil {
		return fmt.Errorf("subscription error: %w", err)
	}
	return nil
}
