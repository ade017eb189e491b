package types

import "github.com/goccy/go-json"

// GenericMessage 推送消息外层，按 channel 再解析 data
type GenericMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type Mids struct {
	Prices map[string]string `json:"mids"`
}

type Order struct {
	Order           BasicOrder `json:"order"`
	Status          string     `json:"status"`          // open / filled / canceled / triggered / rejected / marginCanceled ...
	StatusTimestamp int64      `json:"statusTimestamp"` // 毫秒
}

type BasicOrder struct {
	Coin      string `json:"coin"`
	Side      string `json:"side"` // B 买 / A 卖
	LimitPx   string `json:"limitPx"`
	Sz        string `json:"sz"` // 剩余数量
	Oid       int64  `json:"oid"`
	Timestamp int64  `json:"timestamp"`
	OrigSz    string `json:"origSz"`
	Cloid     string `json:"cloid,omitempty"`
}

// Subscription 订阅请求
type Subscription struct {
	Method       string            `json:"method"`
	Subscription map[string]string `json:"subscription,omitempty"`
}
