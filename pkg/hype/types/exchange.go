package types

import "github.com/goccy/go-json"

const (
	TifIoc = "Ioc"
	TifGtc = "Gtc"
)

type LimitOrderType struct {
	Tif string `json:"tif"`
}

type OrderTypeWire struct {
	Limit *LimitOrderType `json:"limit,omitempty"`
}

// OrderWire 下单动作中的单个订单，字段名与交易所保持一致
type OrderWire struct {
	Asset      int           `json:"a"`
	IsBuy      bool          `json:"b"`
	LimitPx    string        `json:"p"`
	Size       string        `json:"s"`
	ReduceOnly bool          `json:"r"`
	OrderType  OrderTypeWire `json:"t"`
	Cloid      string        `json:"c,omitempty"`
}

type OrderAction struct {
	Type     string      `json:"type"`
	Orders   []OrderWire `json:"orders"`
	Grouping string      `json:"grouping"`
}

type CancelWire struct {
	Asset int   `json:"a"`
	Oid   int64 `json:"o"`
}

type CancelAction struct {
	Type    string       `json:"type"`
	Cancels []CancelWire `json:"cancels"`
}

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

type ExchangeRequest struct {
	Action       any       `json:"action"`
	Nonce        int64     `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
}

// ExchangeResponse status 为 err 时 Response 是错误字符串
type ExchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type ExchangeData struct {
	Type string `json:"type"`
	Data struct {
		Statuses []OrderStatusEntry `json:"statuses"`
	} `json:"data"`
}

type RestingOrder struct {
	Oid int64 `json:"oid"`
}

type FilledOrder struct {
	TotalSz string `json:"totalSz"`
	AvgPx   string `json:"avgPx"`
	Oid     int64  `json:"oid"`
}

// OrderStatusEntry 每个订单的处理结果。撤单成功时交易所只返回字符串 "success"
type OrderStatusEntry struct {
	Resting *RestingOrder `json:"resting,omitempty"`
	Filled  *FilledOrder  `json:"filled,omitempty"`
	Error   string        `json:"error,omitempty"`
	Success string        `json:"-"`
}

func (e *OrderStatusEntry) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &e.Success)
	}
	type plain OrderStatusEntry
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = OrderStatusEntry(p)
	return nil
}

// OrderQueryResponse info/orderStatus 的返回，status 为 order 或 unknownOid
type OrderQueryResponse struct {
	Status string `json:"status"`
	Order  *Order `json:"order,omitempty"`
}
