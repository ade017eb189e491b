package types

// Candle candleSnapshot 返回的单根K线，价格均为字符串
type Candle struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Coin      string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Trades    int    `json:"n"`
}

type BookLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// L2Book Levels[0] 为买盘，Levels[1] 为卖盘
type L2Book struct {
	Coin   string        `json:"coin"`
	Time   int64         `json:"time"`
	Levels [][]BookLevel `json:"levels"`
}
