package cycle

import (
	"context"
	"time"

	"edgetrader/internal/dao"
	"edgetrader/internal/gate"
	"edgetrader/internal/model"
	"edgetrader/internal/signal"
	"edgetrader/pkg/kafka"
	"edgetrader/pkg/recorder"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"
)

type FillAction string

const (
	FillOpen  FillAction = "open"
	FillAdd   FillAction = "add"
	FillClose FillAction = "close"
	FillTrim  FillAction = "trim"
)

// Fill 本轮成交
type Fill struct {
	Asset    string                `json:"asset"`
	Action   FillAction            `json:"action"`
	Side     model.Side            `json:"side"`
	Quantity float64               `json:"quantity"`
	Price    float64               `json:"price"`
	PnL      float64               `json:"pnl"`
	Reason   string                `json:"reason"`
	OrderID  string                `json:"orderId"`
	Status   model.ExecutionStatus `json:"status"`
	Attempts int                   `json:"attempts"`
	Slippage float64               `json:"slippage"`
	At       time.Time             `json:"at"`
}

// Rejection 未执行的信号
type Rejection struct {
	Asset  string       `json:"asset"`
	Action model.Action `json:"action"`
	Tier   gate.Tier    `json:"tier"`
	Reason string       `json:"reason"`
}

type ExitReport struct {
	Asset     string              `json:"asset"`
	Governing model.ExitCondition `json:"governing"`
	Fired     []model.ExitReason  `json:"fired"`
	Executed  bool                `json:"executed"`
	Note      string              `json:"note,omitempty"`
}

// Failure 单个资产在某个阶段的失败，不影响其他资产
type Failure struct {
	Asset string `json:"asset"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

type Note struct {
	Asset   string `json:"asset"`
	Message string `json:"message"`
}

// Report 每轮tick的执行报告
type Report struct {
	CycleID       string             `json:"cycleId"`
	Tick          int64              `json:"tick"`
	Mode          string             `json:"mode"`
	ExecutionMode string             `json:"executionMode"`
	StartedAt     time.Time          `json:"startedAt"`
	FinishedAt    time.Time          `json:"finishedAt"`
	Universe      []string           `json:"universe"`
	Signals       []signal.Summary   `json:"signals"`
	Rejected      []Rejection        `json:"rejected"`
	Opened        []Fill             `json:"opened"`
	Closed        []Fill             `json:"closed"`
	Trimmed       []Fill             `json:"trimmed"`
	Exits         []ExitReport       `json:"exits"`
	Skipped       []Note             `json:"skipped"`
	Failures      []Failure          `json:"failures"`
	Reconcile     *Diff              `json:"reconcile,omitempty"`
	Breaker       model.BreakerState `json:"circuitBreaker"`
	Equity        float64            `json:"equity"`
	DrawdownPct   float64            `json:"drawdownPct"`
	OpenPositions int                `json:"openPositions"`
	Persisted     bool               `json:"persisted"`
}

// Fills 本轮全部成交，按开仓、平仓、减仓顺序
func (r Report) Fills() []Fill {
	out := make([]Fill, 0, len(r.Opened)+len(r.Closed)+len(r.Trimmed))
	out = append(out, r.Opened...)
	out = append(out, r.Closed...)
	return append(out, r.Trimmed...)
}

func (r *Report) fail(asset, stage string, err error) {
	r.Failures = append(r.Failures, Failure{Asset: asset, Stage: stage, Error: err.Error()})
}

func (r *Report) skip(asset, msg string) {
	r.Skipped = append(r.Skipped, Note{Asset: asset, Message: msg})
}

func (r *Report) reject(sig signal.Signal, reason string) {
	r.Rejected = append(r.Rejected, Rejection{Asset: sig.Asset, Action: sig.Action, Tier: sig.Tier(), Reason: reason})
}

// Publisher 报告的下游
type Publisher interface {
	Publish(ctx context.Context, r Report) error
}

// RecorderPublisher 写入本地 JSONL
type RecorderPublisher struct {
	rec *recorder.JSONFileRecorder
}

func NewRecorderPublisher(rec *recorder.JSONFileRecorder) *RecorderPublisher {
	return &RecorderPublisher{rec: rec}
}

func (p *RecorderPublisher) Publish(ctx context.Context, r Report) error {
	return p.rec.Record(r)
}

// KafkaPublisher 以周期id为key发送，同一周期的报告保持有序
type KafkaPublisher struct {
	producer kafka.ProducerService
}

func NewKafkaPublisher(producer kafka.ProducerService) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, r Report) error {
	return p.producer.Produce(ctx, []byte(r.CycleID), r)
}

// JournalPublisher 成交写入数据库流水
type JournalPublisher struct {
	trades dao.TradeDao
}

func NewJournalPublisher(trades dao.TradeDao) *JournalPublisher {
	return &JournalPublisher{trades: trades}
}

func (p *JournalPublisher) Publish(ctx context.Context, r Report) error {
	fills := r.Fills()
	if len(fills) == 0 {
		return nil
	}
	records := make([]model.TradeRecord, 0, len(fills))
	for _, f := range fills {
		details, _ := json.Marshal(f)
		records = append(records, model.TradeRecord{
			CycleID:    r.CycleID,
			Asset:      f.Asset,
			Side:       string(f.Side),
			Action:     string(f.Action),
			Quantity:   f.Quantity,
			Price:      f.Price,
			PnL:        f.PnL,
			Reason:     f.Reason,
			OrderID:    f.OrderID,
			Mode:       r.Mode,
			Details:    datatypes.JSON(details),
			ExecutedAt: f.At,
		})
	}
	return p.trades.TradeInsertBatch(ctx, records)
}
