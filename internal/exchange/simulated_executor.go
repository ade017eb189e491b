package exchange

import (
	"context"
	"fmt"
	"sync"

	"edgetrader/conf"
	"edgetrader/internal/model"

	"github.com/google/uuid"
)

// PaperExecutor 模拟下单：按参考价立即成交，订单记录保存在内存中
type PaperExecutor struct {
	// 根据订单id存储订单状态
	orders map[string]model.OrderStatus
	mu     sync.Mutex
}

func NewPaperExecutor() *PaperExecutor {
	return &PaperExecutor{orders: make(map[string]model.OrderStatus)}
}

func (s *PaperExecutor) Mode() string { return conf.ModePaper }

func (s *PaperExecutor) Execute(ctx context.Context, intent Intent) Result {
	if err := ctx.Err(); err != nil {
		return Result{Status: model.ExecFailed, Err: err}
	}
	if intent.Size <= 0 || intent.RefPrice <= 0 {
		return Result{
			Status: model.ExecFailed,
			Err:    fmt.Errorf("%w: size %.6g price %.6g", ErrNonRetryable, intent.Size, intent.RefPrice),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	orderID := uuid.NewString()
	s.orders[orderID] = model.OrderStatus{
		OrderID:  orderID,
		State:    model.OrderFilled,
		Filled:   intent.Size,
		AvgPrice: intent.RefPrice,
	}
	return Result{
		Filled:     true,
		FillPrice:  intent.RefPrice,
		FilledSize: intent.Size,
		OrderID:    orderID,
		Status:     model.ExecFilled,
		Attempts:   1,
	}
}

func (s *PaperExecutor) OrderStatus(orderID string) (model.OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.orders[orderID]
	if !ok {
		return status, fmt.Errorf("order %s not found", orderID)
	}
	return status, nil
}
