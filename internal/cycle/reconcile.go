package cycle

import (
	"fmt"
	"math"
	"sort"
	"time"

	"edgetrader/internal/exchange"
	"edgetrader/internal/model"
	"edgetrader/pkg/logger"
)

type ChangeKind string

const (
	ChangeAdopted   ChangeKind = "adopted"
	ChangeClosed    ChangeKind = "closed"
	ChangeCorrected ChangeKind = "corrected"
	ChangeFlipped   ChangeKind = "flipped"
)

// Change 对账时单个资产的修正
type Change struct {
	Asset  string     `json:"asset"`
	Kind   ChangeKind `json:"kind"`
	Detail string     `json:"detail"`
}

// Diff 对账结果，交易所为准
type Diff struct {
	PositionsUpdated int       `json:"positionsUpdated"`
	PositionsClosed  int       `json:"positionsClosed"`
	Changes          []Change  `json:"changes,omitempty"`
	At               time.Time `json:"at"`
}

func (d Diff) Empty() bool {
	return d.PositionsUpdated == 0 && d.PositionsClosed == 0
}

// ReconcileOptions tol 为数量/价格的相对误差；
// 接管的仓位没有止损止盈，按 StopPct 和 RewardRisk 补上
type ReconcileOptions struct {
	Tolerance  float64
	StopPct    float64
	RewardRisk float64
}

// Reconcile 用交易所账户修正本地持仓，不修改入参。
// 本地多出的仓位视为外部平仓，记一笔 EXTERNAL_CLOSE 成交但不计入绩效
func Reconcile(st model.CycleState, acc exchange.Account, now time.Time, opts ReconcileOptions) (model.CycleState, Diff) {
	out := st.Clone()
	if out.Positions == nil {
		out.Positions = make(map[string]model.Position)
	}
	diff := Diff{At: now}

	venue := make(map[string]exchange.VenuePosition, len(acc.Positions))
	for _, vp := range acc.Positions {
		if vp.Quantity <= 0 || vp.Asset == "" {
			continue
		}
		venue[vp.Asset] = vp
	}

	for _, asset := range out.Assets() {
		if _, ok := venue[asset]; ok {
			continue
		}
		local := out.Positions[asset]
		delete(out.Positions, asset)
		out.TradeHistory = append(out.TradeHistory, model.Trade{
			ID:         fmt.Sprintf("ext-%s-%d", asset, now.UnixMilli()),
			Asset:      asset,
			Side:       local.Side,
			Quantity:   local.Quantity,
			EntryPrice: local.EntryPrice,
			Reason:     model.ExitExternalClose,
			External:   true,
			OrderID:    local.OrderID,
			OpenedAt:   local.EntryTime,
			ClosedAt:   now,
		})
		diff.PositionsClosed++
		diff.Changes = append(diff.Changes, Change{
			Asset:  asset,
			Kind:   ChangeClosed,
			Detail: fmt.Sprintf("%s %.6g no longer reported by venue", local.Side, local.Quantity),
		})
	}

	assets := make([]string, 0, len(venue))
	for a := range venue {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		vp := venue[asset]
		local, ok := out.Positions[asset]
		// 没有入场价无法设置止损，且落盘后会被丢弃，下次重启又会重复接管
		if (!ok || local.Side != vp.Side) && !(vp.EntryPrice > 0) {
			logger.Warn("skip venue position without entry price",
				logger.Pair("asset", asset), logger.Pair("side", vp.Side), logger.Pair("qty", vp.Quantity))
			continue
		}
		switch {
		case !ok:
			out.Positions[asset] = adopt(vp, now, opts)
			diff.PositionsUpdated++
			diff.Changes = append(diff.Changes, Change{
				Asset:  asset,
				Kind:   ChangeAdopted,
				Detail: fmt.Sprintf("%s %.6g @ %.6g", vp.Side, vp.Quantity, vp.EntryPrice),
			})
		case local.Side != vp.Side:
			out.Positions[asset] = adopt(vp, now, opts)
			diff.PositionsUpdated++
			diff.Changes = append(diff.Changes, Change{
				Asset:  asset,
				Kind:   ChangeFlipped,
				Detail: fmt.Sprintf("local %s, venue %s %.6g @ %.6g", local.Side, vp.Side, vp.Quantity, vp.EntryPrice),
			})
		case differs(local.Quantity, vp.Quantity, opts.Tolerance) || (vp.EntryPrice > 0 && differs(local.EntryPrice, vp.EntryPrice, opts.Tolerance)):
			detail := fmt.Sprintf("qty %.6g -> %.6g, entry %.6g -> %.6g", local.Quantity, vp.Quantity, local.EntryPrice, vp.EntryPrice)
			local.Quantity = vp.Quantity
			if vp.EntryPrice > 0 {
				local.EntryPrice = vp.EntryPrice
			}
			if vp.Leverage > 0 {
				local.Leverage = vp.Leverage
			}
			out.Positions[asset] = local
			diff.PositionsUpdated++
			diff.Changes = append(diff.Changes, Change{Asset: asset, Kind: ChangeCorrected, Detail: detail})
		}
	}

	out.NeedsReconcile = false
	out.LastReconcileAt = now
	return out, diff
}

func adopt(vp exchange.VenuePosition, now time.Time, opts ReconcileOptions) model.Position {
	lev := vp.Leverage
	if lev <= 0 {
		lev = 1
	}
	p := model.NewPosition(vp.Asset, vp.Side, vp.Quantity, vp.EntryPrice, lev, now)
	if opts.StopPct > 0 && vp.EntryPrice > 0 {
		dist := vp.EntryPrice * opts.StopPct / 100
		sign := vp.Side.Sign()
		p.StopLoss = vp.EntryPrice - sign*dist
		if opts.RewardRisk > 0 {
			p.TakeProfit = vp.EntryPrice + sign*dist*opts.RewardRisk
		}
	}
	return p
}

// differs 相对误差超过 tol
func differs(local, venue, tol float64) bool {
	if venue == 0 {
		return local != 0
	}
	return math.Abs(local-venue)/math.Abs(venue) > tol
}
