package cycle

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"edgetrader/conf"
	"edgetrader/internal/exchange"
	"edgetrader/internal/exit"
	"edgetrader/internal/gate"
	"edgetrader/internal/indicator"
	"edgetrader/internal/metrics"
	"edgetrader/internal/model"
	"edgetrader/internal/quality"
	"edgetrader/internal/ranking"
	"edgetrader/internal/risk"
	"edgetrader/internal/signal"
	"edgetrader/pkg/logger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// reconcileTolerance 数量、入场价的相对误差容忍度
const reconcileTolerance = 0.001

// dustRatio 剩余数量低于原数量的这个比例视为全部平仓
const dustRatio = 1e-6

var (
	ErrNotInitialized = errors.New("cycle manager not initialized")
	ErrNoAccount      = errors.New("reconciliation requires a venue account source")
	errStalePrice     = errors.New("stale price")
)

// SnapshotSource 指标快照，indicator.Builder 实现
type SnapshotSource interface {
	Build(ctx context.Context, asset string) (*indicator.Snapshot, error)
}

// PriceSource 返回不早于 notBefore 的价格
type PriceSource interface {
	Quote(ctx context.Context, asset string, notBefore time.Time) (float64, time.Time, error)
}

// AccountSource 交易所账户，LIVE 模式对账使用
type AccountSource interface {
	Account(ctx context.Context) (exchange.Account, error)
}

type RankSource interface {
	Rank(ctx context.Context) (ranking.Ranking, error)
}

// Deps Store、Executor、Prices 必填；LIVE 模式还需要 Account
type Deps struct {
	Store      Store
	Executor   exchange.Executor
	Snapshots  SnapshotSource
	Prices     PriceSource
	Account    AccountSource
	Ranker     RankSource
	Metrics    *metrics.Metrics
	Publishers []Publisher
	// NodeID snowflake 节点号，多实例时需要区分
	NodeID int64
}

// TickInput 为空时按配置的资产和排名生成快照
type TickInput struct {
	Assets    []string
	Snapshots map[string]*indicator.Snapshot
}

// Manager 周期状态的唯一写入者，Tick、Reconcile、ResetBreaker 与读取互斥
type Manager struct {
	cfg        *conf.Config
	store      Store
	executor   exchange.Executor
	snapshots  SnapshotSource
	prices     PriceSource
	account    AccountSource
	ranker     RankSource
	metrics    *metrics.Metrics
	publishers []Publisher

	proposer  *signal.Proposer
	evaluator *exit.Evaluator
	breaker   *risk.Breaker
	ids       *snowflake.Node

	mu          sync.Mutex
	state       model.CycleState
	last        Report
	initialized bool
	now         func() time.Time
}

func NewManager(cfg *conf.Config, deps Deps) (*Manager, error) {
	if deps.Store == nil || deps.Executor == nil || deps.Prices == nil {
		return nil, errors.New("cycle manager requires store, executor and price source")
	}
	if deps.Executor.Mode() != cfg.Trading.Mode {
		return nil, fmt.Errorf("executor mode %s does not match trading mode %s", deps.Executor.Mode(), cfg.Trading.Mode)
	}
	if cfg.Trading.Mode == conf.ModeLive && deps.Account == nil {
		return nil, fmt.Errorf("%w: LIVE mode requires a venue account source", conf.ErrMissingCredentials)
	}
	node, err := snowflake.NewNode(deps.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	return &Manager{
		cfg:        cfg,
		store:      deps.Store,
		executor:   deps.Executor,
		snapshots:  deps.Snapshots,
		prices:     deps.Prices,
		account:    deps.Account,
		ranker:     deps.Ranker,
		metrics:    deps.Metrics,
		publishers: deps.Publishers,
		proposer: signal.NewProposer(
			quality.NewEngine(cfg.Quality),
			gate.New(cfg.Gate, cfg.Trading.ExecutionMode),
			cfg,
		),
		evaluator: exit.NewEvaluator(cfg.Exit),
		breaker:   risk.NewBreaker(cfg.Breaker),
		ids:       node,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (m *Manager) live() bool {
	return m.cfg.Trading.Mode == conf.ModeLive
}

func (m *Manager) manual() bool {
	return m.cfg.Trading.ExecutionMode == conf.ExecManual
}

// Initialize 恢复持久化状态，没有或已损坏时新建；LIVE 模式启动即对账
func (m *Manager) Initialize(ctx context.Context) (model.CycleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	st, err := m.store.Load(ctx)
	switch {
	case err == nil:
		logger.Infof("restored cycle %s: %d positions, %d trades", st.CycleID, len(st.Positions), len(st.TradeHistory))
	case errors.Is(err, ErrStateNotFound):
		st = m.fresh(ctx, now)
		logger.Infof("no persisted state, starting cycle %s", st.CycleID)
	case errors.Is(err, ErrStateCorrupt):
		logger.Errorf("discarding corrupt cycle state: %v", err)
		st = m.fresh(ctx, now)
	default:
		return model.CycleState{}, fmt.Errorf("load cycle state: %w", err)
	}
	m.state = st
	m.syncStatus()

	if m.live() {
		if _, err := m.reconcileLocked(ctx, now); err != nil {
			logger.Warnf("startup reconciliation failed, openings blocked until it succeeds: %v", err)
			m.state.NeedsReconcile = true
		}
	}
	if err := m.save(ctx); err != nil {
		return model.CycleState{}, err
	}
	m.initialized = true
	m.observeState()
	return m.state.Clone(), nil
}

func (m *Manager) fresh(ctx context.Context, now time.Time) model.CycleState {
	equity := m.cfg.Trading.Capital
	if m.live() {
		if acc, err := m.account.Account(ctx); err == nil && acc.Equity > 0 {
			equity = acc.Equity
		} else if err != nil {
			logger.Warnf("venue equity unavailable, using configured capital: %v", err)
		}
	}
	return model.NewCycleState(m.ids.Generate().String(), equity, now)
}

// syncStatus 状态跟随熔断器
func (m *Manager) syncStatus() {
	if m.state.Breaker.Open() {
		m.state.Status = model.StatusCircuitBroken
		return
	}
	m.state.Status = model.StatusRunning
}

func (m *Manager) save(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, m.state); err != nil {
		return fmt.Errorf("persist cycle state: %w", err)
	}
	return nil
}

// State 当前状态的快照
func (m *Manager) State() model.CycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// LastReport 最近一轮的报告
func (m *Manager) LastReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// ResetBreaker 人工复位熔断，并以当前权益作为新的回撤峰值，否则下一轮会因同一回撤再次熔断
func (m *Manager) ResetBreaker(ctx context.Context) (model.CycleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return model.CycleState{}, ErrNotInitialized
	}
	m.breaker.Reset(&m.state.Breaker)
	rebaseDrawdown(&m.state.Performance)
	m.syncStatus()
	m.state.UpdatedAt = m.now()
	m.observeState()
	return m.state.Clone(), m.save(ctx)
}

// Reconcile 拉取交易所账户并修正本地持仓
func (m *Manager) Reconcile(ctx context.Context) (Diff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return Diff{}, ErrNotInitialized
	}
	if m.account == nil {
		return Diff{}, ErrNoAccount
	}
	diff, err := m.reconcileLocked(ctx, m.now())
	if err != nil {
		return Diff{}, err
	}
	m.observeState()
	return diff, m.save(ctx)
}

func (m *Manager) reconcileOptions() ReconcileOptions {
	return ReconcileOptions{
		Tolerance:  reconcileTolerance,
		StopPct:    m.cfg.Signal.StopPct,
		RewardRisk: m.cfg.Signal.RewardRisk,
	}
}

func (m *Manager) reconcileLocked(ctx context.Context, now time.Time) (Diff, error) {
	acc, err := m.account.Account(ctx)
	if err != nil {
		return Diff{}, fmt.Errorf("fetch venue account: %w", err)
	}
	st, diff := Reconcile(m.state, acc, now, m.reconcileOptions())
	if acc.Equity > 0 {
		markEquity(&st, acc.Equity, now)
	}
	m.state = st
	if diff.Empty() {
		logger.Infof("reconciled with venue: no differences")
	} else {
		logger.Warn("reconciled with venue",
			logger.Pair("updated", diff.PositionsUpdated),
			logger.Pair("closed", diff.PositionsClosed),
			logger.Pair("changes", diff.Changes))
	}
	if m.metrics != nil {
		for _, c := range diff.Changes {
			m.metrics.ReconcileTotal.WithLabelValues(string(c.Kind)).Inc()
		}
	}
	return diff, nil
}

func (m *Manager) reconcileDue(now time.Time) bool {
	if !m.live() || m.account == nil {
		return false
	}
	if m.state.NeedsReconcile || m.state.LastReconcileAt.IsZero() {
		return true
	}
	iv := m.cfg.Trading.ReconcileInterval
	return iv > 0 && now.Sub(m.state.LastReconcileAt) >= iv
}

func (m *Manager) rankingDue(now time.Time) bool {
	if m.ranker == nil || m.cfg.Trading.TopN <= 0 {
		return false
	}
	return m.state.LastRankingAt.IsZero() || now.Sub(m.state.LastRankingAt) >= m.cfg.Trading.RankingInterval
}

// universe 配置资产、排名资产与持仓资产的并集，字母序
func (m *Manager) universe(in TickInput) []string {
	set := make(map[string]struct{})
	if len(in.Assets) > 0 {
		for _, a := range in.Assets {
			set[a] = struct{}{}
		}
	} else {
		for _, a := range m.cfg.Trading.Assets {
			set[a] = struct{}{}
		}
		for _, a := range m.state.TopN {
			set[a] = struct{}{}
		}
	}
	for a := range m.state.Positions {
		set[a] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		if a != "" {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

type proposal struct {
	asset string
	snap  *indicator.Snapshot
	sig   signal.Signal
	err   error
}

// generate 并行生成信号，单个资产失败或panic只影响自己
func (m *Manager) generate(ctx context.Context, assets []string, given map[string]*indicator.Snapshot, now time.Time) []proposal {
	out := make([]proposal, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.cfg.Trading.Workers, 1))
	for i, asset := range assets {
		i, asset := i, asset
		out[i].asset = asset
		var pos *model.Position
		if p, ok := m.state.Positions[asset]; ok {
			c := p.Clone()
			pos = &c
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					out[i].err = fmt.Errorf("panic: %v", r)
					logger.Errorf("signal generation for %s panicked: %v\n%s", asset, r, debug.Stack())
				}
			}()
			snap := given[asset]
			if snap == nil {
				if m.snapshots == nil {
					out[i].err = errors.New("no snapshot source configured")
					return nil
				}
				var err error
				if snap, err = m.snapshots.Build(gctx, asset); err != nil {
					out[i].err = fmt.Errorf("snapshot: %w", err)
					return nil
				}
			}
			out[i].snap = snap
			out[i].sig = m.proposer.Propose(snap, pos, now)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

type quote struct {
	price float64
	at    time.Time
	err   error
}

// pricer 本轮价格缓存，只接受信号生成完成之后的价格
type pricer struct {
	src       PriceSource
	notBefore time.Time
	cache     map[string]quote
}

func (p *pricer) get(ctx context.Context, asset string) (float64, time.Time, error) {
	if q, ok := p.cache[asset]; ok {
		return q.price, q.at, q.err
	}
	px, at, err := p.src.Quote(ctx, asset, p.notBefore)
	switch {
	case err != nil:
	case px <= 0:
		err = fmt.Errorf("invalid price %.6g", px)
	case at.Before(p.notBefore):
		err = fmt.Errorf("%w: quoted at %s, signals generated at %s", errStalePrice,
			at.Format(time.RFC3339), p.notBefore.Format(time.RFC3339))
	}
	p.cache[asset] = quote{price: px, at: at, err: err}
	return px, at, err
}

// Tick 执行一轮：对账 → 排名 → 并行生成信号 → 取价 → 退出 → 开仓/加减仓 → 绩效 → 持久化 → 报告。
// 返回的 error 汇总本轮各资产的失败，仅用于日志，状态已照常推进
func (m *Manager) Tick(ctx context.Context, in TickInput) (model.CycleState, Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return model.CycleState{}, Report{}, ErrNotInitialized
	}
	started := time.Now()
	now := m.now()
	rep := Report{
		CycleID:       m.state.CycleID,
		Tick:          m.state.TickCount + 1,
		Mode:          m.cfg.Trading.Mode,
		ExecutionMode: m.cfg.Trading.ExecutionMode,
		StartedAt:     now,
	}
	var errs error

	if m.reconcileDue(now) {
		diff, err := m.reconcileLocked(ctx, now)
		if err != nil {
			rep.fail("", "reconcile", err)
			errs = multierr.Append(errs, err)
		} else {
			rep.Reconcile = &diff
		}
	}

	if m.rankingDue(now) {
		r, err := m.ranker.Rank(ctx)
		if err != nil {
			rep.fail("", "ranking", err)
			errs = multierr.Append(errs, fmt.Errorf("ranking: %w", err))
		} else {
			m.state.TopN = r.Assets()
			m.state.LastRankingAt = now
		}
	}

	rep.Universe = m.universe(in)
	props := m.generate(ctx, rep.Universe, in.Snapshots, now)
	byAsset := make(map[string]proposal, len(props))
	for _, p := range props {
		if p.err != nil {
			rep.fail(p.asset, "signal", p.err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.asset, p.err))
			continue
		}
		byAsset[p.asset] = p
		rep.Signals = append(rep.Signals, p.sig.Summary())
		if m.metrics != nil {
			m.metrics.SignalsTotal.WithLabelValues(string(p.sig.Action), string(p.sig.Tier())).Inc()
		}
	}

	prices := &pricer{src: m.prices, notBefore: m.now(), cache: make(map[string]quote)}

	for _, asset := range m.state.Assets() {
		if err := m.evaluateExit(ctx, &rep, asset, byAsset[asset], prices, now); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", asset, err))
		}
	}

	for _, p := range props {
		if p.err != nil {
			continue
		}
		if err := m.act(ctx, &rep, p.sig, prices, now); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.asset, err))
		}
	}

	markEquity(&m.state, m.state.Performance.Equity, now)
	m.breaker.Check(&m.state.Breaker, m.state.Performance, now)
	m.syncStatus()
	m.state.TickCount++
	m.state.UpdatedAt = now

	if err := m.save(ctx); err != nil {
		rep.fail("", "persist", err)
		errs = multierr.Append(errs, err)
	} else {
		rep.Persisted = true
	}

	rep.FinishedAt = m.now()
	rep.Breaker = m.state.Breaker
	rep.Equity = m.state.Performance.Equity
	rep.DrawdownPct = m.state.Performance.CurrentDrawdownPct
	rep.OpenPositions = len(m.state.Positions)
	m.last = rep
	m.publish(ctx, rep)

	m.observeState()
	if m.metrics != nil {
		for _, f := range rep.Failures {
			m.metrics.ExecutionErrors.WithLabelValues(f.Stage).Inc()
		}
	}
	m.metrics.ObserveTick(started, errs)
	return m.state.Clone(), rep, errs
}

// evaluateExit 跟踪字段每轮写回，触发退出时执行主导条件
func (m *Manager) evaluateExit(ctx context.Context, rep *Report, asset string, p proposal, prices *pricer, now time.Time) error {
	pos := m.state.Positions[asset]
	px, at, err := prices.get(ctx, asset)
	if errors.Is(err, errStalePrice) {
		rep.skip(asset, err.Error())
		return nil
	}
	if err != nil {
		rep.fail(asset, "price", err)
		return fmt.Errorf("price: %w", err)
	}

	in := exit.Inputs{Price: px, At: at, Snapshot: p.snap}
	if p.snap != nil && (p.sig.Action == model.ActBuyToEnter || p.sig.Action == model.ActSellToEnter) &&
		float64(p.sig.Direction()) == -pos.Side.Sign() {
		in.Reversal = &exit.Reversal{
			Direction:  p.sig.Direction(),
			Confidence: p.sig.Confidence(),
			Rejected:   p.sig.Tier() == gate.Rejected,
		}
	}
	if inTop, known := m.state.InTopN(asset); known {
		in.InTopN = &inTop
	}

	ev := m.evaluator.Evaluate(pos, in)
	if ev.Insufficient {
		rep.skip(asset, ev.Reason)
		return nil
	}
	ev.Update.Apply(&pos)
	m.state.Positions[asset] = pos
	if ev.Governing == nil {
		return nil
	}

	// 以主导条件的原因与价格执行，数量取所有触发条件的最大值
	gov := *ev.Governing
	gov.ExitSize = ev.ExitSize()
	er := ExitReport{Asset: asset, Governing: gov}
	for _, c := range ev.Fired {
		er.Fired = append(er.Fired, c.Reason)
	}
	if m.manual() {
		er.Note = "manual mode: exit reported only"
		rep.Exits = append(rep.Exits, er)
		return nil
	}

	intent := exchange.IntentFromExit(pos, gov, px)
	res := m.executor.Execute(ctx, intent)
	m.observeOrder(intent, res)
	er.Executed = res.FilledSize > 0
	if res.Err != nil {
		er.Note = res.Error()
	}
	rep.Exits = append(rep.Exits, er)
	if m.metrics != nil && er.Executed {
		m.metrics.ExitsTotal.WithLabelValues(string(gov.Reason)).Inc()
	}
	return m.settleReduce(rep, asset, res, gov.Reason, ev.Consume, now)
}

// settleReduce 平仓/减仓成交后更新持仓、成交历史、绩效与熔断
func (m *Manager) settleReduce(rep *Report, asset string, res exchange.Result, reason model.ExitReason, consume func(*model.Position), now time.Time) error {
	stage := "exit"
	if reason == model.ExitSignalClose {
		stage = "reduce"
	}
	if res.Status == model.ExecUnknownOutcome {
		m.state.NeedsReconcile = true
	}
	if res.FilledSize <= 0 {
		err := res.Err
		if err == nil {
			err = fmt.Errorf("order not filled (%s)", res.Status)
		}
		rep.fail(asset, stage, err)
		return err
	}

	pos := m.state.Positions[asset]
	qty := min(res.FilledSize, pos.Quantity)
	pnl := pos.PnL(res.FillPrice, qty)
	remaining := pos.Quantity - qty
	full := remaining <= pos.Quantity*dustRatio

	m.state.TradeHistory = append(m.state.TradeHistory, model.Trade{
		ID:         m.ids.Generate().String(),
		Asset:      asset,
		Side:       pos.Side,
		Quantity:   qty,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  res.FillPrice,
		PnL:        pnl,
		PnLPct:     pos.GainPct(res.FillPrice),
		Reason:     reason,
		Partial:    !full,
		OrderID:    res.OrderID,
		OpenedAt:   pos.EntryTime,
		ClosedAt:   now,
	})
	applyTrade(&m.state, pnl, now)
	m.breaker.RecordTrade(&m.state.Breaker, pnl, now)

	fill := Fill{
		Asset:    asset,
		Side:     pos.Side,
		Quantity: qty,
		Price:    res.FillPrice,
		PnL:      pnl,
		Reason:   string(reason),
		OrderID:  res.OrderID,
		Status:   res.Status,
		Attempts: res.Attempts,
		Slippage: res.Slippage,
		At:       now,
	}
	if full {
		delete(m.state.Positions, asset)
		fill.Action = FillClose
		rep.Closed = append(rep.Closed, fill)
		logger.Infof("closed %s %s %.6g @ %.6g pnl %.2f (%s)", pos.Side, asset, qty, res.FillPrice, pnl, reason)
	} else {
		pos.Quantity = remaining
		if consume != nil {
			consume(&pos)
		}
		m.state.Positions[asset] = pos
		fill.Action = FillTrim
		rep.Trimmed = append(rep.Trimmed, fill)
		logger.Infof("trimmed %s %s %.6g @ %.6g pnl %.2f (%s)", pos.Side, asset, qty, res.FillPrice, pnl, reason)
	}
	if res.Err != nil {
		rep.fail(asset, stage, res.Err)
		return res.Err
	}
	return nil
}

// act 处理信号：开仓、加仓、减仓、清仓
func (m *Manager) act(ctx context.Context, rep *Report, sig signal.Signal, prices *pricer, now time.Time) error {
	switch sig.Action {
	case model.ActBuyToEnter, model.ActSellToEnter:
		if _, ok := m.state.Positions[sig.Asset]; ok {
			rep.reject(sig, "position already open")
			return nil
		}
		if reason := m.admit(sig); reason != "" {
			rep.reject(sig, reason)
			return nil
		}
		if len(m.state.Positions) >= m.cfg.Trading.MaxPositions {
			rep.reject(sig, fmt.Sprintf("max positions %d reached", m.cfg.Trading.MaxPositions))
			return nil
		}
		return m.open(ctx, rep, sig, prices, now)
	case model.ActAdd:
		pos, ok := m.state.Positions[sig.Asset]
		if !ok || pos.Side != sig.Side {
			rep.reject(sig, "no matching position to add to")
			return nil
		}
		if reason := m.admit(sig); reason != "" {
			rep.reject(sig, reason)
			return nil
		}
		return m.open(ctx, rep, sig, prices, now)
	case model.ActReduce, model.ActCloseAll:
		pos, ok := m.state.Positions[sig.Asset]
		if !ok {
			return nil
		}
		if m.manual() {
			rep.reject(sig, "manual mode: reported only")
			return nil
		}
		size := pos.Quantity
		if sig.Action == model.ActReduce {
			size = pos.Quantity * m.cfg.Signal.ReducePct / 100
		}
		px, _, err := prices.get(ctx, sig.Asset)
		if errors.Is(err, errStalePrice) {
			rep.skip(sig.Asset, err.Error())
			return nil
		}
		if err != nil {
			rep.fail(sig.Asset, "price", err)
			return err
		}
		intent, err := exchange.IntentFromSignal(sig, size, px)
		if err != nil {
			rep.fail(sig.Asset, "reduce", err)
			return err
		}
		res := m.executor.Execute(ctx, intent)
		m.observeOrder(intent, res)
		return m.settleReduce(rep, sig.Asset, res, model.ExitSignalClose, nil, now)
	}
	return nil
}

// admit 开仓与加仓的前置条件，返回拒绝原因
func (m *Manager) admit(sig signal.Signal) string {
	if sig.Tier() != gate.AutoTrade {
		return fmt.Sprintf("%s: %s", sig.Tier(), sig.Decision.Reason)
	}
	if m.manual() {
		return "manual mode: reported only"
	}
	if err := m.breaker.Allow(m.state.Breaker); err != nil {
		return err.Error()
	}
	if m.state.NeedsReconcile {
		return "awaiting reconciliation after an unknown order outcome"
	}
	return ""
}

// open 开仓或加仓，加仓按成交量加权更新入场价
func (m *Manager) open(ctx context.Context, rep *Report, sig signal.Signal, prices *pricer, now time.Time) error {
	px, _, err := prices.get(ctx, sig.Asset)
	if errors.Is(err, errStalePrice) {
		rep.skip(sig.Asset, err.Error())
		return nil
	}
	if err != nil {
		rep.fail(sig.Asset, "price", err)
		return err
	}
	size := m.cfg.Trading.CapitalPerTrade * m.cfg.Trading.Leverage / px
	intent, err := exchange.IntentFromSignal(sig, size, px)
	if err != nil {
		rep.fail(sig.Asset, "open", err)
		return err
	}
	res := m.executor.Execute(ctx, intent)
	m.observeOrder(intent, res)
	if res.Status == model.ExecUnknownOutcome {
		m.state.NeedsReconcile = true
	}
	if res.FilledSize <= 0 {
		err := res.Err
		if err == nil {
			err = fmt.Errorf("order not filled (%s)", res.Status)
		}
		rep.fail(sig.Asset, "open", err)
		return err
	}

	fill := Fill{
		Asset:    sig.Asset,
		Action:   FillOpen,
		Side:     model.SideOf(sig.Direction()),
		Quantity: res.FilledSize,
		Price:    res.FillPrice,
		Reason:   string(sig.Action),
		OrderID:  res.OrderID,
		Status:   res.Status,
		Attempts: res.Attempts,
		Slippage: res.Slippage,
		At:       now,
	}
	if pos, ok := m.state.Positions[sig.Asset]; ok {
		qty := pos.Quantity + res.FilledSize
		pos.EntryPrice = (pos.Quantity*pos.EntryPrice + res.FilledSize*res.FillPrice) / qty
		pos.Quantity = qty
		pos.Adds++
		pos.Observe(res.FillPrice)
		m.state.Positions[sig.Asset] = pos
		fill.Action = FillAdd
		logger.Infof("added %s %s %.6g @ %.6g, now %.6g @ %.6g", pos.Side, sig.Asset, res.FilledSize, res.FillPrice, qty, pos.EntryPrice)
	} else {
		pos := model.NewPosition(sig.Asset, fill.Side, res.FilledSize, res.FillPrice, m.cfg.Trading.Leverage, now)
		pos.StopLoss = sig.StopLoss
		pos.TakeProfit = sig.TakeProfit
		pos.OrderID = res.OrderID
		m.state.Positions[sig.Asset] = pos
		logger.Infof("opened %s %s %.6g @ %.6g stop %.6g target %.6g", pos.Side, sig.Asset, res.FilledSize, res.FillPrice, pos.StopLoss, pos.TakeProfit)
	}
	rep.Opened = append(rep.Opened, fill)
	if res.Err != nil {
		rep.fail(sig.Asset, "open", res.Err)
		return res.Err
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, rep Report) {
	for _, p := range m.publishers {
		if err := p.Publish(ctx, rep); err != nil {
			logger.Warnf("publish report for tick %d: %v", rep.Tick, err)
		}
	}
}

func (m *Manager) observeOrder(intent exchange.Intent, res exchange.Result) {
	if m.metrics == nil {
		return
	}
	m.metrics.OrdersTotal.WithLabelValues(string(intent.Side), string(res.Status)).Inc()
}

func (m *Manager) observeState() {
	if m.metrics == nil {
		return
	}
	m.metrics.OpenPositions.Set(float64(len(m.state.Positions)))
	m.metrics.Equity.Set(m.state.Performance.Equity)
	m.metrics.DrawdownPct.Set(m.state.Performance.CurrentDrawdownPct)
	open := 0.0
	if m.state.Breaker.Open() {
		open = 1
	}
	m.metrics.BreakerOpen.Set(open)
}

// Run 按 TickInterval 循环执行，ctx 取消后标记为 STOPPED 并持久化
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Trading.TickInterval)
	defer ticker.Stop()
	for {
		m.runOnce(ctx)
		select {
		case <-ctx.Done():
			return m.stop()
		case <-ticker.C:
		}
	}
}

func (m *Manager) runOnce(ctx context.Context) {
	_, rep, err := m.Tick(ctx, TickInput{})
	if err != nil {
		logger.Warnf("tick %d finished with errors: %v", rep.Tick, err)
	}
	logger.Info("tick done",
		logger.Pair("tick", rep.Tick),
		logger.Pair("signals", len(rep.Signals)),
		logger.Pair("opened", len(rep.Opened)),
		logger.Pair("closed", len(rep.Closed)),
		logger.Pair("trimmed", len(rep.Trimmed)),
		logger.Pair("failures", len(rep.Failures)),
		logger.Pair("equity", rep.Equity))
}

func (m *Manager) stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil
	}
	m.state.Status = model.StatusStopped
	m.state.UpdatedAt = m.now()
	logger.Infof("cycle %s stopped after %d ticks", m.state.CycleID, m.state.TickCount)
	return m.save(context.Background())
}
