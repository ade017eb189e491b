package quality

import (
	"fmt"
	"math"
	"strings"

	"edgetrader/conf"
	"edgetrader/internal/indicator"
	"edgetrader/internal/model"
)

// Severity 矛盾等级 none < medium < high < critical
type Severity int

const (
	SeverityNone Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "none"
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none":
		*s = SeverityNone
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", string(b))
	}
	return nil
}

// Penalty 矛盾等级对应的固定扣减
func (s Severity) Penalty() float64 {
	switch s {
	case SeverityCritical:
		return 0.30
	case SeverityHigh:
		return 0.15
	case SeverityMedium:
		return 0.05
	}
	return 0
}

// Proposal 待评估的信号方向
type Proposal struct {
	Asset  string
	Action model.Action
	// Side add/reduce/close_all 针对的持仓方向
	Side model.Side
}

type Vote struct {
	Rule        string  `json:"rule"`
	Family      Family  `json:"family"`
	Group       string  `json:"group,omitempty"`
	Weight      float64 `json:"weight"`
	Direction   int     `json:"direction"`
	Counted     bool    `json:"counted"`
	Description string  `json:"description"`
}

type Contradiction struct {
	Rule        string  `json:"rule"`
	Family      Family  `json:"family"`
	Weight      float64 `json:"weight"`
	Points      float64 `json:"points"`
	Description string  `json:"description"`
}

// RedundantGroup 被合并的冗余分组
type RedundantGroup struct {
	Name      string   `json:"name"`
	Direction int      `json:"direction"`
	Kept      string   `json:"kept"`
	Members   []string `json:"members"`
}

type Result struct {
	BullishScore       float64          `json:"bullishScore"`
	BearishScore       float64          `json:"bearishScore"`
	UniqueBullishCount int              `json:"uniqueBullishCount"`
	UniqueBearishCount int              `json:"uniqueBearishCount"`
	QualityRatio       float64          `json:"qualityRatio"`
	RedundantGroups    []RedundantGroup `json:"redundantGroups"`
	Contradictions     []Contradiction  `json:"contradictions"`
	ConflictSeverity   Severity         `json:"conflictSeverity"`
	BaseConfidence     float64          `json:"baseConfidence"`
	AdjustedConfidence float64          `json:"adjustedConfidence"`
	Votes              []Vote           `json:"votes"`
	Reasons            []string         `json:"reasons"`
	Insufficient       bool             `json:"insufficient"`
}

// Unavailable 没有任何指标时的结果：按最坏情况处理
func Unavailable(reason string) Result {
	return Result{
		ConflictSeverity: SeverityCritical,
		Reasons:          []string{reason},
		Insufficient:     true,
	}
}

type Engine struct {
	cfg   conf.QualityConfig
	rules []Rule
}

func NewEngine(cfg conf.QualityConfig) *Engine {
	return &Engine{cfg: cfg, rules: DefaultRules()}
}

// Evaluate 计算信号质量。ext 为nil时使用快照自带的外部数据
func (e *Engine) Evaluate(p Proposal, snap *indicator.Snapshot, trend indicator.TrendAlignment, ext *indicator.ExternalData) Result {
	if snap == nil {
		return Unavailable("indicator snapshot missing")
	}
	in := inputs{snap: snap, trend: trend, ext: snap.External}
	if ext != nil {
		in.ext = *ext
	}
	if snap.Available() == 0 && trend.Timeframes == 0 && !externalAvailable(in.ext) {
		return Unavailable("no usable indicators in snapshot")
	}

	votes, reported := e.collect(in)
	if reported == 0 {
		return Unavailable("no rule could read the snapshot")
	}

	var res Result
	res.Votes = votes
	res.RedundantGroups = collapse(res.Votes)

	for _, v := range res.Votes {
		if !v.Counted {
			continue
		}
		switch v.Direction {
		case 1:
			res.BullishScore += v.Weight
			res.UniqueBullishCount++
		case -1:
			res.BearishScore += v.Weight
			res.UniqueBearishCount++
		}
	}
	total := res.BullishScore + res.BearishScore
	if total > 0 {
		res.QualityRatio = res.BullishScore / total
	} else {
		res.QualityRatio = 0.5
	}

	dir := p.Action.Direction(p.Side)
	switch {
	case dir == 0:
		// hold 等无方向动作：多空越均衡越可信
		if total > 0 {
			res.BaseConfidence = 1 - math.Abs(res.BullishScore-res.BearishScore)/total
		}
	default:
		support, against := res.BullishScore, res.BearishScore
		if dir < 0 {
			support, against = against, support
		}
		if support+against > 0 {
			res.BaseConfidence = support / (support + against)
		}
		res.Contradictions, res.ConflictSeverity = e.contradictions(res.Votes, dir)
	}

	redundancy := math.Min(e.cfg.RedundancyPenaltyPerGroup*float64(len(res.RedundantGroups)), e.cfg.RedundancyPenaltyCap)
	res.AdjustedConfidence = clamp01(res.BaseConfidence * (1 - res.ConflictSeverity.Penalty()) * (1 - redundancy))
	res.BaseConfidence = clamp01(res.BaseConfidence)
	res.Reasons = reasons(res, dir, redundancy)
	return res
}

func externalAvailable(ext indicator.ExternalData) bool {
	return indicator.Has(ext.FundingRate) || indicator.Has(ext.OpenInterestChangePct) ||
		indicator.Has(ext.OrderBookImbalance) || indicator.Has(ext.WhaleActivity) || indicator.Has(ext.ExchangeNetFlow)
}

// collect 执行规则表，只保留有方向的投票；reported 为读到输入的规则数
func (e *Engine) collect(in inputs) (votes []Vote, reported int) {
	votes = make([]Vote, 0, len(e.rules))
	for _, r := range e.rules {
		dir, value, ok := r.Vote(in)
		if !ok {
			continue
		}
		reported++
		if dir == 0 || !indicator.Has(value) {
			continue
		}
		tpl := r.Bullish
		if dir < 0 {
			tpl = r.Bearish
		}
		votes = append(votes, Vote{
			Rule:        r.Name,
			Family:      r.Family,
			Group:       r.Group,
			Weight:      r.Weight,
			Direction:   dir,
			Counted:     true,
			Description: describe(tpl, value),
		})
	}
	return votes, reported
}

// collapse 同组同方向只保留权重最高的一票，返回被合并的分组
func collapse(votes []Vote) []RedundantGroup {
	type key struct {
		group string
		dir   int
	}
	best := make(map[key]int)
	members := make(map[key][]string)
	var order []key
	for i, v := range votes {
		if v.Group == "" {
			continue
		}
		k := key{v.Group, v.Direction}
		if _, ok := best[k]; !ok {
			best[k] = i
			order = append(order, k)
		} else if v.Weight > votes[best[k]].Weight {
			best[k] = i
		}
		members[k] = append(members[k], v.Rule)
	}

	var groups []RedundantGroup
	for _, k := range order {
		if len(members[k]) < 2 {
			continue
		}
		keep := best[k]
		for i := range votes {
			if votes[i].Group == k.group && votes[i].Direction == k.dir && i != keep {
				votes[i].Counted = false
			}
		}
		groups = append(groups, RedundantGroup{
			Name:      k.group,
			Direction: k.dir,
			Kept:      votes[keep].Rule,
			Members:   members[k],
		})
	}
	return groups
}

// contradictions 与信号方向相反的投票，单票点数有上限
func (e *Engine) contradictions(votes []Vote, dir int) ([]Contradiction, Severity) {
	var (
		out    []Contradiction
		points float64
	)
	for _, v := range votes {
		if !v.Counted || v.Direction != -dir {
			continue
		}
		pts := math.Min(v.Weight, e.cfg.PerVoteCap)
		points += pts
		out = append(out, Contradiction{
			Rule:        v.Rule,
			Family:      v.Family,
			Weight:      v.Weight,
			Points:      pts,
			Description: v.Description,
		})
	}

	sev := SeverityNone
	switch {
	case points >= e.cfg.CriticalPoints && len(out) >= e.cfg.CriticalMinVotes:
		sev = SeverityCritical
	case points >= e.cfg.HighPoints:
		sev = SeverityHigh
	case points >= e.cfg.MediumPoints:
		sev = SeverityMedium
	}
	return out, sev
}

func reasons(res Result, dir int, redundancy float64) []string {
	var out []string
	if len(res.Votes) == 0 {
		out = append(out, "no indicator casts a directional vote")
	}
	for _, v := range res.Votes {
		if !v.Counted {
			continue
		}
		tag := "neutral"
		if dir != 0 {
			tag = "supports"
			if v.Direction != dir {
				tag = "contradicts"
			}
		}
		out = append(out, fmt.Sprintf("[%s] %s", tag, v.Description))
	}
	for _, g := range res.RedundantGroups {
		out = append(out, fmt.Sprintf("redundant %s group collapsed to %s (%s)", g.Name, g.Kept, strings.Join(g.Members, ", ")))
	}
	if res.ConflictSeverity != SeverityNone {
		out = append(out, fmt.Sprintf("%s contradiction: confidence reduced by %.0f%%", res.ConflictSeverity, res.ConflictSeverity.Penalty()*100))
	}
	if redundancy > 0 {
		out = append(out, fmt.Sprintf("redundancy penalty %.0f%%", redundancy*100))
	}
	return out
}

func describe(tpl string, value float64) string {
	if !strings.Contains(strings.ReplaceAll(tpl, "%%", ""), "%") {
		return tpl
	}
	return fmt.Sprintf(tpl, value)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
