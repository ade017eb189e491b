package model

// Action 信号动作
type Action string

const (
	ActBuyToEnter  Action = "buy_to_enter"
	ActSellToEnter Action = "sell_to_enter"
	ActAdd         Action = "add"
	ActReduce      Action = "reduce"
	ActHold        Action = "hold"
	ActCloseAll    Action = "close_all"
)

// Directional 是否携带入场/止损/止盈价格
func (a Action) Directional() bool {
	switch a {
	case ActBuyToEnter, ActSellToEnter, ActAdd:
		return true
	}
	return false
}

// Opens 是否会增加敞口
func (a Action) Opens() bool {
	return a.Directional()
}

// Direction 信号方向：1看多，-1看空，0无方向
// side 为add/reduce/close_all所针对的持仓方向
func (a Action) Direction(side Side) int {
	switch a {
	case ActBuyToEnter:
		return 1
	case ActSellToEnter:
		return -1
	case ActAdd:
		return int(side.Sign())
	case ActReduce, ActCloseAll:
		if side == "" {
			return 0
		}
		return -int(side.Sign())
	}
	return 0
}

// SideOf 方向对应的持仓方向
func SideOf(direction int) Side {
	if direction < 0 {
		return Short
	}
	return Long
}
