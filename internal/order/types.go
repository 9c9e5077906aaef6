package order

import (
	"strings"

	"github.com/shopspring/decimal"

	"futures-bot/internal/exchange"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide 把任意大小写的方向归一化为 BUY/SELL。
func ParseSide(raw string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY":
		return SideBuy, true
	case "SELL":
		return SideSell, true
	default:
		return "", false
	}
}

// Opposite 返回相反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Kind 标记订单的来源语义，用于校验规则选择与流水归因。
type Kind string

const (
	KindMarket    Kind = "MARKET"
	KindLimit     Kind = "LIMIT"
	KindStopLimit Kind = "STOP_LIMIT"
	KindOcoLeg    Kind = "OCO_LEG"
	KindTwapSlice Kind = "TWAP_SLICE"
	KindGridLevel Kind = "GRID_LEVEL"
)

// Request 是调用方构造的原始下单请求，校验后不再被修改。
type Request struct {
	Symbol      string
	Side        string
	Quantity    decimal.Decimal
	Price       decimal.Decimal // 零值表示无限价
	StopPrice   decimal.Decimal // 零值表示无触发价
	Kind        Kind
	TimeInForce string
	PostOnly    bool
	ReduceOnly  bool
}

// Validated 是通过全部校验后的归一化副本，对交易所状态不持有任何所有权。
type Validated struct {
	Symbol      string
	Side        Side
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	StopPrice   decimal.Decimal
	Kind        Kind
	TimeInForce string
	PostOnly    bool
	ReduceOnly  bool

	// ReferencePrice 是校验时捕获的参考价，价格源不可用时为零值。
	ReferencePrice decimal.Decimal
}

// Submission 把校验结果映射为交易所提交参数。
// 策略来源的 Kind 在这里落到具体的交易所订单类型。
func (v Validated) Submission() exchange.OrderSubmission {
	kind := "MARKET"
	switch v.Kind {
	case KindMarket, KindTwapSlice:
		kind = "MARKET"
	case KindLimit, KindGridLevel:
		kind = "LIMIT"
	case KindStopLimit:
		kind = "STOP_LIMIT"
	case KindOcoLeg:
		switch {
		case v.StopPrice.IsPositive() && v.Price.IsPositive():
			kind = "STOP_LIMIT"
		case v.StopPrice.IsPositive():
			kind = "STOP_MARKET"
		default:
			kind = "LIMIT"
		}
	}

	tif := v.TimeInForce
	if tif == "" && (kind == "LIMIT" || kind == "STOP_LIMIT") {
		tif = "GTC"
	}

	return exchange.OrderSubmission{
		Symbol:      v.Symbol,
		Side:        string(v.Side),
		Kind:        kind,
		Quantity:    v.Quantity.InexactFloat64(),
		Price:       v.Price.InexactFloat64(),
		StopPrice:   v.StopPrice.InexactFloat64(),
		TimeInForce: tif,
		PostOnly:    v.PostOnly,
		ReduceOnly:  v.ReduceOnly,
	}
}
