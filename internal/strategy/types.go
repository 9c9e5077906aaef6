package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"futures-bot/internal/exchange"
	"futures-bot/internal/order"
)

// PriceSource 提供策略所需的参考价。
type PriceSource interface {
	GetReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PartialFailure 表示多步策略完成了部分步骤。带上成功/失败计数，永远不静默吞掉。
type PartialFailure struct {
	Operation string
	Succeeded int
	Failed    int
	Detail    string
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%s 部分失败: 成功 %d，失败 %d（%s）",
		e.Operation, e.Succeeded, e.Failed, e.Detail)
}

// OcoState 标记 OCO 对的生命周期阶段。
type OcoState string

const (
	OcoPlacing    OcoState = "PLACING"
	OcoMonitoring OcoState = "MONITORING"
	OcoResolved   OcoState = "RESOLVED"
)

// OcoParams 描述一个 OCO 订单对。StopLimitPrice 为零时止损腿按市价触发。
type OcoParams struct {
	Symbol          string
	Side            string
	Quantity        decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopLossPrice   decimal.Decimal
	StopLimitPrice  decimal.Decimal
}

// OcoPair 持有已挂出的两条腿。监控期间归 OCO 监控器独占。
type OcoPair struct {
	Symbol     string
	Side       order.Side
	Quantity   decimal.Decimal
	TakeProfit exchange.OrderHandle
	StopLoss   exchange.OrderHandle
}

// OcoResult 汇总一次 OCO 运行的终态。
type OcoResult struct {
	Pair        OcoPair
	State       OcoState
	WinningLeg  string // take_profit | stop_loss，监控被中断时为空
	CanceledLeg string
	Interrupted bool
	Warnings    []string
}

// TwapPlan 描述一次时间加权拆单计划。
type TwapPlan struct {
	Symbol        string
	Side          string
	TotalQuantity decimal.Decimal
	NumSlices     int
	Duration      time.Duration
	ReduceOnly    bool
}

// SliceQuantity 返回单片数量。精确有理除法，不提前舍入，
// 步长校验由下游对每一片单独执行。
func (p TwapPlan) SliceQuantity() decimal.Decimal {
	return p.TotalQuantity.Div(decimal.NewFromInt(int64(p.NumSlices)))
}

// Interval 返回相邻两片的间隔。
func (p TwapPlan) Interval() time.Duration {
	return p.Duration / time.Duration(p.NumSlices)
}

// SliceOutcome 记录单片的执行结果。
type SliceOutcome struct {
	Index     int // 1 起始
	Succeeded bool
	Handle    exchange.OrderHandle
	Reason    string
}

// TwapResult 汇总 TWAP 执行的终态。Executed 只含成功片，按执行顺序排列。
type TwapResult struct {
	Plan        TwapPlan
	Outcomes    []SliceOutcome
	Executed    []exchange.OrderHandle
	Succeeded   int
	Failed      int
	AvgPrice    decimal.Decimal // 成交量加权均价，无成交时为零值
	TotalFilled decimal.Decimal
	Interrupted bool
}

// GridState 标记网格生命周期。
type GridState string

const (
	GridPending  GridState = "PENDING"
	GridPlacing  GridState = "PLACING"
	GridActive   GridState = "ACTIVE"
	GridTornDown GridState = "TORN_DOWN"
)

// GridSpec 描述一个网格梯子。
type GridSpec struct {
	Symbol           string
	LowerBound       decimal.Decimal
	UpperBound       decimal.Decimal
	NumLevels        int
	QuantityPerLevel decimal.Decimal
}

// LevelOutcome 记录单个网格档位的挂单结果。
type LevelOutcome struct {
	Price     decimal.Decimal
	Side      order.Side
	Succeeded bool
	Handle    exchange.OrderHandle
	Reason    string
}

// GridLadder 是网格策略的全部状态，策略运行期间归网格交易器独占。
type GridLadder struct {
	Spec           GridSpec
	ReferencePrice decimal.Decimal
	Levels         []decimal.Decimal
	BuyLevels      []decimal.Decimal
	SellLevels     []decimal.Decimal
	State          GridState
	Outcomes       []LevelOutcome
	Placed         int
	Failed         int
	// 挂满整个网格所需的资金：买单侧的计价币与卖单侧的标的数量。
	RequiredQuote decimal.Decimal
	RequiredBase  decimal.Decimal
	Warnings      []string
}
