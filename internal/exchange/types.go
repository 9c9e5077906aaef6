package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StatusTrading 表示合约处于可交易状态。
const StatusTrading = "TRADING"

// OrderStatus 表示交易所侧的订单状态。
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusUnknown         OrderStatus = "UNKNOWN"
)

// InstrumentInfo 描述单个合约的交易规则。每次调用都重新取自交易所元数据。
type InstrumentInfo struct {
	Symbol         string
	Status         string
	PricePrecision int32
	QuantityStep   decimal.Decimal
	MinQuantity    decimal.Decimal
	MaxQuantity    decimal.Decimal
}

// Tradeable 判断合约当前是否可交易。
func (i InstrumentInfo) Tradeable() bool {
	return i.Status == StatusTrading
}

// OrderSubmission 是提交到交易所的订单参数，已经通过校验并完成归一化。
type OrderSubmission struct {
	Symbol      string
	Side        string // BUY | SELL
	Kind        string // MARKET | LIMIT | STOP_LIMIT | STOP_MARKET
	Quantity    float64
	Price       float64 // 0 表示无限价
	StopPrice   float64 // 0 表示无触发价
	TimeInForce string
	PostOnly    bool
	ReduceOnly  bool
}

// OrderHandle 是交易所分配的订单标识与最近一次查询到的状态快照。
type OrderHandle struct {
	ID               string
	Symbol           string
	Side             string
	Kind             string
	Status           OrderStatus
	Price            float64
	Quantity         float64
	ExecutedQuantity float64
	AvgFillPrice     float64
	UpdatedAt        time.Time
}

// API 抽象交易所协作方，核心逻辑只依赖这六个方法，便于注入测试替身。
type API interface {
	GetInstrumentInfo(ctx context.Context, symbol string) (InstrumentInfo, error)
	GetReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetAvailableBalance(ctx context.Context) (decimal.Decimal, error)
	SubmitOrder(ctx context.Context, sub OrderSubmission) (OrderHandle, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	ListOpenOrders(ctx context.Context, symbol string) ([]OrderHandle, error)
}
