package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"futures-bot/internal/config"
	"futures-bot/internal/exchange"
	"futures-bot/internal/order"
)

// fakeExchange 按提交顺序分配递增订单号，挂单列表按轮次出队。
type fakeExchange struct {
	info       exchange.InstrumentInfo
	price      decimal.Decimal
	priceErr   error
	balance    decimal.Decimal
	listQueue  [][]exchange.OrderHandle
	listErr    error
	listErrs   map[int]error // 按 1 起始的查询序号注入失败
	listCalls  int
	submitErrs map[int]error // 按 1 起始的提交序号注入失败
	cancelErrs map[string]error
	onSubmit   func()

	submissions []exchange.OrderSubmission
	canceled    []string
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		info: exchange.InstrumentInfo{
			Symbol:         "BTCUSDT",
			Status:         "TRADING",
			PricePrecision: 2,
			QuantityStep:   decimal.RequireFromString("0.001"),
			MinQuantity:    decimal.RequireFromString("0.001"),
			MaxQuantity:    decimal.NewFromInt(1000),
		},
		price:   decimal.NewFromInt(30000),
		balance: decimal.NewFromInt(1000000),
	}
}

func (f *fakeExchange) GetInstrumentInfo(ctx context.Context, symbol string) (exchange.InstrumentInfo, error) {
	return f.info, nil
}

func (f *fakeExchange) GetReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if f.priceErr != nil {
		return decimal.Decimal{}, f.priceErr
	}
	return f.price, nil
}

func (f *fakeExchange) GetAvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	return f.balance, nil
}

func (f *fakeExchange) SubmitOrder(ctx context.Context, sub exchange.OrderSubmission) (exchange.OrderHandle, error) {
	f.submissions = append(f.submissions, sub)
	seq := len(f.submissions)
	if f.onSubmit != nil {
		f.onSubmit()
	}
	if err, ok := f.submitErrs[seq]; ok {
		return exchange.OrderHandle{}, err
	}
	return exchange.OrderHandle{
		ID:               fmt.Sprintf("order-%d", seq),
		Symbol:           sub.Symbol,
		Side:             sub.Side,
		Kind:             sub.Kind,
		Status:           exchange.OrderStatusNew,
		Price:            sub.Price,
		Quantity:         sub.Quantity,
		ExecutedQuantity: sub.Quantity,
		AvgFillPrice:     f.price.InexactFloat64(),
	}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.canceled = append(f.canceled, orderID)
	if err, ok := f.cancelErrs[orderID]; ok {
		return err
	}
	return nil
}

func (f *fakeExchange) ListOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderHandle, error) {
	f.listCalls++
	if err, ok := f.listErrs[f.listCalls]; ok {
		return nil, err
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.listQueue) == 0 {
		return nil, nil
	}
	head := f.listQueue[0]
	f.listQueue = f.listQueue[1:]
	return head, nil
}

// fakeClock 的 Sleep 不真正等待，只把虚拟时间推进到目标时刻。
// errAt 指定第几次 Sleep（1 起始）返回 sleepErr，模拟取消。
type fakeClock struct {
	now      time.Time
	sleeps   []time.Duration
	sleepErr error
	errAt    int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	if c.errAt > 0 && len(c.sleeps) >= c.errAt {
		return c.sleepErr
	}
	c.now = c.now.Add(d)
	return nil
}

func testValidationConfig() config.ValidationConfig {
	return config.ValidationConfig{
		MinOrderValue:      5,
		MaxOrderValue:      100000,
		MaxPriceDeviation:  0.10,
		StopLimitDeviation: 0.30,
		BalanceBuffer:      0.01,
		SellMarginRate:     0.05,
	}
}

func newTestPipeline(api *fakeExchange) (*order.Validator, *order.Gateway) {
	return order.NewValidator(testValidationConfig(), api, nil), order.NewGateway(api, nil)
}
