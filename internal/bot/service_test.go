package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"futures-bot/internal/config"
	"futures-bot/internal/exchange"
	"futures-bot/internal/journal"
	"futures-bot/internal/order"
)

type fakeExchange struct {
	info       exchange.InstrumentInfo
	price      decimal.Decimal
	priceErr   error
	balance    decimal.Decimal
	balanceErr error
	submitErr  error
	open       []exchange.OrderHandle

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
	if f.balanceErr != nil {
		return decimal.Decimal{}, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeExchange) SubmitOrder(ctx context.Context, sub exchange.OrderSubmission) (exchange.OrderHandle, error) {
	f.submissions = append(f.submissions, sub)
	if f.submitErr != nil {
		return exchange.OrderHandle{}, f.submitErr
	}
	return exchange.OrderHandle{ID: "order-1", Symbol: sub.Symbol, Status: exchange.OrderStatusNew}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeExchange) ListOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderHandle, error) {
	return f.open, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Validation: config.ValidationConfig{
			MinOrderValue:      5,
			MaxOrderValue:      100000,
			MaxPriceDeviation:  0.10,
			StopLimitDeviation: 0.30,
			BalanceBuffer:      0.01,
			SellMarginRate:     0.05,
		},
		Strategy: config.StrategyConfig{GridPostOnly: true},
	}
}

func newTestService(t *testing.T, api exchange.API) *Service {
	t.Helper()
	store, err := journal.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	jnl, err := journal.New(store, nil)
	if err != nil {
		t.Fatalf("journal.New: %v", err)
	}
	return New(testConfig(), api, jnl, nil)
}

func TestService_PlaceMarketOrderIsJournaled(t *testing.T) {
	api := newFakeExchange()
	svc := newTestService(t, api)
	ctx := context.Background()

	handle, err := svc.PlaceMarketOrder(ctx, "BTCUSDT", "BUY", decimal.RequireFromString("0.01"), false)
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if handle.ID != "order-1" {
		t.Errorf("handle id = %s", handle.ID)
	}

	events, err := svc.journal.ListEvents(ctx, journal.EventOrderPlaced, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 order_placed event, got %d", len(events))
	}
}

func TestService_RejectionIsJournaled(t *testing.T) {
	api := newFakeExchange()
	svc := newTestService(t, api)
	ctx := context.Background()

	_, err := svc.PlaceMarketOrder(ctx, "BTCUSDT", "BUY", decimal.NewFromInt(-1), false)
	if _, ok := order.AsRejection(err); !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	if len(api.submissions) != 0 {
		t.Errorf("rejected order must not reach exchange, got %d submissions", len(api.submissions))
	}

	events, err := svc.journal.ListEvents(ctx, journal.EventOrderRejected, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 order_rejected event, got %d", len(events))
	}
}

func TestService_TestChecksPriceAndBalance(t *testing.T) {
	api := newFakeExchange()
	svc := newTestService(t, api)

	if err := svc.Test(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("Test: %v", err)
	}

	api.balanceErr = errors.New("账户接口超时")
	if err := svc.Test(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("expected failure when balance is unavailable")
	}
}

func TestService_CancelAllIsJournaled(t *testing.T) {
	api := newFakeExchange()
	api.open = []exchange.OrderHandle{
		{ID: "1", Symbol: "BTCUSDT"},
		{ID: "2", Symbol: "BTCUSDT"},
	}
	svc := newTestService(t, api)
	ctx := context.Background()

	report, err := svc.CancelAllOrders(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}
	if report.Canceled != 2 {
		t.Errorf("expected 2 canceled, got %d", report.Canceled)
	}

	events, err := svc.journal.ListEvents(ctx, journal.EventCancelAll, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 cancel_all event, got %d", len(events))
	}
}
