package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"futures-bot/internal/exchange"
	"futures-bot/internal/order"
)

func sellOcoParams() OcoParams {
	// 参考价 30000 的持多止盈/止损布局。
	return OcoParams{
		Symbol:          "BTCUSDT",
		Side:            "SELL",
		Quantity:        decimal.RequireFromString("0.01"),
		TakeProfitPrice: decimal.NewFromInt(32000),
		StopLossPrice:   decimal.NewFromInt(29000),
	}
}

func TestOcoPlace_TakeProfitLegGoesFirst(t *testing.T) {
	api := newFakeExchange()
	validator, gateway := newTestPipeline(api)
	m := NewOcoMonitor(validator, gateway, api, newFakeClock(), time.Second, nil)

	pair, warnings, err := m.Place(context.Background(), sellOcoParams())
	if err != nil {
		t.Fatalf("Place returned error: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("well-laid-out legs should not warn, got %v", warnings)
	}
	if len(api.submissions) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(api.submissions))
	}

	tp := api.submissions[0]
	if tp.Kind != "LIMIT" || tp.Price != 32000 {
		t.Errorf("first leg should be take-profit LIMIT@32000, got %+v", tp)
	}
	sl := api.submissions[1]
	if sl.Kind != "STOP_MARKET" || sl.StopPrice != 29000 {
		t.Errorf("second leg should be STOP_MARKET@29000, got %+v", sl)
	}
	if pair.TakeProfit.ID != "order-1" || pair.StopLoss.ID != "order-2" {
		t.Errorf("unexpected pair ids: %+v", pair)
	}
}

func TestOcoPlace_StopLimitLegWhenLimitPriceGiven(t *testing.T) {
	api := newFakeExchange()
	validator, gateway := newTestPipeline(api)
	m := NewOcoMonitor(validator, gateway, api, newFakeClock(), time.Second, nil)

	params := sellOcoParams()
	params.StopLimitPrice = decimal.NewFromInt(28900)
	if _, _, err := m.Place(context.Background(), params); err != nil {
		t.Fatalf("Place returned error: %v", err)
	}
	sl := api.submissions[1]
	if sl.Kind != "STOP_LIMIT" || sl.Price != 28900 || sl.StopPrice != 29000 {
		t.Errorf("expected STOP_LIMIT leg with trigger 29000 and limit 28900, got %+v", sl)
	}
}

func TestOcoPlace_FirstLegFailureAbortsEverything(t *testing.T) {
	api := newFakeExchange()
	api.submitErrs = map[int]error{1: errors.New("下单失败")}
	validator, gateway := newTestPipeline(api)
	m := NewOcoMonitor(validator, gateway, api, newFakeClock(), time.Second, nil)

	pair, _, err := m.Place(context.Background(), sellOcoParams())
	if err == nil {
		t.Fatal("expected error when first leg fails")
	}
	if pair != nil {
		t.Errorf("no pair should exist after first-leg failure, got %+v", pair)
	}
	if len(api.submissions) != 1 {
		t.Errorf("second leg must not be attempted, got %d submissions", len(api.submissions))
	}
}

func TestOcoPlace_SecondLegFailureLeavesLoneLeg(t *testing.T) {
	api := newFakeExchange()
	api.submitErrs = map[int]error{2: errors.New("下单失败")}
	validator, gateway := newTestPipeline(api)
	m := NewOcoMonitor(validator, gateway, api, newFakeClock(), time.Second, nil)

	pair, warnings, err := m.Place(context.Background(), sellOcoParams())
	var partial *PartialFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialFailure, got %v", err)
	}
	if pair == nil || pair.TakeProfit.ID != "order-1" {
		t.Fatalf("lone take-profit leg must be reported, got %+v", pair)
	}
	if pair.StopLoss.ID != "" {
		t.Errorf("stop-loss leg should be empty, got %+v", pair.StopLoss)
	}
	if len(warnings) == 0 {
		t.Error("lone leg must produce an operator warning")
	}
	if len(api.canceled) != 0 {
		t.Errorf("lone leg must not be auto-canceled, got cancels %v", api.canceled)
	}
}

func TestOcoPlace_InvertedLayoutIsRejected(t *testing.T) {
	api := newFakeExchange()
	validator, gateway := newTestPipeline(api)
	m := NewOcoMonitor(validator, gateway, api, newFakeClock(), time.Second, nil)

	params := sellOcoParams()
	params.TakeProfitPrice = decimal.NewFromInt(29000)
	params.StopLossPrice = decimal.NewFromInt(32000)

	_, _, err := m.Place(context.Background(), params)
	rej, ok := order.AsRejection(err)
	if !ok || rej.Kind != order.RejectInvalidStrategy {
		t.Fatalf("expected INVALID_STRATEGY rejection, got %v", err)
	}
	if len(api.submissions) != 0 {
		t.Errorf("nothing should be submitted, got %d submissions", len(api.submissions))
	}
}

func TestOcoPlace_SkipsLayoutCheckWithoutReference(t *testing.T) {
	api := newFakeExchange()
	api.priceErr = errors.New("行情接口超时")
	validator, gateway := newTestPipeline(api)
	m := NewOcoMonitor(validator, gateway, api, newFakeClock(), time.Second, nil)

	params := sellOcoParams()
	params.TakeProfitPrice = decimal.NewFromInt(29000)
	params.StopLossPrice = decimal.NewFromInt(32000)

	// 参考价不可用时方向检查整体跳过，订单照常挂出。
	if _, _, err := m.Place(context.Background(), params); err != nil {
		t.Fatalf("layout check should be skipped without reference, got %v", err)
	}
}

func monitoredPair() OcoPair {
	return OcoPair{
		Symbol:     "BTCUSDT",
		Side:       order.SideSell,
		Quantity:   decimal.RequireFromString("0.01"),
		TakeProfit: exchange.OrderHandle{ID: "tp-1", Symbol: "BTCUSDT"},
		StopLoss:   exchange.OrderHandle{ID: "sl-1", Symbol: "BTCUSDT"},
	}
}

func TestOcoMonitor_TakeProfitWins(t *testing.T) {
	api := newFakeExchange()
	pair := monitoredPair()
	api.listQueue = [][]exchange.OrderHandle{
		{pair.TakeProfit, pair.StopLoss}, // 第一轮都在
		{pair.StopLoss},                  // 第二轮止盈腿消失
	}
	validator, gateway := newTestPipeline(api)
	m := NewOcoMonitor(validator, gateway, api, newFakeClock(), time.Second, nil)

	result, err := m.Monitor(context.Background(), pair)
	if err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}
	if result.State != OcoResolved || result.WinningLeg != "take_profit" || result.CanceledLeg != "stop_loss" {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(api.canceled) != 1 || api.canceled[0] != "sl-1" {
		t.Errorf("expected exactly one cancel of sl-1, got %v", api.canceled)
	}
}

func TestOcoMonitor_StopLossWins(t *testing.T) {
	api := newFakeExchange()
	pair := monitoredPair()
	api.listQueue = [][]exchange.OrderHandle{
		{pair.TakeProfit},
	}
	validator, gateway := newTestPipeline(api)
	m := NewOcoMonitor(validator, gateway, api, newFakeClock(), time.Second, nil)

	result, err := m.Monitor(context.Background(), pair)
	if err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}
	if result.WinningLeg != "stop_loss" || result.CanceledLeg != "take_profit" {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(api.canceled) != 1 || api.canceled[0] != "tp-1" {
		t.Errorf("expected exactly one cancel of tp-1, got %v", api.canceled)
	}
}

func TestOcoMonitor_TieGoesToTakeProfit(t *testing.T) {
	api := newFakeExchange()
	pair := monitoredPair()
	// 两腿在同一轮同时消失：按止盈腿胜出处理，对止损腿的撤销是幂等空操作。
	api.listQueue = [][]exchange.OrderHandle{{}}
	api.cancelErrs = map[string]error{"sl-1": exchange.ErrNotFound}
	validator, gateway := newTestPipeline(api)
	m := NewOcoMonitor(validator, gateway, api, newFakeClock(), time.Second, nil)

	result, err := m.Monitor(context.Background(), pair)
	if err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}
	if result.WinningLeg != "take_profit" {
		t.Errorf("tie must resolve to take_profit, got %s", result.WinningLeg)
	}
	if len(api.canceled) != 1 {
		t.Errorf("expected single idempotent cancel, got %v", api.canceled)
	}
}

func TestOcoMonitor_InterruptLeavesBothLegsOpen(t *testing.T) {
	api := newFakeExchange()
	pair := monitoredPair()
	api.listQueue = [][]exchange.OrderHandle{
		{pair.TakeProfit, pair.StopLoss},
	}
	clock := newFakeClock()
	clock.errAt = 1
	clock.sleepErr = context.Canceled
	validator, gateway := newTestPipeline(api)
	m := NewOcoMonitor(validator, gateway, api, clock, time.Second, nil)

	result, err := m.Monitor(context.Background(), pair)
	if err != nil {
		t.Fatalf("interrupt should not be an error: %v", err)
	}
	if !result.Interrupted {
		t.Error("expected interrupted result")
	}
	if len(result.Warnings) == 0 {
		t.Error("interrupt must carry an operator warning")
	}
	if len(api.canceled) != 0 {
		t.Errorf("interrupt must not cancel any leg, got %v", api.canceled)
	}
}

func TestOcoMonitor_ListFailureRetriesNextPoll(t *testing.T) {
	api := newFakeExchange()
	pair := monitoredPair()
	// 第一轮查询失败，第二轮恢复并解析出止盈腿离场。
	api.listErrs = map[int]error{1: errors.New("查询失败")}
	api.listQueue = [][]exchange.OrderHandle{{pair.StopLoss}}
	clock := newFakeClock()
	validator, gateway := newTestPipeline(api)
	m := NewOcoMonitor(validator, gateway, api, clock, time.Second, nil)

	result, err := m.Monitor(context.Background(), pair)
	if err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}
	if result.State != OcoResolved || result.WinningLeg != "take_profit" {
		t.Errorf("unexpected result after retry: %+v", result)
	}
	if len(clock.sleeps) != 1 {
		t.Errorf("expected one poll sleep after failed round, got %d", len(clock.sleeps))
	}
}
