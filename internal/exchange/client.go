package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-bot/internal/config"
)

// Client 基于 ccxt 实现 API，负责与 Binance USDⓈ-M 合约交互。
// 只读调用带指数退避重试；下单与撤单不做任何自动重试，重试策略归调用方所有。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm

	marketsMu     sync.Mutex
	marketsLoaded bool
	marketsByID   map[string]ccxt.MarketInterface
}

var _ API = (*Client)(nil)

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// Raw 返回底层 ccxt 客户端。
func (c *Client) Raw() *ccxt.Binanceusdm {
	return c.exchange
}

// GetInstrumentInfo 获取合约交易规则。合约不存在时返回 ErrNotFound。
func (c *Client) GetInstrumentInfo(ctx context.Context, symbol string) (InstrumentInfo, error) {
	market, err := c.lookupMarket(ctx, symbol)
	if err != nil {
		return InstrumentInfo{}, err
	}

	info := InstrumentInfo{
		Symbol:         strings.ToUpper(symbol),
		Status:         "UNKNOWN",
		PricePrecision: 2,
	}

	raw := market.Info
	if raw == nil {
		return info, nil
	}

	if status, ok := raw["status"].(string); ok && status != "" {
		info.Status = status
	}
	if v := parseNumeric(raw["pricePrecision"]); v >= 0 {
		info.PricePrecision = int32(v)
	}

	// LOT_SIZE 过滤器携带精确的字符串数量规则，优先于浮点兜底。
	if filters, ok := raw["filters"].([]interface{}); ok {
		for _, item := range filters {
			filter, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if ft, _ := filter["filterType"].(string); ft != "LOT_SIZE" {
				continue
			}
			info.QuantityStep = parseDecimalField(filter["stepSize"])
			info.MinQuantity = parseDecimalField(filter["minQty"])
			info.MaxQuantity = parseDecimalField(filter["maxQty"])
			break
		}
	}

	if info.MaxQuantity.IsZero() {
		info.MaxQuantity = decimal.NewFromInt(1_000_000_000)
	}

	return info, nil
}

// GetReferencePrice 获取最近成交价。取不到价格时返回 ErrUnavailable。
func (c *Client) GetReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	market, err := c.lookupMarket(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	var ticker ccxt.Ticker
	err = c.callWithRetry(ctx, "fetch_ticker", func() error {
		result, err := c.exchange.FetchTicker(derefString(market.Symbol))
		if err != nil {
			return err
		}
		ticker = result
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: 获取最新价失败: %v", ErrUnavailable, err)
	}

	last := derefFloat(ticker.Last)
	if last <= 0 {
		return decimal.Zero, fmt.Errorf("%w: 交易所未返回最新价", ErrUnavailable)
	}

	return decimal.NewFromFloat(last), nil
}

// GetAvailableBalance 获取可用的 USDT 保证金余额。
func (c *Client) GetAvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	var balances ccxt.Balances
	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		result, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		balances = result
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: 获取账户余额失败: %v", ErrUnavailable, err)
	}

	if balances.Free != nil {
		for _, code := range []string{"USDT", "USDC", "USD"} {
			if free, ok := balances.Free[code]; ok && free != nil {
				return decimal.NewFromFloat(*free), nil
			}
		}
	}

	return decimal.Zero, fmt.Errorf("%w: 账户余额中没有可用保证金", ErrUnavailable)
}

// SubmitOrder 提交订单。此路径不做重试：盲目重试下单有重复成交风险。
func (c *Client) SubmitOrder(ctx context.Context, sub OrderSubmission) (OrderHandle, error) {
	if err := ctx.Err(); err != nil {
		return OrderHandle{}, err
	}

	market, err := c.lookupMarket(ctx, sub.Symbol)
	if err != nil {
		return OrderHandle{}, err
	}
	unified := derefString(market.Symbol)

	params := map[string]interface{}{}
	if sub.ReduceOnly {
		params["reduceOnly"] = true
	}
	if sub.PostOnly {
		params["postOnly"] = true
	}
	if sub.TimeInForce != "" {
		params["timeInForce"] = strings.ToUpper(sub.TimeInForce)
	}
	if sub.StopPrice > 0 {
		params["stopPrice"] = sub.StopPrice
	}

	orderType := "market"
	switch sub.Kind {
	case "LIMIT", "STOP_LIMIT":
		orderType = "limit"
	case "MARKET", "STOP_MARKET":
		orderType = "market"
	default:
		return OrderHandle{}, fmt.Errorf("exchange: 不支持的订单类型 %s", sub.Kind)
	}

	side := strings.ToLower(sub.Side)

	opts := []ccxt.CreateOrderOptions{ccxt.WithCreateOrderParams(params)}
	if orderType == "limit" {
		opts = append(opts, ccxt.WithCreateOrderPrice(sub.Price))
	}

	start := time.Now()
	raw, err := c.exchange.CreateOrder(unified, orderType, side, sub.Quantity, opts...)
	if err != nil {
		normalized := c.classifyMutation(err)
		c.logger.Error("下单失败",
			zap.String("symbol", sub.Symbol),
			zap.String("kind", sub.Kind),
			zap.Duration("latency", time.Since(start)),
			zap.Error(normalized),
		)
		return OrderHandle{}, normalized
	}

	handle := convertOrder(strings.ToUpper(sub.Symbol), raw)
	if handle.Kind == "" {
		handle.Kind = sub.Kind
	}

	c.logger.Info("订单已提交",
		zap.String("symbol", sub.Symbol),
		zap.String("order_id", handle.ID),
		zap.String("kind", sub.Kind),
		zap.String("side", sub.Side),
		zap.Float64("quantity", sub.Quantity),
		zap.Duration("latency", time.Since(start)),
	)

	return handle, nil
}

// CancelOrder 撤销订单。订单已不存在时返回 ErrNotFound，由上层按幂等成功处理。
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	market, err := c.lookupMarket(ctx, symbol)
	if err != nil {
		return err
	}

	_, err = c.exchange.CancelOrder(orderID, ccxt.WithCancelOrderSymbol(derefString(market.Symbol)))
	if err != nil {
		return c.classifyMutation(err)
	}

	c.logger.Info("订单已撤销",
		zap.String("symbol", symbol),
		zap.String("order_id", orderID),
	)
	return nil
}

// ListOpenOrders 列出当前挂单。symbol 为空时返回全部。
func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]OrderHandle, error) {
	var opts []ccxt.FetchOpenOrdersOptions
	display := ""
	if symbol != "" {
		market, err := c.lookupMarket(ctx, symbol)
		if err != nil {
			return nil, err
		}
		display = strings.ToUpper(symbol)
		opts = append(opts, ccxt.WithFetchOpenOrdersSymbol(derefString(market.Symbol)))
	} else if err := c.ensureMarketsLoaded(ctx); err != nil {
		return nil, err
	}

	var raw []ccxt.Order
	err := c.callWithRetry(ctx, "fetch_open_orders", func() error {
		result, err := c.exchange.FetchOpenOrders(opts...)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	handles := make([]OrderHandle, 0, len(raw))
	for _, item := range raw {
		sym := display
		if sym == "" {
			sym = rawFromUnified(derefString(item.Symbol))
		}
		handles = append(handles, convertOrder(sym, item))
	}

	return handles, nil
}

func (c *Client) lookupMarket(ctx context.Context, symbol string) (ccxt.MarketInterface, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return ccxt.MarketInterface{}, err
	}

	c.marketsMu.Lock()
	market, ok := c.marketsByID[strings.ToUpper(symbol)]
	c.marketsMu.Unlock()
	if !ok {
		return ccxt.MarketInterface{}, fmt.Errorf("%w: 合约 %s 不存在", ErrNotFound, strings.ToUpper(symbol))
	}
	return market, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	var markets map[string]ccxt.MarketInterface
	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		result, err := c.exchange.LoadMarkets()
		if err != nil {
			return err
		}
		markets = result
		return nil
	})
	if loadErr != nil {
		return fmt.Errorf("%w: 加载市场元数据失败: %v", ErrUnavailable, loadErr)
	}

	index := make(map[string]ccxt.MarketInterface, len(markets))
	for _, market := range markets {
		id := strings.ToUpper(derefString(market.Id))
		if id == "" {
			continue
		}
		index[id] = market
	}

	c.marketsByID = index
	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.Int("markets", len(index)))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyRead(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyRead(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}

// classifyMutation 把下单/撤单错误归一化：订单不存在、业务拒绝、网络瞬断三类。
func (c *Client) classifyMutation(err error) error {
	if err == nil {
		return nil
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.OrderNotFoundErrType:
			return fmt.Errorf("%w: %s", ErrNotFound, ccxtErr.Message)
		case ccxt.OnMaintenanceErrType:
			return fmt.Errorf("%w: %s", ErrMaintenance, ccxtErr.Message)
		}
		if !IsRetryable(err) {
			return &BusinessError{
				Code:    string(ccxtErr.Type),
				Message: strings.TrimSpace(ccxtErr.Message),
			}
		}
	}

	return err
}

func convertOrder(symbol string, order ccxt.Order) OrderHandle {
	updated := time.Now().UTC()
	if order.Timestamp != nil {
		updated = time.UnixMilli(int64(*order.Timestamp)).UTC()
	}

	return OrderHandle{
		ID:               derefString(order.Id),
		Symbol:           symbol,
		Side:             strings.ToUpper(derefString(order.Side)),
		Kind:             strings.ToUpper(derefString(order.Type)),
		Status:           convertStatus(derefString(order.Status)),
		Price:            derefFloat(order.Price),
		Quantity:         derefFloat(order.Amount),
		ExecutedQuantity: derefFloat(order.Filled),
		AvgFillPrice:     derefFloat(order.Average),
		UpdatedAt:        updated,
	}
}

func convertStatus(status string) OrderStatus {
	switch strings.ToLower(status) {
	case "open":
		return OrderStatusNew
	case "closed":
		return OrderStatusFilled
	case "canceled", "cancelled":
		return OrderStatusCanceled
	case "rejected":
		return OrderStatusRejected
	case "expired":
		return OrderStatusExpired
	default:
		return OrderStatusUnknown
	}
}

// rawFromUnified 把 ccxt 统一符号（BTC/USDT:USDT）还原为交易所原生符号（BTCUSDT）。
func rawFromUnified(unified string) string {
	if idx := strings.Index(unified, ":"); idx >= 0 {
		unified = unified[:idx]
	}
	return strings.ToUpper(strings.ReplaceAll(unified, "/", ""))
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseDecimalField(value interface{}) decimal.Decimal {
	switch v := value.(type) {
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	}
	if f := parseNumeric(value); f > 0 {
		return decimal.NewFromFloat(f)
	}
	return decimal.Zero
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return -1
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return -1
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return -1
}
