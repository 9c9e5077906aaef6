package bot

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"futures-bot/internal/config"
	"futures-bot/internal/exchange"
	"futures-bot/internal/journal"
	"futures-bot/internal/order"
	"futures-bot/internal/strategy"
)

// Service 把校验、网关、策略与流水装配成对外的操作入口，
// 命令行的每个子命令对应这里的一个方法。
type Service struct {
	cfg       *config.Config
	api       exchange.API
	validator *order.Validator
	gateway   *order.Gateway
	oco       *strategy.OcoMonitor
	twap      *strategy.TwapScheduler
	grid      *strategy.GridTrader
	journal   *journal.Journal
	logger    *zap.Logger
}

// New 装配完整的机器人服务。journal 可以为 nil，此时不落流水。
func New(cfg *config.Config, api exchange.API, jnl *journal.Journal, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	validator := order.NewValidator(cfg.Validation, api, logger)
	gateway := order.NewGateway(api, logger)
	clock := strategy.SystemClock()

	return &Service{
		cfg:       cfg,
		api:       api,
		validator: validator,
		gateway:   gateway,
		oco:       strategy.NewOcoMonitor(validator, gateway, api, clock, cfg.Strategy.OcoPollInterval, logger),
		twap:      strategy.NewTwapScheduler(validator, gateway, clock, logger),
		grid:      strategy.NewGridTrader(validator, gateway, api, cfg.Strategy.GridPostOnly, logger),
		journal:   jnl,
		logger:    logger,
	}
}

// Test 做一轮连通性自检：并发拉取参考价与可用余额，任一失败即报错。
func (s *Service) Test(ctx context.Context, symbol string) error {
	var (
		price   decimal.Decimal
		balance decimal.Decimal
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		p, err := s.api.GetReferencePrice(groupCtx, symbol)
		if err != nil {
			return fmt.Errorf("拉取参考价失败: %w", err)
		}
		price = p
		return nil
	})

	group.Go(func() error {
		b, err := s.api.GetAvailableBalance(groupCtx)
		if err != nil {
			return fmt.Errorf("拉取可用余额失败: %w", err)
		}
		balance = b
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	s.logger.Info("连通性自检通过",
		zap.String("symbol", symbol),
		zap.String("reference_price", price.String()),
		zap.String("available_balance", balance.String()),
	)
	return nil
}

// AccountBalance 返回计价币可用余额。
func (s *Service) AccountBalance(ctx context.Context) (decimal.Decimal, error) {
	return s.api.GetAvailableBalance(ctx)
}

// OpenOrders 返回当前挂单，symbol 为空时返回全部。
func (s *Service) OpenOrders(ctx context.Context, symbol string) ([]exchange.OrderHandle, error) {
	return s.gateway.ListOpen(ctx, symbol)
}

// PlaceMarketOrder 下市价单。
func (s *Service) PlaceMarketOrder(ctx context.Context, symbol, side string, quantity decimal.Decimal, reduceOnly bool) (exchange.OrderHandle, error) {
	return s.placeSingle(ctx, order.Request{
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		Kind:       order.KindMarket,
		ReduceOnly: reduceOnly,
	})
}

// LimitOptions 描述限价单的可选参数。
type LimitOptions struct {
	TimeInForce string
	PostOnly    bool
	ReduceOnly  bool
}

// PlaceLimitOrder 下限价单。
func (s *Service) PlaceLimitOrder(ctx context.Context, symbol, side string, quantity, price decimal.Decimal, opts LimitOptions) (exchange.OrderHandle, error) {
	return s.placeSingle(ctx, order.Request{
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		Price:       price,
		Kind:        order.KindLimit,
		TimeInForce: opts.TimeInForce,
		PostOnly:    opts.PostOnly,
		ReduceOnly:  opts.ReduceOnly,
	})
}

// PlaceStopLimitOrder 下止损限价单：触发价到达后以限价进入撮合。
func (s *Service) PlaceStopLimitOrder(ctx context.Context, symbol, side string, quantity, price, stopPrice decimal.Decimal, reduceOnly bool) (exchange.OrderHandle, error) {
	return s.placeSingle(ctx, order.Request{
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		StopPrice:  stopPrice,
		Kind:       order.KindStopLimit,
		ReduceOnly: reduceOnly,
	})
}

func (s *Service) placeSingle(ctx context.Context, req order.Request) (exchange.OrderHandle, error) {
	validated, err := s.validator.Validate(ctx, req)
	if err != nil {
		s.recordRejection(ctx, req, err)
		return exchange.OrderHandle{}, err
	}

	handle, err := s.gateway.Submit(ctx, validated)
	if err != nil {
		s.recordError(ctx, "下单失败", err, map[string]interface{}{
			"symbol": req.Symbol,
			"side":   req.Side,
			"kind":   string(req.Kind),
		})
		return exchange.OrderHandle{}, err
	}

	if s.journal != nil {
		s.journal.RecordOrderPlaced(ctx, req, handle)
	}
	return handle, nil
}

// PlaceOco 挂出 OCO 订单对并监控到一腿离场。
// monitor 为假时只挂单不监控，订单对留在交易所由操作者自行跟踪。
func (s *Service) PlaceOco(ctx context.Context, params strategy.OcoParams, monitor bool) (strategy.OcoResult, error) {
	if !monitor {
		pair, warnings, err := s.oco.Place(ctx, params)
		result := strategy.OcoResult{State: strategy.OcoPlacing, Warnings: warnings}
		if pair != nil {
			result.Pair = *pair
		}
		if err != nil {
			s.recordError(ctx, "OCO 挂单失败", err, map[string]interface{}{
				"symbol": params.Symbol,
			})
			return result, err
		}
		if s.journal != nil {
			s.journal.RecordOco(ctx, result)
		}
		return result, nil
	}

	result, err := s.oco.Run(ctx, params)
	if err != nil {
		s.recordError(ctx, "OCO 执行失败", err, map[string]interface{}{
			"symbol": params.Symbol,
		})
		return result, err
	}
	if s.journal != nil {
		s.journal.RecordOco(ctx, result)
	}
	return result, nil
}

// ExecuteTwap 执行 TWAP 拆单计划。
func (s *Service) ExecuteTwap(ctx context.Context, plan strategy.TwapPlan) (strategy.TwapResult, error) {
	result, err := s.twap.Execute(ctx, plan)
	if err != nil {
		s.recordError(ctx, "TWAP 执行失败", err, map[string]interface{}{
			"symbol": plan.Symbol,
		})
		return result, err
	}
	if s.journal != nil {
		s.journal.RecordTwap(ctx, result)
	}
	return result, nil
}

// SetupGrid 铺设网格。部分档位失败时网格仍可能进入 ACTIVE，错误与结果一并返回。
func (s *Service) SetupGrid(ctx context.Context, spec strategy.GridSpec) (*strategy.GridLadder, error) {
	ladder, err := s.grid.Setup(ctx, spec)
	if err != nil {
		if _, partial := err.(*strategy.PartialFailure); !partial {
			s.recordError(ctx, "网格铺设失败", err, map[string]interface{}{
				"symbol": spec.Symbol,
			})
			return ladder, err
		}
	}
	if s.journal != nil && ladder != nil && ladder.State != strategy.GridPending {
		s.journal.RecordGrid(ctx, "setup", *ladder)
	}
	return ladder, err
}

// TeardownGrid 撤销符号下全部挂单，拆除网格。
func (s *Service) TeardownGrid(ctx context.Context, symbol string) (order.CancelReport, error) {
	ladder := &strategy.GridLadder{
		Spec:  strategy.GridSpec{Symbol: symbol},
		State: strategy.GridActive,
	}
	report, err := s.grid.Teardown(ctx, ladder)
	if err != nil {
		if _, partial := err.(*strategy.PartialFailure); !partial {
			s.recordError(ctx, "网格拆除失败", err, map[string]interface{}{
				"symbol": symbol,
			})
			return report, err
		}
	}
	if s.journal != nil {
		s.journal.RecordGrid(ctx, "teardown", *ladder)
	}
	return report, err
}

// CancelAllOrders 撤销符号下全部挂单。
func (s *Service) CancelAllOrders(ctx context.Context, symbol string) (order.CancelReport, error) {
	report, err := s.gateway.CancelAll(ctx, symbol)
	if err != nil {
		s.recordError(ctx, "批量撤单失败", err, map[string]interface{}{
			"symbol": symbol,
		})
		return report, err
	}
	if s.journal != nil {
		s.journal.RecordCancelAll(ctx, symbol, report)
	}
	if !report.Ok() {
		return report, report.Errors
	}
	return report, nil
}

func (s *Service) recordRejection(ctx context.Context, req order.Request, err error) {
	if s.journal == nil {
		return
	}
	if rej, ok := order.AsRejection(err); ok {
		s.journal.RecordOrderRejected(ctx, req, rej)
		return
	}
	s.recordError(ctx, "订单校验失败", err, map[string]interface{}{
		"symbol": req.Symbol,
		"side":   req.Side,
	})
}

func (s *Service) recordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	if s.journal == nil {
		return
	}
	s.journal.RecordError(ctx, msg, err, ctxMap)
}
