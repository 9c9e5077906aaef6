package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"futures-bot/internal/order"
)

// OcoMonitor 实现 OCO（一单成交撤另一单）订单对：
// Placing 阶段先挂止盈限价腿、再挂止损腿；Monitoring 阶段轮询挂单列表，
// 任一腿从挂单集中消失即推断其已成交（或被撤），随后幂等撤销另一腿并进入 Resolved。
type OcoMonitor struct {
	validator *order.Validator
	gateway   *order.Gateway
	prices    PriceSource
	clock     Clock
	interval  time.Duration
	logger    *zap.Logger
}

// NewOcoMonitor 创建 OCO 监控器。interval 非正时使用 5 秒默认轮询间隔。
func NewOcoMonitor(validator *order.Validator, gateway *order.Gateway, prices PriceSource, clock Clock, interval time.Duration, logger *zap.Logger) *OcoMonitor {
	if clock == nil {
		clock = SystemClock()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OcoMonitor{
		validator: validator,
		gateway:   gateway,
		prices:    prices,
		clock:     clock,
		interval:  interval,
		logger:    logger,
	}
}

// Place 挂出 OCO 订单对。
// 第一腿失败时整体放弃（此时什么都没挂出，无需补偿撤单）；
// 第二腿失败时第一腿保持挂出状态，返回携带第一腿的部分结果与 PartialFailure，
// 不自动撤销孤腿——这是对外承诺的可观测行为，交由操作者处置。
func (m *OcoMonitor) Place(ctx context.Context, params OcoParams) (*OcoPair, []string, error) {
	// OCO 的腿价天然远离市价，基础校验刻意不带价格，价格合理性单独做方向性检查。
	base, err := m.validator.Validate(ctx, order.Request{
		Symbol:   params.Symbol,
		Side:     params.Side,
		Quantity: params.Quantity,
		Kind:     order.KindOcoLeg,
	})
	if err != nil {
		return nil, nil, err
	}

	warnings, err := m.checkPriceLayout(ctx, base, params)
	if err != nil {
		return nil, warnings, err
	}

	m.logger.Info("开始挂 OCO 订单对",
		zap.String("symbol", base.Symbol),
		zap.String("side", string(base.Side)),
		zap.String("take_profit", params.TakeProfitPrice.String()),
		zap.String("stop_loss", params.StopLossPrice.String()),
	)

	// 第一腿：止盈限价单。
	tpLeg := base
	tpLeg.Price = params.TakeProfitPrice
	tpHandle, err := m.gateway.Submit(ctx, tpLeg)
	if err != nil {
		return nil, warnings, fmt.Errorf("止盈腿挂单失败，OCO 整体放弃: %w", err)
	}

	// 第二腿：止损腿。给了止损限价就挂止损限价单，否则按市价触发。
	slLeg := base
	slLeg.StopPrice = params.StopLossPrice
	slLeg.Price = params.StopLimitPrice
	slHandle, err := m.gateway.Submit(ctx, slLeg)
	if err != nil {
		warning := fmt.Sprintf("止盈腿 %s 已挂出但止损腿失败，孤腿保持挂出状态，需人工处置", tpHandle.ID)
		warnings = append(warnings, warning)
		m.logger.Error("止损腿挂单失败，止盈腿成为孤腿",
			zap.String("symbol", base.Symbol),
			zap.String("take_profit_id", tpHandle.ID),
			zap.Error(err),
		)
		pair := &OcoPair{
			Symbol:     base.Symbol,
			Side:       base.Side,
			Quantity:   base.Quantity,
			TakeProfit: tpHandle,
		}
		return pair, warnings, &PartialFailure{
			Operation: "OCO 挂单",
			Succeeded: 1,
			Failed:    1,
			Detail:    err.Error(),
		}
	}

	m.logger.Info("OCO 订单对挂单完成",
		zap.String("symbol", base.Symbol),
		zap.String("take_profit_id", tpHandle.ID),
		zap.String("stop_loss_id", slHandle.ID),
	)

	return &OcoPair{
		Symbol:     base.Symbol,
		Side:       base.Side,
		Quantity:   base.Quantity,
		TakeProfit: tpHandle,
		StopLoss:   slHandle,
	}, warnings, nil
}

// Monitor 轮询 OCO 订单对直到一腿消失，随后撤销另一腿。
// 每轮都按固定顺序检查：止盈腿在前。若两腿在同一轮同时消失，按止盈腿胜出处理，
// 对已消失止损腿的撤销是幂等的空操作。
// ctx 取消时两腿都保持挂出状态，只返回带警告的中断结果，监控自身不撤单。
func (m *OcoMonitor) Monitor(ctx context.Context, pair OcoPair) (OcoResult, error) {
	result := OcoResult{
		Pair:  pair,
		State: OcoMonitoring,
	}

	m.logger.Info("开始监控 OCO 订单对",
		zap.String("symbol", pair.Symbol),
		zap.String("take_profit_id", pair.TakeProfit.ID),
		zap.String("stop_loss_id", pair.StopLoss.ID),
		zap.Duration("interval", m.interval),
	)

	for {
		open, err := m.gateway.ListOpen(ctx, pair.Symbol)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return m.interrupted(result), nil
			}
			// 单轮查询失败不终止监控，下一轮重查。
			m.logger.Warn("查询挂单失败，下一轮重试",
				zap.String("symbol", pair.Symbol),
				zap.Error(err),
			)
		} else {
			openIDs := make(map[string]struct{}, len(open))
			for _, handle := range open {
				openIDs[handle.ID] = struct{}{}
			}

			_, tpOpen := openIDs[pair.TakeProfit.ID]
			_, slOpen := openIDs[pair.StopLoss.ID]

			if !tpOpen {
				m.logger.Info("止盈腿已离场，撤销止损腿",
					zap.String("symbol", pair.Symbol),
					zap.String("stop_loss_id", pair.StopLoss.ID),
				)
				if err := m.gateway.Cancel(ctx, pair.Symbol, pair.StopLoss.ID); err != nil {
					return result, fmt.Errorf("撤销止损腿失败: %w", err)
				}
				result.State = OcoResolved
				result.WinningLeg = "take_profit"
				result.CanceledLeg = "stop_loss"
				return result, nil
			}

			if !slOpen {
				m.logger.Info("止损腿已离场，撤销止盈腿",
					zap.String("symbol", pair.Symbol),
					zap.String("take_profit_id", pair.TakeProfit.ID),
				)
				if err := m.gateway.Cancel(ctx, pair.Symbol, pair.TakeProfit.ID); err != nil {
					return result, fmt.Errorf("撤销止盈腿失败: %w", err)
				}
				result.State = OcoResolved
				result.WinningLeg = "stop_loss"
				result.CanceledLeg = "take_profit"
				return result, nil
			}
		}

		if err := m.clock.Sleep(ctx, m.interval); err != nil {
			return m.interrupted(result), nil
		}
	}
}

// Run 先挂单再监控，一步到位。
func (m *OcoMonitor) Run(ctx context.Context, params OcoParams) (OcoResult, error) {
	pair, warnings, err := m.Place(ctx, params)
	if err != nil {
		result := OcoResult{State: OcoPlacing, Warnings: warnings}
		if pair != nil {
			result.Pair = *pair
		}
		return result, err
	}

	result, err := m.Monitor(ctx, *pair)
	result.Warnings = append(warnings, result.Warnings...)
	return result, err
}

func (m *OcoMonitor) interrupted(result OcoResult) OcoResult {
	result.Interrupted = true
	result.Warnings = append(result.Warnings,
		"监控被中断，两条腿仍保持挂出状态，请人工确认后处置")
	m.logger.Warn("OCO 监控被中断，订单保持挂出状态",
		zap.String("symbol", result.Pair.Symbol),
		zap.String("take_profit_id", result.Pair.TakeProfit.ID),
		zap.String("stop_loss_id", result.Pair.StopLoss.ID),
	)
	return result
}

// checkPriceLayout 对照参考价做方向性检查：止盈/止损价相互颠倒是硬错误，
// 腿价落在会立即触发的一侧只给告警。参考价不可用时整体跳过。
func (m *OcoMonitor) checkPriceLayout(ctx context.Context, base order.Validated, params OcoParams) ([]string, error) {
	if !params.TakeProfitPrice.IsPositive() || !params.StopLossPrice.IsPositive() {
		return nil, &order.Rejection{
			Kind:    order.RejectInvalidStrategy,
			Message: "止盈价与止损价都必须为正数",
		}
	}

	reference, err := m.prices.GetReferencePrice(ctx, base.Symbol)
	if err != nil {
		m.logger.Warn("参考价不可用，跳过 OCO 价格方向检查",
			zap.String("symbol", base.Symbol),
			zap.Error(err),
		)
		return nil, nil
	}

	var warnings []string

	if base.Side == order.SideSell {
		if params.TakeProfitPrice.LessThanOrEqual(params.StopLossPrice) {
			return nil, &order.Rejection{
				Kind:    order.RejectInvalidStrategy,
				Message: "SELL 方向的 OCO 要求止盈价高于止损价",
			}
		}
		if params.TakeProfitPrice.LessThanOrEqual(reference) {
			warnings = append(warnings, "止盈价不高于当前市价，挂出后会立即成交")
		}
		if params.StopLossPrice.GreaterThanOrEqual(reference) {
			warnings = append(warnings, "止损价不低于当前市价，挂出后会立即触发")
		}
	} else {
		if params.TakeProfitPrice.GreaterThanOrEqual(params.StopLossPrice) {
			return nil, &order.Rejection{
				Kind:    order.RejectInvalidStrategy,
				Message: "BUY 方向的 OCO 要求止盈价低于止损价",
			}
		}
		if params.TakeProfitPrice.GreaterThanOrEqual(reference) {
			warnings = append(warnings, "止盈价不低于当前市价，挂出后会立即成交")
		}
		if params.StopLossPrice.LessThanOrEqual(reference) {
			warnings = append(warnings, "止损价不高于当前市价，挂出后会立即触发")
		}
	}

	for _, w := range warnings {
		m.logger.Warn(w,
			zap.String("symbol", base.Symbol),
			zap.String("reference", reference.String()),
		)
	}

	return warnings, nil
}
