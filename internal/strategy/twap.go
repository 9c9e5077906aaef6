package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-bot/internal/exchange"
	"futures-bot/internal/order"
)

// TwapScheduler 把大单拆成等量片，按固定起点锚定的时间表逐片市价执行。
// 片之间严格串行；单片失败计数后继续，调度器总是尝试满额片数。
type TwapScheduler struct {
	validator *order.Validator
	gateway   *order.Gateway
	clock     Clock
	logger    *zap.Logger
}

// NewTwapScheduler 创建 TWAP 调度器。
func NewTwapScheduler(validator *order.Validator, gateway *order.Gateway, clock Clock, logger *zap.Logger) *TwapScheduler {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwapScheduler{
		validator: validator,
		gateway:   gateway,
		clock:     clock,
		logger:    logger,
	}
}

// Execute 执行 TWAP 计划。
// 第 k 片的目标提交时刻是 start + k*interval，休眠时长按目标时刻与当前挂钟的差值
// 计算，提交延迟不会逐片累积。ctx 取消停止调度后续片，已执行片保留在结果中。
func (s *TwapScheduler) Execute(ctx context.Context, plan TwapPlan) (TwapResult, error) {
	result := TwapResult{Plan: plan}

	if plan.NumSlices <= 0 {
		return result, &order.Rejection{
			Kind:    order.RejectInvalidStrategy,
			Message: "TWAP 片数必须大于 0",
		}
	}
	if !plan.TotalQuantity.IsPositive() {
		return result, &order.Rejection{
			Kind:    order.RejectInvalidStrategy,
			Message: "TWAP 总数量必须为正数",
		}
	}
	if plan.Duration <= 0 {
		return result, &order.Rejection{
			Kind:    order.RejectInvalidStrategy,
			Message: "TWAP 总时长必须为正",
		}
	}

	sliceQty := plan.SliceQuantity()
	interval := plan.Interval()
	start := s.clock.Now()

	s.logger.Info("开始执行 TWAP 计划",
		zap.String("symbol", plan.Symbol),
		zap.String("side", plan.Side),
		zap.String("total_quantity", plan.TotalQuantity.String()),
		zap.String("slice_quantity", sliceQty.String()),
		zap.Int("num_slices", plan.NumSlices),
		zap.Duration("interval", interval),
	)

	for k := 0; k < plan.NumSlices; k++ {
		if k > 0 {
			target := start.Add(interval * time.Duration(k))
			wait := target.Sub(s.clock.Now())
			if wait > 0 {
				if err := s.clock.Sleep(ctx, wait); err != nil {
					result.Interrupted = true
					s.logger.Warn("TWAP 被中断，停止调度后续片",
						zap.String("symbol", plan.Symbol),
						zap.Int("executed", result.Succeeded),
						zap.Int("remaining", plan.NumSlices-k),
					)
					break
				}
			}
		}

		outcome := SliceOutcome{Index: k + 1}

		validated, err := s.validator.Validate(ctx, order.Request{
			Symbol:     plan.Symbol,
			Side:       plan.Side,
			Quantity:   sliceQty,
			Kind:       order.KindTwapSlice,
			ReduceOnly: plan.ReduceOnly,
		})
		if err == nil {
			submitted, submitErr := s.gateway.Submit(ctx, validated)
			if submitErr == nil {
				outcome.Succeeded = true
				outcome.Handle = submitted
				result.Executed = append(result.Executed, submitted)
				result.Succeeded++
				s.logger.Info("TWAP 片执行成功",
					zap.String("symbol", plan.Symbol),
					zap.Int("slice", k+1),
					zap.Int("total", plan.NumSlices),
					zap.String("order_id", submitted.ID),
				)
			} else {
				err = submitErr
			}
		}

		if err != nil {
			outcome.Reason = err.Error()
			result.Failed++
			s.logger.Error("TWAP 片执行失败，继续后续片",
				zap.String("symbol", plan.Symbol),
				zap.Int("slice", k+1),
				zap.Int("total", plan.NumSlices),
				zap.Error(err),
			)
		}

		result.Outcomes = append(result.Outcomes, outcome)
	}

	result.AvgPrice, result.TotalFilled = volumeWeightedAverage(result.Executed)

	s.logger.Info("TWAP 计划结束",
		zap.String("symbol", plan.Symbol),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Bool("interrupted", result.Interrupted),
		zap.String("avg_price", result.AvgPrice.String()),
	)

	return result, nil
}

// volumeWeightedAverage 计算成功片的成交量加权均价。无成交时返回零值。
func volumeWeightedAverage(executed []exchange.OrderHandle) (decimal.Decimal, decimal.Decimal) {
	totalQty := decimal.Zero
	totalCost := decimal.Zero

	for _, handle := range executed {
		qty := decimal.NewFromFloat(handle.ExecutedQuantity)
		price := decimal.NewFromFloat(handle.AvgFillPrice)
		if !qty.IsPositive() || !price.IsPositive() {
			continue
		}
		totalQty = totalQty.Add(qty)
		totalCost = totalCost.Add(qty.Mul(price))
	}

	if !totalQty.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	return totalCost.Div(totalQty), totalQty
}
