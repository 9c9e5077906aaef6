package order

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"futures-bot/internal/exchange"
)

// Gateway 是全部订单变更的唯一出口：提交、撤销、查询都经过这里。
// 所有调用对上层都是同步阻塞的；这里不做重试，重试策略归调用方所有。
type Gateway struct {
	api    exchange.API
	logger *zap.Logger
}

// NewGateway 创建订单网关。
func NewGateway(api exchange.API, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		api:    api,
		logger: logger,
	}
}

// Submit 提交已校验的订单。只接受 Validated，未校验的请求拿不到提交入口。
func (g *Gateway) Submit(ctx context.Context, v Validated) (exchange.OrderHandle, error) {
	handle, err := g.api.SubmitOrder(ctx, v.Submission())
	if err != nil {
		return exchange.OrderHandle{}, fmt.Errorf("提交订单失败: %w", err)
	}
	if handle.Kind == "" || handle.Kind == "UNKNOWN" {
		handle.Kind = string(v.Kind)
	}
	return handle, nil
}

// Cancel 撤销订单。订单已不存在视为撤销成功（它已经不在了），保证幂等。
func (g *Gateway) Cancel(ctx context.Context, symbol, orderID string) error {
	err := g.api.CancelOrder(ctx, symbol, orderID)
	if err == nil {
		return nil
	}
	if errors.Is(err, exchange.ErrNotFound) {
		g.logger.Info("订单已不存在，按撤销成功处理",
			zap.String("symbol", symbol),
			zap.String("order_id", orderID),
		)
		return nil
	}
	return fmt.Errorf("撤销订单 %s 失败: %w", orderID, err)
}

// ListOpen 列出当前挂单，symbol 为空时返回全部。
func (g *Gateway) ListOpen(ctx context.Context, symbol string) ([]exchange.OrderHandle, error) {
	handles, err := g.api.ListOpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("查询挂单失败: %w", err)
	}
	return handles, nil
}

// CancelReport 汇总一次批量撤单的结果，失败订单逐一列出。
type CancelReport struct {
	Requested int
	Canceled  int
	FailedIDs []string
	Errors    error
}

// Ok 表示所有撤单全部成功。空挂单集也算成功。
func (r CancelReport) Ok() bool {
	return len(r.FailedIDs) == 0
}

// CancelAll 撤销符号下全部挂单，逐一计数成功与失败。
// 单笔失败不中断后续撤单；只有挂单列表本身取不到时才返回错误。
func (g *Gateway) CancelAll(ctx context.Context, symbol string) (CancelReport, error) {
	handles, err := g.ListOpen(ctx, symbol)
	if err != nil {
		return CancelReport{}, err
	}

	report := CancelReport{Requested: len(handles)}
	if len(handles) == 0 {
		g.logger.Info("没有需要撤销的挂单", zap.String("symbol", symbol))
		return report, nil
	}

	for _, handle := range handles {
		if cancelErr := g.Cancel(ctx, handle.Symbol, handle.ID); cancelErr != nil {
			report.FailedIDs = append(report.FailedIDs, handle.ID)
			report.Errors = multierr.Append(report.Errors, cancelErr)
			g.logger.Error("批量撤单中的单笔失败",
				zap.String("symbol", handle.Symbol),
				zap.String("order_id", handle.ID),
				zap.Error(cancelErr),
			)
			continue
		}
		report.Canceled++
	}

	g.logger.Info("批量撤单完成",
		zap.String("symbol", symbol),
		zap.Int("requested", report.Requested),
		zap.Int("canceled", report.Canceled),
		zap.Int("failed", len(report.FailedIDs)),
	)

	return report, nil
}
