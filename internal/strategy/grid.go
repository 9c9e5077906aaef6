package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-bot/internal/order"
)

// GridTrader 在价格区间内铺设等距限价单梯子：参考价下方全是买单，上方全是卖单，
// 恰好等于参考价的档位跳过。买单先挂，卖单后挂，单档失败不中断其余档位。
type GridTrader struct {
	validator *order.Validator
	gateway   *order.Gateway
	prices    PriceSource
	postOnly  bool
	logger    *zap.Logger
}

// NewGridTrader 创建网格交易器。postOnly 为真时所有档位按只挂单（post-only）提交，
// 会立即成交的档位被交易所直接拒绝而不是吃掉对手价。
func NewGridTrader(validator *order.Validator, gateway *order.Gateway, prices PriceSource, postOnly bool, logger *zap.Logger) *GridTrader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GridTrader{
		validator: validator,
		gateway:   gateway,
		prices:    prices,
		postOnly:  postOnly,
		logger:    logger,
	}
}

// CalculateLevels 在 [lower, upper] 上等距取 n 个价位，两端都含。
// 档距 = (upper - lower) / (n - 1)，精确有理除法，价格精度校验由挂单时逐档执行。
func CalculateLevels(lower, upper decimal.Decimal, n int) []decimal.Decimal {
	spacing := upper.Sub(lower).Div(decimal.NewFromInt(int64(n - 1)))
	levels := make([]decimal.Decimal, 0, n)
	for k := 0; k < n-1; k++ {
		levels = append(levels, lower.Add(spacing.Mul(decimal.NewFromInt(int64(k)))))
	}
	// 最后一档直接用上界，不让除法误差碰到端点。
	levels = append(levels, upper)
	return levels
}

// Setup 校验网格参数、取参考价、划分买卖方向并逐档挂单。
// 参考价是方向划分的依据，取不到时整个网格无法建立，直接返回错误。
// 返回的 GridLadder 含每一档的结果；只要至少一档成功，网格进入 ACTIVE，
// 存在失败档位时额外返回 PartialFailure。
func (g *GridTrader) Setup(ctx context.Context, spec GridSpec) (*GridLadder, error) {
	ladder := &GridLadder{
		Spec:          spec,
		State:         GridPending,
		RequiredQuote: decimal.Zero,
		RequiredBase:  decimal.Zero,
	}

	if err := validateGridSpec(spec); err != nil {
		return ladder, err
	}

	reference, err := g.prices.GetReferencePrice(ctx, spec.Symbol)
	if err != nil {
		return ladder, fmt.Errorf("参考价不可用，无法划分网格买卖方向: %w", err)
	}
	ladder.ReferencePrice = reference

	ladder.Levels = CalculateLevels(spec.LowerBound, spec.UpperBound, spec.NumLevels)
	for _, level := range ladder.Levels {
		switch {
		case level.LessThan(reference):
			ladder.BuyLevels = append(ladder.BuyLevels, level)
		case level.GreaterThan(reference):
			ladder.SellLevels = append(ladder.SellLevels, level)
		default:
			// 档位恰好压在参考价上，方向不明确，跳过。
			warning := fmt.Sprintf("档位 %s 等于参考价，已跳过", level.String())
			ladder.Warnings = append(ladder.Warnings, warning)
			g.logger.Warn(warning, zap.String("symbol", spec.Symbol))
		}
	}

	if reference.LessThan(spec.LowerBound) || reference.GreaterThan(spec.UpperBound) {
		warning := fmt.Sprintf("参考价 %s 在网格区间 [%s, %s] 之外，所有档位同向",
			reference.String(), spec.LowerBound.String(), spec.UpperBound.String())
		ladder.Warnings = append(ladder.Warnings, warning)
		g.logger.Warn(warning, zap.String("symbol", spec.Symbol))
	}

	for _, level := range ladder.BuyLevels {
		ladder.RequiredQuote = ladder.RequiredQuote.Add(spec.QuantityPerLevel.Mul(level))
	}
	ladder.RequiredBase = spec.QuantityPerLevel.Mul(decimal.NewFromInt(int64(len(ladder.SellLevels))))

	g.logger.Info("开始铺设网格",
		zap.String("symbol", spec.Symbol),
		zap.String("lower", spec.LowerBound.String()),
		zap.String("upper", spec.UpperBound.String()),
		zap.Int("num_levels", spec.NumLevels),
		zap.String("reference", reference.String()),
		zap.Int("buy_levels", len(ladder.BuyLevels)),
		zap.Int("sell_levels", len(ladder.SellLevels)),
		zap.String("required_quote", ladder.RequiredQuote.String()),
		zap.String("required_base", ladder.RequiredBase.String()),
	)

	ladder.State = GridPlacing

	// 买单先铺：买侧占用的是计价币余额，先锁住地板再铺天花板。
	for _, level := range ladder.BuyLevels {
		g.placeLevel(ctx, ladder, order.SideBuy, level)
	}
	for _, level := range ladder.SellLevels {
		g.placeLevel(ctx, ladder, order.SideSell, level)
	}

	if ladder.Placed > 0 {
		ladder.State = GridActive
	}

	g.logger.Info("网格铺设完成",
		zap.String("symbol", spec.Symbol),
		zap.String("state", string(ladder.State)),
		zap.Int("placed", ladder.Placed),
		zap.Int("failed", ladder.Failed),
	)

	if ladder.Failed > 0 {
		return ladder, &PartialFailure{
			Operation: "网格铺设",
			Succeeded: ladder.Placed,
			Failed:    ladder.Failed,
			Detail:    fmt.Sprintf("%d 个档位未挂出", ladder.Failed),
		}
	}
	return ladder, nil
}

// Teardown 撤销符号下全部挂单，拆除网格。
func (g *GridTrader) Teardown(ctx context.Context, ladder *GridLadder) (order.CancelReport, error) {
	report, err := g.gateway.CancelAll(ctx, ladder.Spec.Symbol)
	if err != nil {
		return report, fmt.Errorf("拆除网格失败: %w", err)
	}
	ladder.State = GridTornDown
	if !report.Ok() {
		return report, &PartialFailure{
			Operation: "网格拆除",
			Succeeded: report.Canceled,
			Failed:    len(report.FailedIDs),
			Detail:    fmt.Sprintf("未能撤销的订单: %v", report.FailedIDs),
		}
	}
	return report, nil
}

func (g *GridTrader) placeLevel(ctx context.Context, ladder *GridLadder, side order.Side, level decimal.Decimal) {
	outcome := LevelOutcome{Price: level, Side: side}

	validated, err := g.validator.Validate(ctx, order.Request{
		Symbol:   ladder.Spec.Symbol,
		Side:     string(side),
		Quantity: ladder.Spec.QuantityPerLevel,
		Price:    level,
		Kind:     order.KindGridLevel,
		PostOnly: g.postOnly,
	})
	if err == nil {
		submitted, submitErr := g.gateway.Submit(ctx, validated)
		if submitErr == nil {
			outcome.Succeeded = true
			outcome.Handle = submitted
			ladder.Placed++
			g.logger.Info("网格档位挂单成功",
				zap.String("symbol", ladder.Spec.Symbol),
				zap.String("side", string(side)),
				zap.String("price", level.String()),
				zap.String("order_id", submitted.ID),
			)
		} else {
			err = submitErr
		}
	}

	if err != nil {
		outcome.Reason = err.Error()
		ladder.Failed++
		g.logger.Error("网格档位挂单失败，继续其余档位",
			zap.String("symbol", ladder.Spec.Symbol),
			zap.String("side", string(side)),
			zap.String("price", level.String()),
			zap.Error(err),
		)
	}

	ladder.Outcomes = append(ladder.Outcomes, outcome)
}

func validateGridSpec(spec GridSpec) error {
	if spec.NumLevels < 2 {
		return &order.Rejection{
			Kind:    order.RejectInvalidStrategy,
			Message: "网格档位数至少为 2",
		}
	}
	if !spec.LowerBound.IsPositive() {
		return &order.Rejection{
			Kind:    order.RejectInvalidStrategy,
			Message: "网格下界必须为正数",
		}
	}
	if spec.UpperBound.LessThanOrEqual(spec.LowerBound) {
		return &order.Rejection{
			Kind:    order.RejectInvalidStrategy,
			Message: "网格上界必须高于下界",
		}
	}
	if !spec.QuantityPerLevel.IsPositive() {
		return &order.Rejection{
			Kind:    order.RejectInvalidStrategy,
			Message: "每档数量必须为正数",
		}
	}
	return nil
}
