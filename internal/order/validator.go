package order

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-bot/internal/config"
	"futures-bot/internal/exchange"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// Validator 在订单触网前执行全部安全校验。
// 检查按固定顺序执行，首个失败即短路返回；价格、金额、余额等依赖外部数据源的
// 检查在数据源不可用时降级为告警跳过，只有符号/方向/数量这些结构性检查是硬性的。
type Validator struct {
	cfg    config.ValidationConfig
	api    exchange.API
	logger *zap.Logger
}

// NewValidator 创建校验器。
func NewValidator(cfg config.ValidationConfig, api exchange.API, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		cfg:    cfg,
		api:    api,
		logger: logger,
	}
}

// Validate 校验请求并返回归一化副本。失败时返回 *Rejection，
// 交易所元数据不可用等基础设施错误按普通 error 传播。
func (v *Validator) Validate(ctx context.Context, req Request) (Validated, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))

	v.logger.Debug("开始校验订单",
		zap.String("symbol", symbol),
		zap.String("side", req.Side),
		zap.String("kind", string(req.Kind)),
		zap.String("quantity", req.Quantity.String()),
	)

	// 1. 符号：格式、存在性、交易状态。元数据是数量校验的前提，取不到时直接失败。
	if symbol == "" || !symbolPattern.MatchString(symbol) {
		return Validated{}, reject(RejectInvalidSymbol, "符号格式非法: %q，应形如 BTCUSDT", req.Symbol)
	}

	info, err := v.api.GetInstrumentInfo(ctx, symbol)
	if err != nil {
		if errors.Is(err, exchange.ErrNotFound) {
			return Validated{}, reject(RejectInvalidSymbol, "合约 %s 不存在，请检查符号拼写", symbol)
		}
		return Validated{}, fmt.Errorf("获取合约规则失败: %w", err)
	}
	if !info.Tradeable() {
		return Validated{}, reject(RejectInvalidSymbol, "合约 %s 当前不可交易 (状态: %s)", symbol, info.Status)
	}

	// 2. 方向。
	side, ok := ParseSide(req.Side)
	if !ok {
		return Validated{}, reject(RejectInvalidSide, "方向 %q 非法，必须是 BUY 或 SELL", req.Side)
	}

	// 3. 数量：正数、区间、步长整除。余数必须精确为零，不做浮点容差比较。
	if rej := v.checkQuantity(symbol, req.Quantity, info); rej != nil {
		return Validated{}, rej
	}

	// 后续检查依赖参考价，取不到时逐项跳过而不是整体失败。
	reference, refErr := v.api.GetReferencePrice(ctx, symbol)
	refAvailable := refErr == nil
	if !refAvailable {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Validated{}, ctxErr
		}
		v.logger.Warn("无法获取参考价，跳过价格相关校验",
			zap.String("symbol", symbol),
			zap.Error(refErr),
		)
	}

	// 4. 价格：精度与偏离度。
	if !req.Price.IsZero() {
		if rej := v.checkPrice(symbol, req, info, reference, refAvailable); rej != nil {
			return Validated{}, rej
		}
	}

	// 5. 名义价值边界。
	effective := req.Price
	if !effective.IsPositive() && refAvailable {
		effective = reference
	}
	if effective.IsPositive() {
		if rej := v.checkNotional(req.Quantity, effective); rej != nil {
			return Validated{}, rej
		}
	} else {
		v.logger.Warn("缺少有效价格，跳过名义价值校验", zap.String("symbol", symbol))
	}

	// 6. 余额。余额源不可用按非致命处理。
	if effective.IsPositive() {
		if rej := v.checkBalance(ctx, symbol, side, req.Quantity, effective); rej != nil {
			return Validated{}, rej
		}
	} else {
		v.logger.Warn("缺少有效价格，跳过余额校验", zap.String("symbol", symbol))
	}

	validated := Validated{
		Symbol:      symbol,
		Side:        side,
		Quantity:    req.Quantity,
		Price:       req.Price,
		StopPrice:   req.StopPrice,
		Kind:        req.Kind,
		TimeInForce: req.TimeInForce,
		PostOnly:    req.PostOnly,
		ReduceOnly:  req.ReduceOnly,
	}
	if refAvailable {
		validated.ReferencePrice = reference
	}

	v.logger.Debug("订单校验通过",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
	)

	return validated, nil
}

func (v *Validator) checkQuantity(symbol string, qty decimal.Decimal, info exchange.InstrumentInfo) *Rejection {
	if !qty.IsPositive() {
		return reject(RejectInvalidQuantity, "数量必须为正数 (收到 %s)", qty)
	}
	if info.MinQuantity.IsPositive() && qty.LessThan(info.MinQuantity) {
		return reject(RejectInvalidQuantity, "数量 %s 低于 %s 的最小值 %s", qty, symbol, info.MinQuantity)
	}
	if info.MaxQuantity.IsPositive() && qty.GreaterThan(info.MaxQuantity) {
		return reject(RejectInvalidQuantity, "数量 %s 超过 %s 的最大值 %s", qty, symbol, info.MaxQuantity)
	}
	if info.QuantityStep.IsPositive() {
		remainder := qty.Mod(info.QuantityStep)
		if !remainder.IsZero() {
			suggested := qty.Sub(remainder)
			return reject(RejectInvalidQuantity,
				"数量 %s 不是步长 %s 的整数倍，可尝试 %s", qty, info.QuantityStep, suggested)
		}
	}
	return nil
}

func (v *Validator) checkPrice(symbol string, req Request, info exchange.InstrumentInfo, reference decimal.Decimal, refAvailable bool) *Rejection {
	price := req.Price
	if !price.IsPositive() {
		return reject(RejectPriceOutOfBounds, "价格必须为正数 (收到 %s)", price)
	}

	if !price.Equal(price.Truncate(info.PricePrecision)) {
		return reject(RejectPricePrecisionExceeded,
			"价格 %s 小数位超过 %s 允许的 %d 位，可尝试 %s",
			price, symbol, info.PricePrecision, price.Truncate(info.PricePrecision))
	}

	if !refAvailable {
		return nil
	}

	// 止损限价单的限价对照的是自身触发价而非市价，容忍更大的偏离。
	bound := decimal.NewFromFloat(v.cfg.MaxPriceDeviation)
	if req.Kind == KindStopLimit {
		bound = decimal.NewFromFloat(v.cfg.StopLimitDeviation)
	}

	deviation := price.Sub(reference).Abs().Div(reference)
	if deviation.GreaterThan(bound) {
		return reject(RejectPriceOutOfBounds,
			"价格 %s 偏离市价 %s 达 %s%%，超出允许的 %s%%",
			price, reference,
			deviation.Mul(decimal.NewFromInt(100)).Round(2),
			bound.Mul(decimal.NewFromInt(100)).Round(2))
	}

	return nil
}

func (v *Validator) checkNotional(qty, price decimal.Decimal) *Rejection {
	value := qty.Mul(price)
	minValue := decimal.NewFromFloat(v.cfg.MinOrderValue)
	maxValue := decimal.NewFromFloat(v.cfg.MaxOrderValue)

	if value.LessThan(minValue) {
		return reject(RejectNotionalTooSmall,
			"订单价值 %s 低于最小限制 %s，请增加数量", value.Round(2), minValue)
	}
	if value.GreaterThan(maxValue) {
		return reject(RejectNotionalTooLarge,
			"订单价值 %s 超过安全上限 %s，请拆分为多笔", value.Round(2), maxValue)
	}
	return nil
}

func (v *Validator) checkBalance(ctx context.Context, symbol string, side Side, qty, price decimal.Decimal) *Rejection {
	available, err := v.api.GetAvailableBalance(ctx)
	if err != nil {
		v.logger.Warn("无法获取账户余额，跳过余额校验",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return nil
	}

	notional := qty.Mul(price)

	if side == SideBuy {
		// 1% 缓冲覆盖手续费与短时价格波动。
		buffer := decimal.NewFromFloat(1 + v.cfg.BalanceBuffer)
		needed := notional.Mul(buffer)
		if available.LessThan(needed) {
			return reject(RejectInsufficientBalance,
				"可用保证金不足: 需要约 %s，当前可用 %s", needed.Round(2), available.Round(2))
		}
		return nil
	}

	// 合约卖出按固定保证金率近似（假设 20 倍杠杆），不查询实际杠杆。
	margin := notional.Mul(decimal.NewFromFloat(v.cfg.SellMarginRate))
	if available.LessThan(margin) {
		return reject(RejectInsufficientBalance,
			"保证金不足: 需要约 %s，当前可用 %s", margin.Round(2), available.Round(2))
	}
	return nil
}
