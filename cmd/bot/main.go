package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-bot/internal/bot"
	"futures-bot/internal/config"
	"futures-bot/internal/exchange"
	"futures-bot/internal/journal"
	"futures-bot/internal/log"
	"futures-bot/internal/strategy"
)

const usage = `用法: bot <命令> [参数]

命令:
  test        连通性自检
  balance     查询可用余额
  orders      查询当前挂单
  market      下市价单
  limit       下限价单
  stop-limit  下止损限价单
  oco         挂 OCO 订单对（可选监控到一腿离场）
  twap        按时间加权拆单执行
  grid        铺设或拆除网格
  cancel-all  撤销符号下全部挂单

每个命令都支持 -config 指定配置文件，默认 configs/config.yaml。
`

type command func(ctx context.Context, fs *flag.FlagSet, args []string) error

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	commands := map[string]command{
		"test":       runTest,
		"balance":    runBalance,
		"orders":     runOrders,
		"market":     runMarket,
		"limit":      runLimit,
		"stop-limit": runStopLimit,
		"oco":        runOco,
		"twap":       runTwap,
		"grid":       runGrid,
		"cancel-all": runCancelAll,
	}

	name := os.Args[1]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "未知命令: %q\n\n%s", name, usage)
		os.Exit(2)
	}

	if err := dispatch(name, cmd, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// dispatch 装配服务并执行子命令。子命令自己注册参数并负责调用 fs.Parse，
// -config 是每个子命令共有的。
func dispatch(name string, cmd command, args []string) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.String("config", "", "配置文件路径，默认使用 configs/config.yaml")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 子命令先注册自己的参数、再由 withService 统一解析并装配依赖。
	return cmd(ctx, fs, args)
}

func runTest(ctx context.Context, fs *flag.FlagSet, args []string) error {
	symbol := fs.String("symbol", "BTCUSDT", "用于自检的合约符号")
	return withService(ctx, fs, args, func(ctx context.Context, svc *bot.Service) error {
		if err := svc.Test(ctx, *symbol); err != nil {
			return err
		}
		fmt.Println("连通性自检通过")
		return nil
	})
}

func runBalance(ctx context.Context, fs *flag.FlagSet, args []string) error {
	return withService(ctx, fs, args, func(ctx context.Context, svc *bot.Service) error {
		balance, err := svc.AccountBalance(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("可用余额: %s\n", balance.String())
		return nil
	})
}

func runOrders(ctx context.Context, fs *flag.FlagSet, args []string) error {
	symbol := fs.String("symbol", "", "合约符号，留空返回全部挂单")
	return withService(ctx, fs, args, func(ctx context.Context, svc *bot.Service) error {
		handles, err := svc.OpenOrders(ctx, *symbol)
		if err != nil {
			return err
		}
		if len(handles) == 0 {
			fmt.Println("当前没有挂单")
			return nil
		}
		for _, h := range handles {
			fmt.Printf("%-20s %-10s %-6s %-12s 数量=%v 价格=%v 状态=%s\n",
				h.ID, h.Symbol, h.Side, h.Kind, h.Quantity, h.Price, h.Status)
		}
		return nil
	})
}

func runMarket(ctx context.Context, fs *flag.FlagSet, args []string) error {
	symbol := fs.String("symbol", "", "合约符号，如 BTCUSDT")
	side := fs.String("side", "", "方向 BUY/SELL")
	quantity := fs.String("quantity", "", "下单数量")
	reduceOnly := fs.Bool("reduce-only", false, "只减仓")
	return withService(ctx, fs, args, func(ctx context.Context, svc *bot.Service) error {
		qty, err := parseDecimal("quantity", *quantity)
		if err != nil {
			return err
		}
		handle, err := svc.PlaceMarketOrder(ctx, *symbol, *side, qty, *reduceOnly)
		if err != nil {
			return err
		}
		fmt.Printf("市价单已提交: id=%s 状态=%s\n", handle.ID, handle.Status)
		return nil
	})
}

func runLimit(ctx context.Context, fs *flag.FlagSet, args []string) error {
	symbol := fs.String("symbol", "", "合约符号，如 BTCUSDT")
	side := fs.String("side", "", "方向 BUY/SELL")
	quantity := fs.String("quantity", "", "下单数量")
	price := fs.String("price", "", "限价")
	tif := fs.String("tif", "GTC", "有效期类型 GTC/IOC/FOK")
	postOnly := fs.Bool("post-only", false, "只挂单，立即成交时被交易所拒绝")
	reduceOnly := fs.Bool("reduce-only", false, "只减仓")
	return withService(ctx, fs, args, func(ctx context.Context, svc *bot.Service) error {
		qty, err := parseDecimal("quantity", *quantity)
		if err != nil {
			return err
		}
		px, err := parseDecimal("price", *price)
		if err != nil {
			return err
		}
		handle, err := svc.PlaceLimitOrder(ctx, *symbol, *side, qty, px, bot.LimitOptions{
			TimeInForce: *tif,
			PostOnly:    *postOnly,
			ReduceOnly:  *reduceOnly,
		})
		if err != nil {
			return err
		}
		fmt.Printf("限价单已提交: id=%s 状态=%s\n", handle.ID, handle.Status)
		return nil
	})
}

func runStopLimit(ctx context.Context, fs *flag.FlagSet, args []string) error {
	symbol := fs.String("symbol", "", "合约符号，如 BTCUSDT")
	side := fs.String("side", "", "方向 BUY/SELL")
	quantity := fs.String("quantity", "", "下单数量")
	price := fs.String("price", "", "触发后的限价")
	stopPrice := fs.String("stop-price", "", "触发价")
	reduceOnly := fs.Bool("reduce-only", false, "只减仓")
	return withService(ctx, fs, args, func(ctx context.Context, svc *bot.Service) error {
		qty, err := parseDecimal("quantity", *quantity)
		if err != nil {
			return err
		}
		px, err := parseDecimal("price", *price)
		if err != nil {
			return err
		}
		stop, err := parseDecimal("stop-price", *stopPrice)
		if err != nil {
			return err
		}
		handle, err := svc.PlaceStopLimitOrder(ctx, *symbol, *side, qty, px, stop, *reduceOnly)
		if err != nil {
			return err
		}
		fmt.Printf("止损限价单已提交: id=%s 状态=%s\n", handle.ID, handle.Status)
		return nil
	})
}

func runOco(ctx context.Context, fs *flag.FlagSet, args []string) error {
	symbol := fs.String("symbol", "", "合约符号，如 BTCUSDT")
	side := fs.String("side", "", "方向 BUY/SELL")
	quantity := fs.String("quantity", "", "下单数量")
	takeProfit := fs.String("take-profit", "", "止盈价")
	stopLoss := fs.String("stop-loss", "", "止损触发价")
	stopLimit := fs.String("stop-limit", "", "止损限价，留空时止损腿按市价触发")
	monitor := fs.Bool("monitor", false, "挂出后持续监控直到一腿离场")
	return withService(ctx, fs, args, func(ctx context.Context, svc *bot.Service) error {
		qty, err := parseDecimal("quantity", *quantity)
		if err != nil {
			return err
		}
		tp, err := parseDecimal("take-profit", *takeProfit)
		if err != nil {
			return err
		}
		sl, err := parseDecimal("stop-loss", *stopLoss)
		if err != nil {
			return err
		}
		slLimit := decimal.Zero
		if *stopLimit != "" {
			slLimit, err = parseDecimal("stop-limit", *stopLimit)
			if err != nil {
				return err
			}
		}

		result, err := svc.PlaceOco(ctx, strategy.OcoParams{
			Symbol:          *symbol,
			Side:            *side,
			Quantity:        qty,
			TakeProfitPrice: tp,
			StopLossPrice:   sl,
			StopLimitPrice:  slLimit,
		}, *monitor)
		for _, w := range result.Warnings {
			fmt.Printf("警告: %s\n", w)
		}
		if err != nil {
			return err
		}

		fmt.Printf("OCO 状态=%s 止盈腿=%s 止损腿=%s\n",
			result.State, result.Pair.TakeProfit.ID, result.Pair.StopLoss.ID)
		if result.WinningLeg != "" {
			fmt.Printf("胜出腿=%s 已撤销腿=%s\n", result.WinningLeg, result.CanceledLeg)
		}
		return nil
	})
}

func runTwap(ctx context.Context, fs *flag.FlagSet, args []string) error {
	symbol := fs.String("symbol", "", "合约符号，如 BTCUSDT")
	side := fs.String("side", "", "方向 BUY/SELL")
	quantity := fs.String("quantity", "", "总数量，会被均分到各片")
	slices := fs.Int("slices", 0, "片数")
	duration := fs.Duration("duration", 0, "总时长，如 30m")
	reduceOnly := fs.Bool("reduce-only", false, "只减仓")
	return withService(ctx, fs, args, func(ctx context.Context, svc *bot.Service) error {
		qty, err := parseDecimal("quantity", *quantity)
		if err != nil {
			return err
		}
		result, err := svc.ExecuteTwap(ctx, strategy.TwapPlan{
			Symbol:        *symbol,
			Side:          *side,
			TotalQuantity: qty,
			NumSlices:     *slices,
			Duration:      *duration,
			ReduceOnly:    *reduceOnly,
		})
		if err != nil {
			return err
		}

		fmt.Printf("TWAP 完成: 成功=%d 失败=%d 成交量=%s 均价=%s\n",
			result.Succeeded, result.Failed, result.TotalFilled.String(), result.AvgPrice.String())
		if result.Interrupted {
			fmt.Println("执行被中断，未调度的片已放弃")
		}
		return nil
	})
}

func runGrid(ctx context.Context, fs *flag.FlagSet, args []string) error {
	symbol := fs.String("symbol", "", "合约符号，如 BTCUSDT")
	lower := fs.String("lower", "", "网格下界价格")
	upper := fs.String("upper", "", "网格上界价格")
	levels := fs.Int("levels", 0, "档位数，至少为 2")
	quantity := fs.String("quantity", "", "每档数量")
	cancel := fs.Bool("cancel", false, "拆除网格：撤销符号下全部挂单")
	return withService(ctx, fs, args, func(ctx context.Context, svc *bot.Service) error {
		if *cancel {
			report, err := svc.TeardownGrid(ctx, *symbol)
			if err != nil {
				if report.Requested > 0 {
					fmt.Printf("网格拆除不完整: 请求=%d 成功=%d 失败=%d\n",
						report.Requested, report.Canceled, len(report.FailedIDs))
				}
				return err
			}
			fmt.Printf("网格已拆除: 撤销 %d 笔挂单\n", report.Canceled)
			return nil
		}

		lo, err := parseDecimal("lower", *lower)
		if err != nil {
			return err
		}
		hi, err := parseDecimal("upper", *upper)
		if err != nil {
			return err
		}
		qty, err := parseDecimal("quantity", *quantity)
		if err != nil {
			return err
		}

		ladder, err := svc.SetupGrid(ctx, strategy.GridSpec{
			Symbol:           *symbol,
			LowerBound:       lo,
			UpperBound:       hi,
			NumLevels:        *levels,
			QuantityPerLevel: qty,
		})
		if ladder != nil {
			for _, w := range ladder.Warnings {
				fmt.Printf("警告: %s\n", w)
			}
			fmt.Printf("网格状态=%s 挂出=%d 失败=%d 买单侧资金=%s 卖单侧数量=%s\n",
				ladder.State, ladder.Placed, ladder.Failed,
				ladder.RequiredQuote.String(), ladder.RequiredBase.String())
		}
		return err
	})
}

func runCancelAll(ctx context.Context, fs *flag.FlagSet, args []string) error {
	symbol := fs.String("symbol", "", "合约符号，留空撤销全部符号的挂单")
	return withService(ctx, fs, args, func(ctx context.Context, svc *bot.Service) error {
		report, err := svc.CancelAllOrders(ctx, *symbol)
		if err != nil {
			return err
		}
		fmt.Printf("批量撤单完成: 请求=%d 成功=%d\n", report.Requested, report.Canceled)
		return nil
	})
}

// withService 解析参数、装配配置/日志/流水/交易所客户端，然后执行子命令主体。
func withService(ctx context.Context, fs *flag.FlagSet, args []string, body func(context.Context, *bot.Service) error) error {
	if err := fs.Parse(args); err != nil {
		return err
	}

	configPath := fs.Lookup("config").Value.String()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	store, err := journal.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	jnl, err := journal.New(store, logger)
	if err != nil {
		logger.Error("初始化流水失败", zap.Error(err))
		return err
	}

	client, err := exchange.NewClient(cfg.Exchange, logger)
	if err != nil {
		logger.Error("初始化交易所客户端失败", zap.Error(err))
		return err
	}

	return body(ctx, bot.New(cfg, client, jnl, logger))
}

func parseDecimal(name, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("缺少必填参数 -%s", name)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("参数 -%s 不是合法数字: %q", name, raw)
	}
	return d, nil
}
