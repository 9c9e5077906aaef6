package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Validation ValidationConfig `mapstructure:"validation"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。凭证建议通过环境变量注入，不落在配置文件里。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制只读调用的重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ValidationConfig 管理下单前校验的安全边界。
type ValidationConfig struct {
	MinOrderValue      float64 `mapstructure:"min_order_value"`
	MaxOrderValue      float64 `mapstructure:"max_order_value"`
	MaxPriceDeviation  float64 `mapstructure:"max_price_deviation"`
	StopLimitDeviation float64 `mapstructure:"stop_limit_deviation"`
	BalanceBuffer      float64 `mapstructure:"balance_buffer"`
	SellMarginRate     float64 `mapstructure:"sell_margin_rate"`
}

// StrategyConfig 控制多单策略的节奏参数。
type StrategyConfig struct {
	OcoPollInterval time.Duration `mapstructure:"oco_poll_interval"`
	GridPostOnly    bool          `mapstructure:"grid_post_only"`
}

// DatabaseConfig 管理流水数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Validation.MinOrderValue <= 0 {
		err = multierr.Append(err, errors.New("validation.min_order_value 必须大于0"))
	}
	if c.Validation.MaxOrderValue <= c.Validation.MinOrderValue {
		err = multierr.Append(err, errors.New("validation.max_order_value 必须大于 min_order_value"))
	}
	if c.Validation.MaxPriceDeviation <= 0 || c.Validation.MaxPriceDeviation >= 1 {
		err = multierr.Append(err, errors.New("validation.max_price_deviation 必须位于(0,1)"))
	}
	if c.Validation.StopLimitDeviation < c.Validation.MaxPriceDeviation || c.Validation.StopLimitDeviation >= 1 {
		err = multierr.Append(err, errors.New("validation.stop_limit_deviation 必须位于[max_price_deviation,1)"))
	}
	if c.Validation.BalanceBuffer < 0 || c.Validation.BalanceBuffer > 0.2 {
		err = multierr.Append(err, errors.New("validation.balance_buffer 应位于[0,0.2]"))
	}
	if c.Validation.SellMarginRate <= 0 || c.Validation.SellMarginRate > 1 {
		err = multierr.Append(err, errors.New("validation.sell_margin_rate 必须位于(0,1]"))
	}
	if c.Strategy.OcoPollInterval <= 0 {
		err = multierr.Append(err, errors.New("strategy.oco_poll_interval 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
