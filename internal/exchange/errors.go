package exchange

import (
	"errors"
	"fmt"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过交易。
	ErrMaintenance = errors.New("exchange on maintenance")
	// ErrNotFound 表示查询对象（合约或订单）在交易所侧不存在。
	ErrNotFound = errors.New("exchange resource not found")
	// ErrUnavailable 表示数据源暂时不可用，调用方可自行决定跳过或重试。
	ErrUnavailable = errors.New("exchange data unavailable")
)

// BusinessError 携带交易所返回的业务拒绝信息，用于展示给调用方。
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("exchange business error [%s]: %s", e.Code, e.Message)
}

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
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
			return true
		default:
			return false
		}
	}

	return false
}

// IsBusiness 判断错误是否为交易所业务拒绝。
func IsBusiness(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}
