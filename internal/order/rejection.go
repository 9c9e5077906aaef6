package order

import (
	"errors"
	"fmt"
)

// RejectionKind 是校验失败的结构化原因分类。
type RejectionKind string

const (
	RejectInvalidSymbol          RejectionKind = "INVALID_SYMBOL"
	RejectInvalidSide            RejectionKind = "INVALID_SIDE"
	RejectInvalidQuantity        RejectionKind = "INVALID_QUANTITY"
	RejectPricePrecisionExceeded RejectionKind = "PRICE_PRECISION_EXCEEDED"
	RejectPriceOutOfBounds       RejectionKind = "PRICE_OUT_OF_BOUNDS"
	RejectNotionalTooSmall       RejectionKind = "NOTIONAL_TOO_SMALL"
	RejectNotionalTooLarge       RejectionKind = "NOTIONAL_TOO_LARGE"
	RejectInsufficientBalance    RejectionKind = "INSUFFICIENT_BALANCE"
	RejectInvalidStrategy        RejectionKind = "INVALID_STRATEGY"
)

// Rejection 表示订单在本地校验阶段被拒绝，永远不会到达交易所。
type Rejection struct {
	Kind    RejectionKind
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("订单被拒绝 [%s]: %s", r.Kind, r.Message)
}

func reject(kind RejectionKind, format string, args ...interface{}) *Rejection {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsRejection 提取错误链中的校验拒绝。
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
