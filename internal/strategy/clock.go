package strategy

import (
	"context"
	"time"
)

// Clock 抽象时间来源与休眠，测试中用假时钟替代真实等待。
type Clock interface {
	Now() time.Time
	// Sleep 阻塞 d 时长，ctx 取消时提前返回 ctx.Err()。
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// SystemClock 返回走真实挂钟的时钟。
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
