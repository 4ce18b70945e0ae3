package fanout

import (
	"context"
	"time"

	"github.com/mliang/classcast/backend/internal/service/translate"
)

// retrier 对瞬时翻译错误做指数退避重试。第n次失败后等待 baseDelay*2^n，
// 不可重试的错误立即放弃。
type retrier struct {
	maxRetries int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func newRetrier(maxRetries int, baseDelay time.Duration) *retrier {
	return &retrier{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleepContext,
	}
}

// do 执行fn，瞬时错误最多重试maxRetries次（总尝试次数 maxRetries+1）
func (r *retrier) do(ctx context.Context, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !translate.IsTransient(err) {
			return "", err
		}
		if attempt == r.maxRetries {
			break
		}

		delay := r.baseDelay << uint(attempt)
		if serr := r.sleep(ctx, delay); serr != nil {
			return "", serr
		}
	}
	return "", lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
