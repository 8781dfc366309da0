package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
)

const (
	// DefaultTimeout は1回の API 呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries は一時的なエラー時の最大リトライ回数
	DefaultMaxRetries = 3

	// BaseBackoff は Exponential Backoff の基底時間
	BaseBackoff = 1 * time.Second

	// MaxBackoff は Exponential Backoff の最大待機時間
	MaxBackoff = 16 * time.Second
)

var (
	// ErrUpstreamUnavailable はリトライしても上流 API が応答しなかった場合のエラー
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvalidResponse は上流 API のレスポンスが期待と異なる場合のエラー
	ErrInvalidResponse = errors.New("invalid response")
)

// retryPolicy は API 呼び出しごとのタイムアウトとリトライ方針
type retryPolicy struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		timeout:     DefaultTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: BaseBackoff,
		maxBackoff:  MaxBackoff,
	}
}

// backoff は attempt 回目（1始まり）のリトライ前の待機時間を返す
func (p retryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.baseBackoff) * math.Pow(2, float64(attempt-1))
	if d > float64(p.maxBackoff) {
		return p.maxBackoff
	}
	return time.Duration(d)
}

// do は fn を試行ごとのタイムアウト付きで実行し、一時的なエラーであればリトライする
// 呼び出し元のコンテキストがキャンセルされた場合は即座に ctx.Err() を返す
func (p retryPolicy) do(ctx context.Context, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			wait := p.backoff(attempt)
			logger.Warn("Retrying upstream request",
				"op", op,
				"attempt", attempt,
				"backoff", wait,
				"error", lastErr,
			)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransient(err) {
			return fmt.Errorf("%s failed: %w", op, err)
		}
		lastErr = err
	}

	return fmt.Errorf("%w: %s failed after %d attempts: %v", ErrUpstreamUnavailable, op, p.maxRetries+1, lastErr)
}

// isTransient はリトライで回復しうるエラーかどうかを判定する
// 429・408・5xx、試行単位のタイムアウト、ネットワークエラーが対象
func isTransient(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidResponse) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= http.StatusInternalServerError:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
