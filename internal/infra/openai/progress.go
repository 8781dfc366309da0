package openai

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultProgressInterval は進捗ログの最短出力間隔
const DefaultProgressInterval = 5 * time.Second

// progressLogger は並列に完了するバッチの進捗を一定間隔でログに出力する
type progressLogger struct {
	mu        sync.Mutex
	logger    *slog.Logger
	interval  time.Duration
	total     int
	completed int
	started   time.Time
	lastLog   time.Time
}

func newProgressLogger(logger *slog.Logger, interval time.Duration, total int) *progressLogger {
	now := time.Now()
	return &progressLogger{
		logger:   logger,
		interval: interval,
		total:    total,
		started:  now,
		lastLog:  now,
	}
}

// done は n 件の完了を記録する。interval 未満の間隔では最終件以外を出力しない。
func (p *progressLogger) done(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completed += n
	now := time.Now()
	if now.Sub(p.lastLog) < p.interval && p.completed != p.total {
		return
	}
	p.lastLog = now

	p.logger.Info("Embedding progress",
		"completed", p.completed,
		"total", p.total,
		"elapsed", now.Sub(p.started).Round(time.Millisecond),
	)
}

// count は記録済みの完了件数を返す
func (p *progressLogger) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}
