package openai

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressLogger(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		wantLogs int
	}{
		{name: "間隔なしなら毎回出力", interval: 0, wantLogs: 4},
		{name: "間隔内は最終件のみ出力", interval: time.Hour, wantLogs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			p := newProgressLogger(logger, tt.interval, 8)

			var wg sync.WaitGroup
			for range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					p.done(2)
				}()
			}
			wg.Wait()

			assert.Equal(t, 8, p.count())
			out := strings.TrimSpace(buf.String())
			assert.Len(t, strings.Split(out, "\n"), tt.wantLogs)
			assert.Contains(t, out, "completed=8")
		})
	}
}
