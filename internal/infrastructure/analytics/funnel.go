package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/infrastructure/config"
)

// FunnelTracker ships conversion-adjacent telemetry to the funnel analytics
// service. Delivery is fire-and-forget: events are queued in-process and a
// full queue drops rather than blocks the caller.
type FunnelTracker struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	queue chan funnelEvent
	wg    sync.WaitGroup
	stop  chan struct{}
	once  sync.Once
}

type funnelEvent struct {
	UserID  string            `json:"user_id"`
	Metric  string            `json:"metric"`
	Context map[string]string `json:"context,omitempty"`
	At      time.Time         `json:"at"`
}

func NewFunnelTracker(cfg *config.FunnelConfig, logger *zap.Logger) *FunnelTracker {
	t := &FunnelTracker{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		queue:   make(chan funnelEvent, cfg.QueueSize),
		stop:    make(chan struct{}),
	}

	t.wg.Add(1)
	go t.drain()

	return t
}

// Track enqueues a funnel event. Never blocks and never fails the caller.
func (t *FunnelTracker) Track(userID, metric string, eventCtx map[string]string) {
	ev := funnelEvent{UserID: userID, Metric: metric, Context: eventCtx, At: time.Now()}

	select {
	case t.queue <- ev:
	default:
		t.logger.Warn("funnel queue full, dropping event",
			zap.String("metric", metric))
	}
}

func (t *FunnelTracker) drain() {
	defer t.wg.Done()

	for {
		select {
		case <-t.stop:
			// Flush what is already queued.
			for {
				select {
				case ev := <-t.queue:
					t.send(ev)
				default:
					return
				}
			}
		case ev := <-t.queue:
			t.send(ev)
		}
	}
}

func (t *FunnelTracker) send(ev funnelEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		t.logger.Warn("funnel event marshal failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.http.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/track", bytes.NewReader(body))
	if err != nil {
		t.logger.Warn("funnel request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		t.logger.Warn("funnel delivery failed", zap.String("metric", ev.Metric), zap.Error(err))
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		t.logger.Warn("funnel delivery rejected",
			zap.String("metric", ev.Metric),
			zap.Int("status", resp.StatusCode))
	}
}

// Close stops the drain loop after flushing queued events.
func (t *FunnelTracker) Close() {
	t.once.Do(func() { close(t.stop) })
	t.wg.Wait()
}
