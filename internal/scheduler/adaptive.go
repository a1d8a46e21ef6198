package scheduler

// ---------------------------------------------------------------------------
// Adaptive Batch Sizing
// Learns per-token analysis cost from observed batch durations and sizes the
// next batch to land near the target wall-clock budget. Movement is gradual:
// half the distance toward the ideal per recalculation, clamped to bounds.
// ---------------------------------------------------------------------------

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BatchSizerConfig configures the batch sizing controller.
type BatchSizerConfig struct {
	MinSize       int
	MaxSize       int
	TargetSeconds float64
	Smoothing     float64 // EWMA weight for new per-item observations, 0-1
}

// DefaultBatchSizerConfig returns the standard controller settings.
func DefaultBatchSizerConfig() BatchSizerConfig {
	return BatchSizerConfig{
		MinSize:       5,
		MaxSize:       16,
		TargetSeconds: 25,
		Smoothing:     0.3,
	}
}

// BatchSizer is a feedback controller over batch size.
type BatchSizer struct {
	cfg BatchSizerConfig

	mu      sync.Mutex
	perItem float64 // EWMA seconds per analyzed token, 0 until first sample
	current int
	samples int64
}

// NewBatchSizer creates a sizer starting at the minimum batch size.
func NewBatchSizer(cfg BatchSizerConfig) *BatchSizer {
	if cfg.MinSize < 1 {
		cfg.MinSize = 1
	}
	if cfg.MaxSize < cfg.MinSize {
		cfg.MaxSize = cfg.MinSize
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = 0.3
	}
	return &BatchSizer{cfg: cfg, current: cfg.MinSize}
}

// Next returns the batch size to use for the upcoming cycle.
func (b *BatchSizer) Next() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Observe feeds one completed batch back into the controller.
// Zero-size or zero-duration batches carry no signal and are ignored.
func (b *BatchSizer) Observe(size int, elapsed time.Duration) {
	if size <= 0 || elapsed <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sample := elapsed.Seconds() / float64(size)
	if b.perItem == 0 {
		b.perItem = sample
	} else {
		b.perItem = b.cfg.Smoothing*sample + (1-b.cfg.Smoothing)*b.perItem
	}
	b.samples++

	ideal := float64(b.cfg.MaxSize)
	if b.perItem > 0 {
		ideal = b.cfg.TargetSeconds / b.perItem
	}

	// Move halfway toward the ideal each cycle to damp provider jitter.
	next := int(math.Round(float64(b.current) + (ideal-float64(b.current))/2))
	if next < b.cfg.MinSize {
		next = b.cfg.MinSize
	}
	if next > b.cfg.MaxSize {
		next = b.cfg.MaxSize
	}

	if next != b.current {
		log.Debug().
			Int("from", b.current).
			Int("to", next).
			Float64("per_item_secs", b.perItem).
			Msg("scheduler: batch size adjusted")
	}
	b.current = next
}

// BatchSizerStats is a point-in-time view of the controller.
type BatchSizerStats struct {
	Current     int     `json:"current"`
	PerItemSecs float64 `json:"per_item_secs"`
	Samples     int64   `json:"samples"`
	MinSize     int     `json:"min_size"`
	MaxSize     int     `json:"max_size"`
}

func (b *BatchSizer) Stats() BatchSizerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BatchSizerStats{
		Current:     b.current,
		PerItemSecs: b.perItem,
		Samples:     b.samples,
		MinSize:     b.cfg.MinSize,
		MaxSize:     b.cfg.MaxSize,
	}
}
