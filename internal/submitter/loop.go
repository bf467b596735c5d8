package submitter

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpIndexer/internal/observability"
	"PerpIndexer/internal/pricefeed"
)

// Loop drives the push side: fetch the latest prices every interval
// and submit when either the cadence since the last successful
// submission has elapsed or the batch deviates materially from the
// last submitted baseline.
type Loop struct {
	fetcher   *pricefeed.Fetcher
	executor  *Executor
	interval  time.Duration
	cadence   time.Duration
	threshold decimal.Decimal
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewLoop(fetcher *pricefeed.Fetcher, executor *Executor, interval, cadence time.Duration, thresholdPercent decimal.Decimal, m *observability.Metrics, log zerolog.Logger) *Loop {
	return &Loop{
		fetcher:   fetcher,
		executor:  executor,
		interval:  interval,
		cadence:   cadence,
		threshold: thresholdPercent,
		metrics:   m,
		log:       log,
	}
}

func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		l.tick(ctx)
	}
}

func (l *Loop) tick(ctx context.Context) {
	prices, err := l.fetcher.Fetch(ctx)
	if err != nil {
		l.log.Warn().Err(err).Msg("price fetch failed, skipping cycle")
		return
	}
	if len(prices) == 0 {
		l.log.Warn().Msg("no usable prices this cycle")
		return
	}

	stats := l.executor.Stats()
	cadenceDue := stats.LastSuccess.IsZero() || time.Since(stats.LastSuccess) >= l.cadence

	baseline := l.executor.LastSubmitted()
	for _, p := range prices {
		if last, ok := baseline[p.MarketID]; ok && last.Sign() > 0 {
			bps := pricefeed.DeviationBps(p.Price, last)
			l.metrics.DeviationBps.WithLabelValues(p.MarketID).Set(float64(bps.Int64()))
		}
	}
	deviated := pricefeed.HasSignificantDeviation(prices, baseline, l.threshold)

	if !cadenceDue && !deviated {
		l.log.Debug().Int("markets", len(prices)).Msg("no cadence or deviation trigger, skipping submission")
		return
	}

	if _, err := l.executor.Submit(ctx, prices); err != nil {
		l.log.Warn().Err(err).Bool("cadence", cadenceDue).Bool("deviation", deviated).Msg("price submission failed")
	}
}
