package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"PerpIndexer/internal/chain"
	"PerpIndexer/internal/codec"
	"PerpIndexer/internal/dispatch"
	"PerpIndexer/internal/observability"
	"PerpIndexer/internal/store"
)

// Sink receives every successfully applied event. Implementations must
// not block; the scanner calls it inline on the scan goroutine.
type Sink interface {
	Publish(ev codec.Event, prov codec.Provenance)
}

// Scanner walks the chain in block ranges, decodes contract logs and
// feeds them to the dispatcher in deterministic (block, logIndex) order.
type Scanner struct {
	client     chain.Client
	decoder    *codec.Decoder
	dispatcher *dispatch.Dispatcher
	store      store.Store
	contract   common.Address
	sink       Sink // optional
	metrics    *observability.Metrics
	log        zerolog.Logger

	tsWorkers int
}

func New(client chain.Client, dec *codec.Decoder, disp *dispatch.Dispatcher, st store.Store, contract common.Address, sink Sink, m *observability.Metrics, log zerolog.Logger) *Scanner {
	return &Scanner{
		client:     client,
		decoder:    dec,
		dispatcher: disp,
		store:      st,
		contract:   contract,
		sink:       sink,
		metrics:    m,
		log:        log,
		tsWorkers:  4,
	}
}

// Scan processes the inclusive block range [from, to]. It returns the
// number of events applied. A non-nil error means at least one event
// in the range failed to apply and the checkpoint must not advance
// past it; the range is safe to retry because every projection write
// is idempotent.
func (s *Scanner) Scan(ctx context.Context, from, to uint64) (int, error) {
	start := time.Now()
	logs, err := s.client.Logs(ctx, s.contract, from, to)
	if err != nil {
		s.metrics.ScanRangeErrors.Inc()
		return 0, fmt.Errorf("fetch logs [%d,%d]: %w", from, to, err)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	timestamps := s.resolveTimestamps(ctx, logs)

	applied := 0
	var dispatchErr error
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := s.decoder.Decode(lg)
		if err != nil {
			if errors.Is(err, codec.ErrUnknownEvent) {
				s.metrics.DecodeSkipped.Inc()
				continue
			}
			// A known topic that fails to decode is a real problem,
			// but one malformed log must not wedge the pipeline.
			s.metrics.DecodeSkipped.Inc()
			s.log.Warn().Err(err).
				Str("tx", lg.TxHash.Hex()).
				Uint("log_index", lg.Index).
				Msg("undecodable log, skipping")
			continue
		}

		prov := codec.Provenance{
			BlockNumber: lg.BlockNumber,
			TxHash:      lg.TxHash,
			LogIndex:    lg.Index,
			Timestamp:   timestamps[lg.BlockNumber],
		}
		if err := s.dispatcher.Dispatch(ctx, ev, prov); err != nil {
			s.metrics.DispatchErrors.WithLabelValues(ev.EventName()).Inc()
			s.log.Error().Err(err).
				Str("event", ev.EventName()).
				Str("tx", lg.TxHash.Hex()).
				Uint("log_index", lg.Index).
				Msg("dispatch failed")
			if dispatchErr == nil {
				dispatchErr = fmt.Errorf("dispatch %s at %s:%d: %w", ev.EventName(), lg.TxHash.Hex(), lg.Index, err)
			}
			continue
		}

		applied++
		s.metrics.EventsApplied.WithLabelValues(ev.EventName()).Inc()
		if s.sink != nil {
			s.sink.Publish(ev, prov)
		}
	}

	s.metrics.BlocksScanned.Add(float64(to - from + 1))
	s.metrics.ScanRangeDur.Observe(time.Since(start).Seconds())
	s.log.Debug().
		Uint64("from", from).
		Uint64("to", to).
		Int("logs", len(logs)).
		Int("applied", applied).
		Dur("took", time.Since(start)).
		Msg("scanned range")
	return applied, dispatchErr
}

// resolveTimestamps fetches the header timestamp for every distinct
// block in the batch. A block whose header cannot be fetched falls
// back to the scan wall clock rather than failing the range.
func (s *Scanner) resolveTimestamps(ctx context.Context, logs []types.Log) map[uint64]time.Time {
	distinct := make(map[uint64]struct{}, len(logs))
	for _, lg := range logs {
		distinct[lg.BlockNumber] = struct{}{}
	}

	out := make(map[uint64]time.Time, len(distinct))
	if len(distinct) == 0 {
		return out
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		work = make(chan uint64, len(distinct))
	)
	for n := range distinct {
		work <- n
	}
	close(work)

	workers := s.tsWorkers
	if workers > len(distinct) {
		workers = len(distinct)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range work {
				ts, err := s.client.BlockTimestamp(ctx, n)
				if err != nil {
					s.log.Warn().Err(err).Uint64("block", n).Msg("block timestamp unavailable, using wall clock")
					ts = time.Now().UTC()
				}
				mu.Lock()
				out[n] = ts
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return out
}

// Run catches up from the stored checkpoint to the chain head in
// batches of batchSize, then keeps polling every interval. The
// checkpoint only advances after a range applies cleanly.
func (s *Scanner) Run(ctx context.Context, batchSize uint64, interval time.Duration) error {
	if batchSize == 0 {
		batchSize = 1
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.catchUp(ctx, batchSize); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error().Err(err).Msg("scan pass failed, will retry")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scanner) catchUp(ctx context.Context, batchSize uint64) error {
	head, err := s.client.Head(ctx)
	if err != nil {
		return fmt.Errorf("chain head: %w", err)
	}
	s.metrics.ChainHead.Set(float64(head))

	cp, err := s.store.Checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	for from := cp + 1; from <= head; {
		to := from + batchSize - 1
		if to > head {
			to = head
		}
		if _, err := s.Scan(ctx, from, to); err != nil {
			return err
		}
		if err := s.store.AdvanceCheckpoint(ctx, to); err != nil {
			return fmt.Errorf("advance checkpoint to %d: %w", to, err)
		}
		s.metrics.CheckpointBlock.Set(float64(to))
		from = to + 1

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}
