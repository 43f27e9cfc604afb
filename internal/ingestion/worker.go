package ingestion

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"ChallengeEngine/internal/core"
)

// WorkerPool drains RawEvents from the subscriber channel, parses them, and
// runs the evaluation cycle. Workers run concurrently; the registry's
// per-challenge exclusive sections serialize where it matters.
type WorkerPool struct {
	ingestor *core.Ingestor
	events   <-chan RawEvent
	workers  int
	log      zerolog.Logger
}

func NewWorkerPool(ingestor *core.Ingestor, events <-chan RawEvent, workers int, log zerolog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	return &WorkerPool{
		ingestor: ingestor,
		events:   events,
		workers:  workers,
		log:      log,
	}
}

// Run blocks until ctx is cancelled and all workers have drained.
func (wp *WorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wp.work(ctx)
		}()
	}
	wg.Wait()
}

func (wp *WorkerPool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-wp.events:
			if !ok {
				return
			}
			wp.handle(ctx, raw)
		}
	}
}

// handle ACKs malformed messages (redelivery cannot fix them) and applied or
// dropped events; it NAKs only on infrastructure errors so JetStream
// redelivers.
func (wp *WorkerPool) handle(ctx context.Context, raw RawEvent) {
	evt, err := ParseTradeClosed(raw.Data)
	if err != nil {
		wp.log.Warn().Err(err).Str("subject", raw.Subject).Msg("malformed trade event")
		raw.AckFunc()
		return
	}

	if _, err := wp.ingestor.Ingest(ctx, evt); err != nil {
		wp.log.Error().Err(err).
			Str("challenge_id", evt.ChallengeID.String()).
			Str("trade_id", evt.TradeID.String()).
			Msg("ingest failed, message will redeliver")
		raw.NakFunc()
		return
	}

	raw.AckFunc()
}
