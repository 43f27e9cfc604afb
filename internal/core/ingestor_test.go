package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ChallengeEngine/internal/catalog"
	"ChallengeEngine/internal/challenge"
	"ChallengeEngine/internal/event"
	"ChallengeEngine/internal/registry"
)

type fakeStore struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*challenge.Challenge
	commits int
	effects []event.Effect
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[uuid.UUID]*challenge.Challenge)}
}

func (s *fakeStore) LoadChallenge(ctx context.Context, id uuid.UUID) (*challenge.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.rows[id]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return ch.Clone(), nil
}

func (s *fakeStore) CommitChallenge(ctx context.Context, ch *challenge.Challenge, appliedTradeID *uuid.UUID, effects []event.Effect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[ch.ID] = ch.Clone()
	s.commits++
	s.effects = append(s.effects, effects...)
	return nil
}

func (s *fakeStore) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *fakeStore) allEffects() []event.Effect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Effect(nil), s.effects...)
}

func newTestIngestor(t *testing.T, store *fakeStore, cat catalog.Catalog) (*Ingestor, *registry.Registry) {
	t.Helper()
	reg := registry.New(store, nil, nil, zerolog.Nop())
	dedup := NewTradeDedup(1024, nil)
	return NewIngestor(reg, cat, dedup, nil, zerolog.Nop()), reg
}

func tradeEvent(ch *challenge.Challenge, pnl int64, ts time.Time) *event.TradeClosed {
	return &event.TradeClosed{
		TradeID:     uuid.New(),
		AccountID:   ch.AccountID,
		ChallengeID: ch.ID,
		RealizedPnL: pnl,
		Timestamp:   ts,
	}
}

func TestIngestAppliesTrade(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	ch := activeChallenge(ts)
	store := newFakeStore()
	store.rows[ch.ID] = ch.Clone()
	ing, reg := newTestIngestor(t, store, catalog.NewStaticCatalog(twoStepType()))

	status, err := ing.Ingest(context.Background(), tradeEvent(ch, 150_000, ts))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if status != IngestApplied {
		t.Fatalf("status = %s, want applied", status)
	}

	got, err := reg.Load(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Balance != initialBalance+150_000 {
		t.Errorf("balance = %d, want %d", got.Balance, initialBalance+150_000)
	}
	if got.StateVersion != 2 {
		t.Errorf("state version = %d, want 2", got.StateVersion)
	}
	if store.commitCount() != 1 {
		t.Errorf("commits = %d, want 1", store.commitCount())
	}
}

func TestIngestDuplicateTradeDropped(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	ch := activeChallenge(ts)
	store := newFakeStore()
	store.rows[ch.ID] = ch.Clone()
	ing, reg := newTestIngestor(t, store, catalog.NewStaticCatalog(twoStepType()))

	evt := tradeEvent(ch, -200_000, ts)
	if _, err := ing.Ingest(context.Background(), evt); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	status, err := ing.Ingest(context.Background(), evt)
	if err != nil {
		t.Fatalf("replay ingest: %v", err)
	}
	if status != IngestDroppedDuplicate {
		t.Fatalf("status = %s, want duplicate drop", status)
	}

	got, _ := reg.Load(context.Background(), ch.ID)
	if got.Balance != initialBalance-200_000 {
		t.Errorf("balance = %d, replay must not re-apply PnL", got.Balance)
	}
	if got.StateVersion != 2 {
		t.Errorf("state version = %d, replay must not advance it", got.StateVersion)
	}
	if store.commitCount() != 1 {
		t.Errorf("commits = %d, want 1", store.commitCount())
	}
}

func TestIngestUnknownChallengeDropped(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	store := newFakeStore()
	ing, _ := newTestIngestor(t, store, catalog.NewStaticCatalog(twoStepType()))

	evt := &event.TradeClosed{
		TradeID:     uuid.New(),
		AccountID:   uuid.New(),
		ChallengeID: uuid.New(),
		RealizedPnL: 100,
		Timestamp:   ts,
	}
	status, err := ing.Ingest(context.Background(), evt)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if status != IngestDroppedUnknown {
		t.Errorf("status = %s, want unknown drop", status)
	}
}

func TestIngestFailureEmitsEffectsOnce(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	ch := activeChallenge(ts)
	store := newFakeStore()
	store.rows[ch.ID] = ch.Clone()
	ing, _ := newTestIngestor(t, store, catalog.NewStaticCatalog(twoStepType()))

	// A 12% single-trade loss breaches the 5% daily drawdown limit.
	evt := tradeEvent(ch, -12_000_00, ts)
	status, err := ing.Ingest(context.Background(), evt)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if status != IngestApplied {
		t.Fatalf("status = %s, want applied", status)
	}

	effects := store.allEffects()
	if len(effects) != 2 {
		t.Fatalf("effects = %d, want failed + force-close", len(effects))
	}
	if effects[0].Kind != event.KindChallengeFailed || effects[1].Kind != event.KindForceCloseAll {
		t.Errorf("kinds = %s/%s", effects[0].Kind, effects[1].Kind)
	}

	// Replaying the same event against the now-terminal challenge produces no
	// further commit and no further effects.
	status, err = ing.Ingest(context.Background(), evt)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if status != IngestDroppedTerminal {
		t.Errorf("status = %s, want terminal drop", status)
	}
	if store.commitCount() != 1 {
		t.Errorf("commits = %d, want 1", store.commitCount())
	}
	if len(store.allEffects()) != 2 {
		t.Errorf("effects grew on replay")
	}

	// As does any later trade.
	status, _ = ing.Ingest(context.Background(), tradeEvent(ch, 500_000, ts.Add(time.Hour)))
	if status != IngestDroppedTerminal {
		t.Errorf("post-failure trade status = %s, want terminal drop", status)
	}
}

func TestIngestUnknownTypeFreezesForReview(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	ch := activeChallenge(ts)
	ch.ChallengeTypeID = "missing-type"
	store := newFakeStore()
	store.rows[ch.ID] = ch.Clone()
	ing, reg := newTestIngestor(t, store, catalog.NewStaticCatalog(twoStepType()))

	evt := tradeEvent(ch, 100_000, ts)
	status, err := ing.Ingest(context.Background(), evt)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if status != IngestFrozeForReview {
		t.Fatalf("status = %s, want froze for review", status)
	}

	got, _ := reg.Load(context.Background(), ch.ID)
	if !got.Review {
		t.Error("challenge must be frozen in review")
	}
	if got.Balance != initialBalance {
		t.Errorf("balance = %d, the triggering trade must not be applied", got.Balance)
	}

	effects := store.allEffects()
	if len(effects) != 1 || effects[0].Kind != event.KindChallengeReview {
		t.Fatalf("effects = %v, want single review notification", effects)
	}

	// While frozen, everything drops, including a replay of the trigger.
	status, _ = ing.Ingest(context.Background(), evt)
	if status != IngestDroppedFrozen {
		t.Errorf("replay status = %s, want frozen drop", status)
	}
}

func TestIngestInvalidTypeFreezesForReview(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	ch := activeChallenge(ts)
	store := newFakeStore()
	store.rows[ch.ID] = ch.Clone()

	broken := twoStepType()
	broken.Rules.MaxDailyDrawdownPct = 0 // Missing risk limit
	ing, reg := newTestIngestor(t, store, catalog.NewStaticCatalog(broken))

	status, err := ing.Ingest(context.Background(), tradeEvent(ch, 100_000, ts))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if status != IngestFrozeForReview {
		t.Fatalf("status = %s, want froze for review (limits are never defaulted)", status)
	}

	got, _ := reg.Load(context.Background(), ch.ID)
	if got.ReviewReason == "" {
		t.Error("review reason must name the configuration problem")
	}
}

func TestIngestConcurrentChallenges(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	store := newFakeStore()

	const n = 16
	challenges := make([]*challenge.Challenge, n)
	for i := range challenges {
		challenges[i] = activeChallenge(ts)
		store.rows[challenges[i].ID] = challenges[i].Clone()
	}
	ing, reg := newTestIngestor(t, store, catalog.NewStaticCatalog(twoStepType()))

	const perChallenge = 20
	var wg sync.WaitGroup
	for _, ch := range challenges {
		wg.Add(1)
		go func(ch *challenge.Challenge) {
			defer wg.Done()
			for i := 0; i < perChallenge; i++ {
				evt := tradeEvent(ch, 1_00, ts.Add(time.Duration(i)*time.Minute))
				if _, err := ing.Ingest(context.Background(), evt); err != nil {
					t.Errorf("ingest %s: %v", ch.ID, err)
					return
				}
			}
		}(ch)
	}
	wg.Wait()

	for _, ch := range challenges {
		got, err := reg.Load(context.Background(), ch.ID)
		if err != nil {
			t.Fatalf("load %s: %v", ch.ID, err)
		}
		if got.Balance != initialBalance+perChallenge*1_00 {
			t.Errorf("challenge %s balance = %d, want %d", ch.ID, got.Balance, initialBalance+perChallenge*1_00)
		}
		if got.StateVersion != 1+perChallenge {
			t.Errorf("challenge %s version = %d, want %d", ch.ID, got.StateVersion, 1+perChallenge)
		}
		if got.Stats.TotalTrades != perChallenge {
			t.Errorf("challenge %s trades = %d, want %d", ch.ID, got.Stats.TotalTrades, perChallenge)
		}
	}
}
