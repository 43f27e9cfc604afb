package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ChallengeEngine/internal/challenge"
	"ChallengeEngine/internal/event"
	"ChallengeEngine/internal/persistence"
	"ChallengeEngine/internal/registry"
	"ChallengeEngine/internal/testutil"
)

func setupStore(t *testing.T) (*persistence.ChallengeStore, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}

	return persistence.NewChallengeStore(db, nil), cleanup
}

func seedChallenge() *challenge.Challenge {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &challenge.Challenge{
		ID:               uuid.New(),
		AccountID:        uuid.New(),
		ChallengeTypeID:  "two-step-100k",
		CurrentPhase:     1,
		Status:           challenge.StatusActive,
		Balance:          100_000_00,
		InitialBalance:   100_000_00,
		HighWaterMark:    100_000_00,
		DayStartBalance:  100_000_00,
		DayStartBoundary: now.Truncate(24 * time.Hour),
		PhaseStartedAt:   now,
		LastTradeAt:      now,
		StateVersion:     1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestCommitChallengeRoundTrip(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	ch := seedChallenge()
	if err := store.CommitChallenge(ctx, ch, nil, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := store.LoadChallenge(ctx, ch.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Balance != ch.Balance || got.StateVersion != 1 || got.Status != challenge.StatusActive {
		t.Errorf("loaded %d/v%d/%s, want %d/v1/active", got.Balance, got.StateVersion, got.Status, ch.Balance)
	}
	if got.HighWaterMark != ch.HighWaterMark || got.DayStartBalance != ch.DayStartBalance {
		t.Errorf("baselines = %d/%d, want %d/%d",
			got.HighWaterMark, got.DayStartBalance, ch.HighWaterMark, ch.DayStartBalance)
	}
	if !got.PhaseStartedAt.Equal(ch.PhaseStartedAt) || !got.DayStartBoundary.Equal(ch.DayStartBoundary) {
		t.Errorf("timestamps = %v/%v, want %v/%v",
			got.PhaseStartedAt, got.DayStartBoundary, ch.PhaseStartedAt, ch.DayStartBoundary)
	}

	if _, err := store.LoadChallenge(ctx, uuid.New()); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("unknown challenge err = %v, want ErrNotFound", err)
	}
}

func TestCommitChallengeRejectsStaleVersion(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	ch := seedChallenge()
	if err := store.CommitChallenge(ctx, ch, nil, nil); err != nil {
		t.Fatalf("commit v1: %v", err)
	}

	next := ch.Clone()
	next.Balance = 100_500_00
	next.StateVersion = 2
	if err := store.CommitChallenge(ctx, next, nil, nil); err != nil {
		t.Fatalf("commit v2: %v", err)
	}

	// A write that does not advance the version must not land.
	stale := ch.Clone()
	stale.Balance = 0
	stale.StateVersion = 2
	if err := store.CommitChallenge(ctx, stale, nil, nil); err == nil {
		t.Fatal("expected error committing a non-advancing version")
	}

	got, err := store.LoadChallenge(ctx, ch.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Balance != 100_500_00 || got.StateVersion != 2 {
		t.Errorf("state = %d/v%d after stale write, want 100_500_00/v2", got.Balance, got.StateVersion)
	}
}

func TestCommitChallengeWritesOutboxAndTradeMarker(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	ch := seedChallenge()
	if err := store.CommitChallenge(ctx, ch, nil, nil); err != nil {
		t.Fatalf("commit v1: %v", err)
	}

	tradeID := uuid.New()
	failed := ch.Clone()
	failed.Balance = 88_000_00
	failed.Status = challenge.StatusFailed
	failed.FailureReason = "daily_drawdown_breach"
	failed.StateVersion = 2
	effects := []event.Effect{
		{
			ChallengeID:  ch.ID,
			StateVersion: 2,
			Kind:         event.KindChallengeFailed,
			Payload:      event.ChallengeFailed{ChallengeID: ch.ID, FailureReason: "daily_drawdown_breach", StateVersion: 2},
		},
		{
			ChallengeID:  ch.ID,
			StateVersion: 2,
			Kind:         event.KindForceCloseAll,
			Payload:      event.ForceCloseAll{ChallengeID: ch.ID, Reason: "daily_drawdown_breach", StateVersion: 2},
		},
	}
	if err := store.CommitChallenge(ctx, failed, &tradeID, effects); err != nil {
		t.Fatalf("commit failure: %v", err)
	}

	applied, err := store.IsTradeApplied(ctx, ch.ID, tradeID)
	if err != nil {
		t.Fatalf("trade lookup: %v", err)
	}
	if !applied {
		t.Error("committed trade not recorded in applied_trades")
	}
	if other, _ := store.IsTradeApplied(ctx, ch.ID, uuid.New()); other {
		t.Error("unknown trade reported as applied")
	}

	rows, err := store.LoadUnpublished(ctx, 10)
	if err != nil {
		t.Fatalf("load unpublished: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("outbox rows = %d, want 2", len(rows))
	}
	kinds := map[string]bool{}
	for _, r := range rows {
		if r.ChallengeID != ch.ID || r.StateVersion != 2 {
			t.Errorf("row = %s/v%d, want %s/v2", r.ChallengeID, r.StateVersion, ch.ID)
		}
		kinds[r.Kind] = true
	}
	if !kinds["challenge_failed"] || !kinds["force_close_all"] {
		t.Errorf("outbox kinds = %v, want challenge_failed and force_close_all", kinds)
	}

	if err := store.MarkPublished(ctx, ch.ID, 2, "challenge_failed"); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if n, _ := store.CountUnpublished(ctx); n != 1 {
		t.Errorf("unpublished = %d after confirming one kind, want 1", n)
	}

	marks, err := store.LoadPublishWatermarks(ctx)
	if err != nil {
		t.Fatalf("load watermarks: %v", err)
	}
	if len(marks) != 1 {
		t.Fatalf("watermarks = %d, want 1", len(marks))
	}
	if marks[0].ChallengeID != ch.ID || marks[0].StateVersion != 2 || marks[0].Kind != "challenge_failed" {
		t.Errorf("watermark = %+v, want {%s 2 challenge_failed}", marks[0], ch.ID)
	}
}
