package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// OutboxRow is one durable, not-yet-confirmed outbound effect.
type OutboxRow struct {
	ID           int64
	ChallengeID  uuid.UUID
	StateVersion int64
	Kind         string
	Subject      string
	Payload      []byte
}

// MarkPublished records delivery confirmation for an outbox row. Publishing
// is at-least-once at the broker; the consumer-side dedup key is
// (challenge_id, state_version, kind), so a crash between publish and this
// update only causes a redundant, deduplicatable redelivery.
func (s *ChallengeStore) MarkPublished(ctx context.Context, challengeID uuid.UUID, stateVersion int64, kind string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE challenge.outbox
		SET published_at = NOW()
		WHERE challenge_id = $1 AND state_version = $2 AND kind = $3 AND published_at IS NULL
	`, challengeID, stateVersion, kind)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// LoadUnpublished returns unconfirmed outbox rows oldest-first, bounded by
// limit. The replayer drains these in order so per-challenge version
// monotonicity is preserved on redelivery.
func (s *ChallengeStore) LoadUnpublished(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, challenge_id, state_version, kind, subject, payload
		FROM challenge.outbox
		WHERE published_at IS NULL
		ORDER BY id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load unpublished outbox rows: %w", err)
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		if err := rows.Scan(&r.ID, &r.ChallengeID, &r.StateVersion, &r.Kind, &r.Subject, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountUnpublished reports the current outbox backlog.
func (s *ChallengeStore) CountUnpublished(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM challenge.outbox WHERE published_at IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unpublished outbox rows: %w", err)
	}
	return n, nil
}

// PublishedMark is one confirmed (challenge, version, kind) delivery at a
// challenge's highest published version.
type PublishedMark struct {
	ChallengeID  uuid.UUID
	StateVersion int64
	Kind         string
}

// LoadPublishWatermarks rebuilds the publisher's per-challenge dedup watermark
// after a restart: for each challenge, every confirmed kind at its highest
// confirmed state version. The kind set matters because a failing transition
// publishes two effects under one version.
func (s *ChallengeStore) LoadPublishWatermarks(ctx context.Context) ([]PublishedMark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.challenge_id, o.state_version, o.kind
		FROM challenge.outbox o
		JOIN (
			SELECT challenge_id, MAX(state_version) AS state_version
			FROM challenge.outbox
			WHERE published_at IS NOT NULL
			GROUP BY challenge_id
		) m ON m.challenge_id = o.challenge_id AND m.state_version = o.state_version
		WHERE o.published_at IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("load publish watermarks: %w", err)
	}
	defer rows.Close()

	var marks []PublishedMark
	for rows.Next() {
		var m PublishedMark
		if err := rows.Scan(&m.ChallengeID, &m.StateVersion, &m.Kind); err != nil {
			return nil, fmt.Errorf("scan publish watermark: %w", err)
		}
		marks = append(marks, m)
	}
	return marks, rows.Err()
}
