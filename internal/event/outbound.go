package event

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind discriminates outbound effects. Each kind has exactly one payload
// schema and one NATS subject, so consumers never have to guess at shape.
type Kind int32

const (
	KindUnknown Kind = iota
	KindPhasePassed
	KindChallengeFailed
	KindFunded
	KindChallengeReview
	KindForceCloseAll
)

func (k Kind) String() string {
	switch k {
	case KindPhasePassed:
		return "phase_passed"
	case KindChallengeFailed:
		return "challenge_failed"
	case KindFunded:
		return "funded"
	case KindChallengeReview:
		return "challenge_review"
	case KindForceCloseAll:
		return "force_close_all"
	default:
		return "unknown"
	}
}

// KindFromString parses the stored outbox kind back into a Kind.
func KindFromString(s string) Kind {
	switch s {
	case "phase_passed":
		return KindPhasePassed
	case "challenge_failed":
		return KindChallengeFailed
	case "funded":
		return KindFunded
	case "challenge_review":
		return KindChallengeReview
	case "force_close_all":
		return KindForceCloseAll
	default:
		return KindUnknown
	}
}

// Subject returns the NATS subject an effect of this kind is published to.
// Notifications live under challenge.events.>, the force-close command under
// trading.commands.> so the trading engine can subscribe independently.
func (k Kind) Subject(challengeID uuid.UUID) string {
	switch k {
	case KindForceCloseAll:
		return fmt.Sprintf("trading.commands.force_close.%s", challengeID)
	default:
		return fmt.Sprintf("challenge.events.%s.%s", k, challengeID)
	}
}

// PhasePassed notifies that a challenge advanced to a new phase.
type PhasePassed struct {
	ChallengeID  uuid.UUID `json:"challenge_id"`
	NewPhase     int32     `json:"new_phase"`
	StateVersion int64     `json:"state_version"`
}

// ChallengeFailed notifies that a challenge was disqualified. Exactly one of
// these exists per challenge ID.
type ChallengeFailed struct {
	ChallengeID    uuid.UUID `json:"challenge_id"`
	FailureReason  string    `json:"failure_reason"`
	FailureDetails string    `json:"failure_details"`
	StateVersion   int64     `json:"state_version"`
}

// Funded notifies that a challenge completed its final phase.
type Funded struct {
	ChallengeID  uuid.UUID `json:"challenge_id"`
	StateVersion int64     `json:"state_version"`
}

// ChallengeReview flags a challenge frozen for operator intervention.
type ChallengeReview struct {
	ChallengeID  uuid.UUID `json:"challenge_id"`
	Reason       string    `json:"reason"`
	StateVersion int64     `json:"state_version"`
}

// ForceCloseAll commands the trading engine to close all open positions for
// the challenge's account immediately. Idempotent downstream by
// (challenge_id, state_version).
type ForceCloseAll struct {
	ChallengeID  uuid.UUID `json:"challenge_id"`
	Reason       string    `json:"reason"`
	StateVersion int64     `json:"state_version"`
}

// Effect is one outbound command or notification produced by a committed
// transition. (ChallengeID, StateVersion, Kind) is the idempotency key end to
// end: the publisher skips already-published versions, and consumers
// deduplicate on the same tuple.
type Effect struct {
	ChallengeID  uuid.UUID
	StateVersion int64
	Kind         Kind
	Payload      any
}

// Subject returns the NATS subject for this effect.
func (e Effect) Subject() string {
	return e.Kind.Subject(e.ChallengeID)
}
