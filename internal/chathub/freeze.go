package chathub

import (
	"fundchat/backend/internal/config"
	"fundchat/backend/internal/models"
)

type FreezeState int

const (
	FreezeActive FreezeState = iota
	FreezeFrozen
)

func (s FreezeState) String() string {
	if s == FreezeFrozen {
		return "frozen"
	}
	return "active"
}

// FreezeTally counts distinct voters seen on a project channel. The
// transition to FreezeFrozen fires once, when the count reaches the
// threshold, and is never undone. It is not safe for concurrent use.
type FreezeTally struct {
	threshold int
	voters    map[string]struct{}
	state     FreezeState
}

// NewFreezeTally falls back to config.DefaultFreezeThreshold for a
// non-positive threshold.
func NewFreezeTally(threshold int) *FreezeTally {
	if threshold <= 0 {
		threshold = config.DefaultFreezeThreshold
	}
	return &FreezeTally{threshold: threshold, voters: make(map[string]struct{})}
}

// Observe applies a delivered vote. counted is false for anonymous votes,
// repeated voters and votes arriving after the freeze. transitioned is true
// only for the vote that reached the threshold.
func (t *FreezeTally) Observe(voter string) (counted, transitioned bool) {
	if voter == "" || t.state == FreezeFrozen {
		return false, false
	}
	if _, ok := t.voters[voter]; ok {
		return false, false
	}
	t.voters[voter] = struct{}{}

	if len(t.voters) >= t.threshold {
		t.state = FreezeFrozen
		return true, true
	}
	return true, false
}

// CheckCast reports whether voter may still cast a vote.
func (t *FreezeTally) CheckCast(voter string) error {
	if t.state == FreezeFrozen {
		return ErrAlreadyFrozen
	}
	if _, ok := t.voters[voter]; ok {
		return ErrDuplicateVote
	}
	return nil
}

func (t *FreezeTally) State() FreezeState { return t.state }

func (t *FreezeTally) Frozen() bool { return t.state == FreezeFrozen }

func (t *FreezeTally) Status() models.FreezeStatus {
	return models.FreezeStatus{
		Votes:     len(t.voters),
		Threshold: t.threshold,
		Frozen:    t.state == FreezeFrozen,
	}
}
