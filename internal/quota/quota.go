// Package quota enforces the per-profile daily send cap. Days roll over at
// local midnight in the profile's configured timezone.
package quota

import (
	"fmt"
	"time"

	"github.com/mkrv/messengerq/internal/store"
)

// Policy selects which terminal outcomes consume quota
type Policy string

const (
	// PolicyTerminal counts successes and permanent failures. A permanently
	// failed attempt still used a send slot.
	PolicyTerminal Policy = "terminal"
	// PolicySuccessOnly counts only successful sends.
	PolicySuccessOnly Policy = "success_only"
)

// Valid reports whether the policy is a known value
func (p Policy) Valid() bool {
	return p == PolicyTerminal || p == PolicySuccessOnly
}

// Status is the quota position of a profile at a point in time
type Status struct {
	Remaining   int           `json:"remaining"`
	Limit       int           `json:"limit"`
	SentSuccess int           `json:"sent_success"`
	SentFail    int           `json:"sent_fail"`
	ResetsIn    time.Duration `json:"resets_in"`
	Day         string        `json:"day"`
}

// Tracker computes remaining quota from the store's daily counters
type Tracker struct {
	store  *store.Store
	policy Policy
}

// New creates a quota tracker. An empty policy defaults to PolicyTerminal.
func New(s *store.Store, policy Policy) *Tracker {
	if policy == "" {
		policy = PolicyTerminal
	}
	return &Tracker{store: s, policy: policy}
}

// Policy returns the configured consumption policy
func (t *Tracker) Policy() Policy {
	return t.policy
}

// Status returns the remaining quota and time until local midnight for the
// profile's current calendar day.
func (t *Tracker) Status(profileID uint64, now time.Time) (*Status, error) {
	profile, err := t.store.GetProfile(profileID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		return nil, fmt.Errorf("profile %d has invalid timezone %q: %w", profileID, profile.Timezone, err)
	}

	local := now.In(loc)
	day := local.Format("2006-01-02")

	counts, err := t.store.DailyCounts(profileID, day)
	if err != nil {
		return nil, err
	}

	used := counts.SentSuccess
	if t.policy == PolicyTerminal {
		used += counts.SentFail
	}
	remaining := profile.DailyLimit - used
	if remaining < 0 {
		remaining = 0
	}

	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)

	return &Status{
		Remaining:   remaining,
		Limit:       profile.DailyLimit,
		SentSuccess: counts.SentSuccess,
		SentFail:    counts.SentFail,
		ResetsIn:    midnight.Sub(local),
		Day:         day,
	}, nil
}

// Record registers a terminal outcome against the profile's current local
// day. Retryable (non-terminal) failures must not be recorded.
func (t *Tracker) Record(profileID uint64, now time.Time, success bool) error {
	profile, err := t.store.GetProfile(profileID)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		return fmt.Errorf("profile %d has invalid timezone %q: %w", profileID, profile.Timezone, err)
	}
	day := now.In(loc).Format("2006-01-02")
	return t.store.IncrementDaily(profileID, day, success)
}
