package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketProfiles      = []byte("profiles")
	bucketRecipients    = []byte("recipients")
	bucketRecipientKeys = []byte("recipient_keys")
	bucketEvents        = []byte("events")
	bucketCounters      = []byte("counters")
)

// Store is the durable recipient store backed by BoltDB. A single Store
// handle is opened per process and shared by the engine, API and CLI.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the store at path
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketProfiles, bucketRecipients, bucketRecipientKeys, bucketEvents, bucketCounters} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *Store) DB() *bolt.DB {
	return s.db
}

// AddRecipients imports raw identifier lines for a profile. Blank lines and
// #-comments are skipped. Lines that normalize to a key already present for
// the profile count as duplicates; lines that fail normalization are
// collected with a reason. Existing rows are never overwritten.
func (s *Store) AddRecipients(profileID uint64, lines []string) (*ImportReport, error) {
	report := &ImportReport{}

	type candidate struct {
		raw string
		key string
	}
	var candidates []candidate

	for _, line := range lines {
		raw := strings.TrimSpace(line)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		key, err := Normalize(raw)
		if err != nil {
			report.Invalid = append(report.Invalid, InvalidInput{Raw: raw, Reason: err.Error()})
			continue
		}
		candidates = append(candidates, candidate{raw: raw, key: key})
	}

	if len(candidates) == 0 {
		return report, nil
	}

	now := time.Now().UTC()
	err := s.db.Update(func(tx *bolt.Tx) error {
		recipients := tx.Bucket(bucketRecipients)
		keys := tx.Bucket(bucketRecipientKeys)

		for _, c := range candidates {
			indexKey := recipientKeyIndex(profileID, c.key)
			if keys.Get(indexKey) != nil {
				report.Duplicates++
				continue
			}

			r := &Recipient{
				ID:            uuid.New().String(),
				ProfileID:     profileID,
				RawInput:      c.raw,
				NormalizedKey: c.key,
				Status:        StatusFresh,
				FirstSeenAt:   now,
				LastUpdatedAt: now,
			}
			if err := putRecipient(recipients, r); err != nil {
				return err
			}
			if err := keys.Put(indexKey, []byte(r.ID)); err != nil {
				return fmt.Errorf("failed to index recipient key: %w", err)
			}
			if err := appendEvent(tx, r.ID, EventQueue, now, map[string]any{"raw": c.raw}); err != nil {
				return err
			}
			report.Added++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// LeaseNext atomically claims the next eligible recipient for the profile.
// Eligible are FRESH rows and FAIL_RETRYABLE rows whose next_attempt_after
// has passed; retryable rows win over fresh ones, older first_seen_at wins
// within a class. Returns nil, nil when nothing is eligible.
func (s *Store) LeaseNext(profileID uint64, now time.Time) (*Recipient, error) {
	var leased *Recipient

	err := s.db.Update(func(tx *bolt.Tx) error {
		recipients := tx.Bucket(bucketRecipients)

		var best *Recipient
		c := recipients.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Recipient
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if r.ProfileID != profileID || !leaseEligible(&r, now) {
				continue
			}
			if best == nil || leaseLess(&r, best) {
				best = &r
			}
		}
		if best == nil {
			return nil
		}

		best.Status = StatusInProgress
		best.Attempts++
		best.LastStartedAt = now
		best.HeartbeatAt = now
		best.LastUpdatedAt = now
		if err := putRecipient(recipients, best); err != nil {
			return err
		}
		if err := appendEvent(tx, best.ID, EventStart, now, map[string]any{"attempt": best.Attempts}); err != nil {
			return err
		}
		leased = best
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

func leaseEligible(r *Recipient, now time.Time) bool {
	switch r.Status {
	case StatusFresh:
		return true
	case StatusFailRetryable:
		return r.NextAttemptAfter.IsZero() || !r.NextAttemptAfter.After(now)
	default:
		return false
	}
}

// leaseLess orders retryable before fresh, then by first_seen_at, then by ID
// so the pick is deterministic.
func leaseLess(a, b *Recipient) bool {
	ca, cb := leaseClass(a), leaseClass(b)
	if ca != cb {
		return ca < cb
	}
	if !a.FirstSeenAt.Equal(b.FirstSeenAt) {
		return a.FirstSeenAt.Before(b.FirstSeenAt)
	}
	return a.ID < b.ID
}

func leaseClass(r *Recipient) int {
	if r.Status == StatusFailRetryable {
		return 0
	}
	return 1
}

// Heartbeat refreshes the liveness timestamp of an in-progress recipient
func (s *Store) Heartbeat(id string, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		recipients := tx.Bucket(bucketRecipients)
		r, err := getRecipient(recipients, id)
		if err != nil {
			return err
		}
		if r.Status != StatusInProgress {
			return fmt.Errorf("recipient %s is not in progress (status %s)", id, r.Status)
		}
		r.HeartbeatAt = now
		return putRecipient(recipients, r)
	})
}

// Complete resolves a leased recipient to its post-attempt status and
// appends a RESULT event. Only IN_PROGRESS recipients can be completed.
func (s *Store) Complete(id string, comp Completion) error {
	switch comp.Status {
	case StatusSuccess, StatusFailRetryable, StatusFailPerm:
	default:
		return fmt.Errorf("invalid completion status %q", comp.Status)
	}

	now := time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		recipients := tx.Bucket(bucketRecipients)
		r, err := getRecipient(recipients, id)
		if err != nil {
			return err
		}
		if r.Status != StatusInProgress {
			return fmt.Errorf("recipient %s is not in progress (status %s)", id, r.Status)
		}

		r.Status = comp.Status
		r.LastErrorCode = comp.ErrorCode
		r.LastErrorMsg = comp.ErrorMsg
		r.LastEvidencePath = comp.EvidencePath
		r.NextAttemptAfter = comp.NextAttemptAfter
		r.HeartbeatAt = time.Time{}
		r.LastUpdatedAt = now
		if err := putRecipient(recipients, r); err != nil {
			return err
		}

		return appendEvent(tx, r.ID, EventResult, now, map[string]any{
			"status":   string(comp.Status),
			"code":     comp.ErrorCode,
			"message":  comp.ErrorMsg,
			"evidence": comp.EvidencePath,
			"attempt":  r.Attempts,
		})
	})
}

// RecoverStale forces recipients stuck IN_PROGRESS back to FAIL_RETRYABLE.
// A recipient is stale when its heartbeat is missing or older than
// staleAfter. This is the crash-recovery path run on engine start; the
// interrupted send's true outcome is unknown, so it is always treated as a
// retryable failure.
func (s *Store) RecoverStale(profileID uint64, staleAfter time.Duration, now time.Time) (int, error) {
	recovered := 0
	cutoff := now.Add(-staleAfter)

	err := s.db.Update(func(tx *bolt.Tx) error {
		recipients := tx.Bucket(bucketRecipients)

		var stale []*Recipient
		c := recipients.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Recipient
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if r.ProfileID != profileID || r.Status != StatusInProgress {
				continue
			}
			if r.HeartbeatAt.IsZero() || r.HeartbeatAt.Before(cutoff) {
				stale = append(stale, &r)
			}
		}

		for _, r := range stale {
			r.Status = StatusFailRetryable
			r.LastErrorCode = "ENGINE_CRASH"
			r.LastErrorMsg = "engine stopped while send was in flight"
			r.NextAttemptAfter = time.Time{}
			r.HeartbeatAt = time.Time{}
			r.LastUpdatedAt = now
			if err := putRecipient(recipients, r); err != nil {
				return err
			}
			if err := appendEvent(tx, r.ID, EventRecovered, now, map[string]any{"attempt": r.Attempts}); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	return recovered, err
}

// ForceRetry resets a recipient back to FRESH with a zero attempt counter.
// This is the explicit operator override for terminally failed recipients;
// it is rejected while a send is in flight.
func (s *Store) ForceRetry(id string, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		recipients := tx.Bucket(bucketRecipients)
		r, err := getRecipient(recipients, id)
		if err != nil {
			return err
		}
		if r.Status == StatusInProgress {
			return fmt.Errorf("recipient %s has a send in flight", id)
		}

		r.Status = StatusFresh
		r.Attempts = 0
		r.LastErrorCode = ""
		r.LastErrorMsg = ""
		r.LastEvidencePath = ""
		r.NextAttemptAfter = time.Time{}
		r.LastUpdatedAt = now
		if err := putRecipient(recipients, r); err != nil {
			return err
		}
		return appendEvent(tx, r.ID, EventQueue, now, map[string]any{"forced": true})
	})
}

// Get retrieves a recipient by ID. Returns nil, nil when not found.
func (s *Store) Get(id string) (*Recipient, error) {
	var found *Recipient
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecipients).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = &Recipient{}
		return json.Unmarshal(data, found)
	})
	return found, err
}

// GetByKey retrieves a recipient by its normalized key within a profile.
// Returns nil, nil when not found.
func (s *Store) GetByKey(profileID uint64, key string) (*Recipient, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRecipientKeys).Get(recipientKeyIndex(profileID, key))
		if v != nil {
			id = string(v)
		}
		return nil
	})
	if err != nil || id == "" {
		return nil, err
	}
	return s.Get(id)
}

// List returns the profile's recipients ordered by first_seen_at ascending
func (s *Store) List(profileID uint64, filter ListFilter) ([]*Recipient, error) {
	var all []*Recipient

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecipients).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Recipient
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if r.ProfileID != profileID {
				continue
			}
			if filter.Status != "" && r.Status != filter.Status {
				continue
			}
			all = append(all, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortRecipients(all)

	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			return nil, nil
		}
		all = all[filter.Offset:]
	}
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

func sortRecipients(rs []*Recipient) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].FirstSeenAt.Equal(rs[j].FirstSeenAt) {
			return rs[i].FirstSeenAt.Before(rs[j].FirstSeenAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

// Counts returns the number of recipients per status for a profile
func (s *Store) Counts(profileID uint64) (map[Status]int, error) {
	counts := map[Status]int{
		StatusFresh:         0,
		StatusInProgress:    0,
		StatusSuccess:       0,
		StatusFailRetryable: 0,
		StatusFailPerm:      0,
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecipients).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Recipient
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if r.ProfileID == profileID {
				counts[r.Status]++
			}
		}
		return nil
	})
	return counts, err
}

// Events returns the audit log for a recipient in append order
func (s *Store) Events(recipientID string) ([]*Event, error) {
	var events []*Event
	prefix := []byte(recipientID + "/")

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				continue
			}
			events = append(events, &ev)
		}
		return nil
	})
	return events, err
}

// PruneEvents deletes audit events older than maxAge. Recipients themselves
// are never deleted.
func (s *Store) PruneEvents(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		c := bucket.Cursor()

		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				continue
			}
			if ev.At.Before(cutoff) {
				toDelete = append(toDelete, append([]byte{}, k...))
			}
		}
		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func getRecipient(b *bolt.Bucket, id string) (*Recipient, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("recipient not found: %s", id)
	}
	r := &Recipient{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipient: %w", err)
	}
	return r, nil
}

func putRecipient(b *bolt.Bucket, r *Recipient) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal recipient: %w", err)
	}
	if err := b.Put([]byte(r.ID), data); err != nil {
		return fmt.Errorf("failed to store recipient: %w", err)
	}
	return nil
}

// appendEvent writes an audit event inside the caller's transaction so the
// mutation and its log entry commit as one unit.
func appendEvent(tx *bolt.Tx, recipientID string, typ EventType, at time.Time, payload map[string]any) error {
	bucket := tx.Bucket(bucketEvents)
	seq, err := bucket.NextSequence()
	if err != nil {
		return err
	}

	var data json.RawMessage
	if payload != nil {
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
	}
	ev := Event{
		RecipientID: recipientID,
		Type:        typ,
		At:          at,
		Data:        data,
	}
	encoded, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := []byte(fmt.Sprintf("%s/%016d", recipientID, seq))
	if err := bucket.Put(key, encoded); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func recipientKeyIndex(profileID uint64, key string) []byte {
	buf := make([]byte, 8, 8+len(key))
	binary.BigEndian.PutUint64(buf, profileID)
	return append(buf, key...)
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}
