package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// DailyCounter tracks terminal send outcomes for one profile-local calendar
// day. Both fields are monotonically non-decreasing within a day.
type DailyCounter struct {
	SentSuccess int `json:"sent_success"`
	SentFail    int `json:"sent_fail"`
}

// IncrementDaily bumps the success or failure counter for the given
// calendar day (YYYY-MM-DD in the profile's timezone). The counter row is
// created lazily on first use.
func (s *Store) IncrementDaily(profileID uint64, day string, success bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCounters)
		key := counterKey(profileID, day)

		counter := &DailyCounter{}
		if data := bucket.Get(key); data != nil {
			if err := json.Unmarshal(data, counter); err != nil {
				return fmt.Errorf("failed to unmarshal daily counter: %w", err)
			}
		}

		if success {
			counter.SentSuccess++
		} else {
			counter.SentFail++
		}

		data, err := json.Marshal(counter)
		if err != nil {
			return fmt.Errorf("failed to marshal daily counter: %w", err)
		}
		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to store daily counter: %w", err)
		}
		return nil
	})
}

// DailyCounts returns the counter for the given day, zero-valued when the
// day has no row yet.
func (s *Store) DailyCounts(profileID uint64, day string) (*DailyCounter, error) {
	counter := &DailyCounter{}
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCounters).Get(counterKey(profileID, day))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, counter)
	})
	if err != nil {
		return nil, err
	}
	return counter, nil
}

func counterKey(profileID uint64, day string) []byte {
	return []byte(fmt.Sprintf("%d/%s", profileID, day))
}
