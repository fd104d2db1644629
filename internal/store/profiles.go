package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Profile is one browsing identity with its own recipient list and quota
type Profile struct {
	ID         uint64    `json:"id"`
	Nickname   string    `json:"nickname"`
	DailyLimit int       `json:"daily_limit"`
	Timezone   string    `json:"timezone"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProfileDefaults seeds the profile auto-created on first open
type ProfileDefaults struct {
	Nickname   string
	DailyLimit int
	Timezone   string
}

// EnsureDefaultProfile creates the initial profile when the store holds
// none and returns the lowest-ID profile otherwise.
func (s *Store) EnsureDefaultProfile(d ProfileDefaults) (*Profile, error) {
	var profile *Profile

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketProfiles)

		k, v := bucket.Cursor().First()
		if k != nil {
			profile = &Profile{}
			return json.Unmarshal(v, profile)
		}

		nickname := d.Nickname
		if nickname == "" {
			nickname = "Profile 1"
		}
		now := time.Now().UTC()
		p, err := createProfile(bucket, nickname, d.DailyLimit, d.Timezone, now)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// CreateProfile adds a new profile
func (s *Store) CreateProfile(nickname string, dailyLimit int, timezone string) (*Profile, error) {
	if nickname == "" {
		return nil, fmt.Errorf("profile nickname is required")
	}
	if dailyLimit <= 0 {
		return nil, fmt.Errorf("daily limit must be positive")
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	var profile *Profile
	err := s.db.Update(func(tx *bolt.Tx) error {
		p, err := createProfile(tx.Bucket(bucketProfiles), nickname, dailyLimit, timezone, time.Now().UTC())
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func createProfile(bucket *bolt.Bucket, nickname string, dailyLimit int, timezone string, now time.Time) (*Profile, error) {
	id, err := bucket.NextSequence()
	if err != nil {
		return nil, err
	}
	p := &Profile{
		ID:         id,
		Nickname:   nickname,
		DailyLimit: dailyLimit,
		Timezone:   timezone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := bucket.Put(profileKey(id), data); err != nil {
		return nil, fmt.Errorf("failed to store profile: %w", err)
	}
	return p, nil
}

// UpdateProfile changes a profile's nickname and daily limit
func (s *Store) UpdateProfile(id uint64, nickname string, dailyLimit int) (*Profile, error) {
	if dailyLimit <= 0 {
		return nil, fmt.Errorf("daily limit must be positive")
	}

	var profile *Profile
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketProfiles)
		data := bucket.Get(profileKey(id))
		if data == nil {
			return fmt.Errorf("profile not found: %d", id)
		}
		p := &Profile{}
		if err := json.Unmarshal(data, p); err != nil {
			return fmt.Errorf("failed to unmarshal profile: %w", err)
		}

		if nickname != "" {
			p.Nickname = nickname
		}
		p.DailyLimit = dailyLimit
		p.UpdatedAt = time.Now().UTC()

		encoded, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal profile: %w", err)
		}
		if err := bucket.Put(profileKey(id), encoded); err != nil {
			return fmt.Errorf("failed to store profile: %w", err)
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// GetProfile retrieves a profile by ID
func (s *Store) GetProfile(id uint64) (*Profile, error) {
	var profile *Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProfiles).Get(profileKey(id))
		if data == nil {
			return fmt.Errorf("profile not found: %d", id)
		}
		profile = &Profile{}
		return json.Unmarshal(data, profile)
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// ListProfiles returns all profiles ordered by ID
func (s *Store) ListProfiles() ([]*Profile, error) {
	var profiles []*Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketProfiles).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var p Profile
			if err := json.Unmarshal(v, &p); err != nil {
				continue
			}
			profiles = append(profiles, &p)
		}
		return nil
	})
	return profiles, err
}

func profileKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}
