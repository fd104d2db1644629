package quota

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mkrv/messengerq/internal/store"
)

func setup(t *testing.T, limit int, policy Policy) (*store.Store, *store.Profile, *Tracker) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "quota.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	p, err := s.EnsureDefaultProfile(store.ProfileDefaults{DailyLimit: limit, Timezone: "UTC"})
	if err != nil {
		t.Fatal(err)
	}
	return s, p, New(s, policy)
}

func TestStatusFullQuota(t *testing.T) {
	_, p, tracker := setup(t, 10, PolicyTerminal)

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	st, err := tracker.Status(p.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if st.Remaining != 10 {
		t.Errorf("remaining = %d, want 10", st.Remaining)
	}
	if st.ResetsIn != 14*time.Hour {
		t.Errorf("resets_in = %v, want 14h", st.ResetsIn)
	}
	if st.Day != "2026-08-31" {
		t.Errorf("day = %s", st.Day)
	}
}

func TestTerminalPolicyCountsFailures(t *testing.T) {
	_, p, tracker := setup(t, 5, PolicyTerminal)

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	if err := tracker.Record(p.ID, now, true); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Record(p.ID, now, false); err != nil {
		t.Fatal(err)
	}

	st, err := tracker.Status(p.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if st.Remaining != 3 {
		t.Errorf("remaining = %d, want 3 (success and permanent failure both consume)", st.Remaining)
	}
}

func TestSuccessOnlyPolicyIgnoresFailures(t *testing.T) {
	_, p, tracker := setup(t, 5, PolicySuccessOnly)

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	if err := tracker.Record(p.ID, now, true); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Record(p.ID, now, false); err != nil {
		t.Fatal(err)
	}

	st, err := tracker.Status(p.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if st.Remaining != 4 {
		t.Errorf("remaining = %d, want 4 (failures do not consume)", st.Remaining)
	}
}

func TestQuotaMonotonicWithinDay(t *testing.T) {
	_, p, tracker := setup(t, 3, PolicyTerminal)

	now := time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC)
	prev, err := tracker.Status(p.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := tracker.Record(p.ID, now, i%2 == 0); err != nil {
			t.Fatal(err)
		}
		st, err := tracker.Status(p.ID, now)
		if err != nil {
			t.Fatal(err)
		}
		if st.Remaining > prev.Remaining {
			t.Fatalf("remaining increased within the day: %d -> %d", prev.Remaining, st.Remaining)
		}
		prev = st
	}
	if prev.Remaining != 0 {
		t.Errorf("remaining = %d, want clamp at 0", prev.Remaining)
	}
}

func TestQuotaResetsAtLocalMidnight(t *testing.T) {
	_, p, tracker := setup(t, 3, PolicyTerminal)

	day1 := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := tracker.Record(p.ID, day1, true); err != nil {
			t.Fatal(err)
		}
	}
	st, err := tracker.Status(p.ID, day1)
	if err != nil {
		t.Fatal(err)
	}
	if st.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0 before midnight", st.Remaining)
	}

	day2 := day1.Add(2 * time.Hour) // past local midnight
	st, err = tracker.Status(p.ID, day2)
	if err != nil {
		t.Fatal(err)
	}
	if st.Remaining != 3 {
		t.Errorf("remaining = %d, want full limit after reset", st.Remaining)
	}
}

func TestStatusHonorsProfileTimezone(t *testing.T) {
	s, _, _ := setup(t, 10, PolicyTerminal)

	p, err := s.CreateProfile("ktm", 10, "Asia/Kathmandu")
	if err != nil {
		t.Fatal(err)
	}
	tracker := New(s, PolicyTerminal)

	// 19:00 UTC is already past midnight in Kathmandu (UTC+5:45).
	now := time.Date(2026, 8, 31, 19, 0, 0, 0, time.UTC)
	st, err := tracker.Status(p.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if st.Day != "2026-09-01" {
		t.Errorf("local day = %s, want 2026-09-01", st.Day)
	}
}
