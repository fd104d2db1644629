package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

var exportHeader = []string{
	"raw_input",
	"normalized_key",
	"status",
	"attempts",
	"last_error_code",
	"last_error_msg",
	"last_updated_at",
	"last_evidence_path",
}

// ExportCSV writes the profile's recipient table as CSV ordered by
// first_seen_at and returns the number of data rows written.
func (s *Store) ExportCSV(w io.Writer, profileID uint64) (int, error) {
	recipients, err := s.List(profileID, ListFilter{})
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range recipients {
		row := []string{
			r.RawInput,
			r.NormalizedKey,
			string(r.Status),
			fmt.Sprintf("%d", r.Attempts),
			r.LastErrorCode,
			r.LastErrorMsg,
			r.LastUpdatedAt.Format(time.RFC3339),
			r.LastEvidencePath,
		}
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return len(recipients), nil
}
