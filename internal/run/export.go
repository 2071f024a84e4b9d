package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docketwatch/docketwatch/internal/docket"
)

// exportedRecord is the JSON shape written for downstream consumers.
type exportedRecord struct {
	Court        string `json:"court"`
	DocketNumber string `json:"docket_number"`
	Defendant    string `json:"defendant"`
	CaseName     string `json:"case_name"`
	NatureOfSuit string `json:"nature_of_suit"`
	Cause        string `json:"cause"`
	Complaint    string `json:"complaint"`
	DateHit      string `json:"date_hit"`
	DateFiled    string `json:"date_filed"`
}

// exportRecords writes the run's filtered records to
// filtered_results_<date>.json in dir. The write goes through a temp file
// and rename so readers never observe a partial export.
func exportRecords(dir string, day time.Time, records []docket.CaseRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	out := make([]exportedRecord, 0, len(records))
	for _, r := range records {
		out = append(out, exportedRecord{
			Court:        r.Court,
			DocketNumber: r.DocketNumber,
			Defendant:    r.Defendant,
			CaseName:     r.CaseName,
			NatureOfSuit: r.NatureOfSuit,
			Cause:        r.Cause,
			Complaint:    r.Complaint,
			DateHit:      r.DateHit,
			DateFiled:    r.DateFiled,
		})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("filtered_results_%s.json", day.Format("2006-01-02")))
	tmp, err := os.CreateTemp(dir, ".export-*.json")
	if err != nil {
		return "", fmt.Errorf("create export temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close export: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("finalize export: %w", err)
	}
	return path, nil
}
