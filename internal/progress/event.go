// Package progress defines the milestone events emitted during extraction
// and retrieval runs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages. Run-scoped stages frame the whole invocation;
// job-scoped stages track individual retrieval attempts.
const (
	StageRunStart    Stage = "RUN_START"
	StageStateLoaded Stage = "STATE_LOADED"
	StageLoginDone   Stage = "LOGIN_DONE"
	StageClientSet   Stage = "CLIENT_SET"
	StageJobStart    Stage = "JOB_START"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
	StageRunDone     Stage = "RUN_DONE"
)

// Event captures a single milestone of run progress.
type Event struct {
	// RunID uniquely identifies one engine invocation in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// JobID scopes job events to one tracker record.
	JobID string
	// Docket carries the docket number for job events.
	Docket string
	// Bytes is the captured artifact size for completed jobs.
	Bytes int64
	// Dur captures wall time for job and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageStateLoaded, StageLoginDone, StageClientSet, StageRunDone:
	case StageJobStart, StageJobDone:
		if e.JobID == "" {
			return errors.New("job events require a job id")
		}
	case StageJobError:
		if e.JobID == "" {
			return errors.New("job events require a job id")
		}
		if e.Note == "" {
			return errors.New("job error requires error text")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
