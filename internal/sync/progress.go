package sync

import (
	gosync "sync"
	"time"

	"github.com/wesm/sessionwatch/internal/parser"
)

// Phase describes the current sync phase.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDiscovering Phase = "discovering"
	PhaseSyncing     Phase = "syncing"
	PhaseDone        Phase = "done"
)

// Progress reports full-scan progress to listeners.
type Progress struct {
	Phase      Phase           `json:"phase"`
	Provider   parser.Provider `json:"provider,omitempty"`
	FilesTotal int             `json:"files_total"`
	FilesDone  int             `json:"files_done"`
}

// Percent returns the scan progress as a percentage (0–100).
func (p Progress) Percent() float64 {
	if p.FilesTotal == 0 {
		return 0
	}
	return float64(p.FilesDone) /
		float64(p.FilesTotal) * 100
}

// ProgressFunc is called with progress updates during a full scan.
type ProgressFunc func(Progress)

// outcome is the result of one reconcile of one file.
type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeUnchanged
	outcomeAdded
	outcomeUpdated
	outcomeRemoved
	outcomeFailed
)

// SyncStats summarizes a scan or a batch of reconciles.
//
// Parsed counts files that were re-read; it is Added plus Updated
// plus reparses that left the summary as it was. Failed counts I/O
// failures, which leave the index entry untouched. Skipped counts
// paths that matched no provider or were already being reconciled.
type SyncStats struct {
	Discovered int           `json:"discovered"`
	Parsed     int           `json:"parsed"`
	Added      int           `json:"added"`
	Updated    int           `json:"updated"`
	Unchanged  int           `json:"unchanged"`
	Removed    int           `json:"removed"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// RecordSkip increments the skipped counter.
func (s *SyncStats) RecordSkip() {
	s.Skipped++
}

// RecordFailed increments the I/O failure counter.
func (s *SyncStats) RecordFailed() {
	s.Failed++
}

func (s *SyncStats) record(o outcome, parsed bool) {
	if parsed {
		s.Parsed++
	}
	switch o {
	case outcomeUnchanged:
		s.Unchanged++
	case outcomeAdded:
		s.Added++
	case outcomeUpdated:
		s.Updated++
	case outcomeRemoved:
		s.Removed++
	case outcomeFailed:
		s.RecordFailed()
	default:
		s.RecordSkip()
	}
}

// Changed reports whether the pass touched the index.
func (s SyncStats) Changed() bool {
	return s.Added+s.Updated+s.Removed > 0
}

// passStats is SyncStats shared by the workers of one pass.
type passStats struct {
	mu gosync.Mutex
	s  SyncStats
}

func (p *passStats) record(r result) {
	p.mu.Lock()
	p.s.record(r.outcome, r.parsed)
	p.mu.Unlock()
}

func (p *passStats) warn(msg string) {
	p.mu.Lock()
	p.s.Warnings = append(p.s.Warnings, msg)
	p.mu.Unlock()
}

func (p *passStats) snapshot() SyncStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.s
}
