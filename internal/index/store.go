// Package index holds the persisted two-tier session index and the
// in-memory details cache.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesm/sessionwatch/internal/parser"
	"github.com/wesm/sessionwatch/internal/pathkey"
	"github.com/wesm/sessionwatch/internal/timeutil"
)

// Version tags the persisted document schema. Documents carrying any
// other tag are purged on load, never migrated.
const Version = "sessionwatch-index/1"

// ErrVersionMismatch is returned by Load when persisted documents
// were written under another schema and have been purged.
var ErrVersionMismatch = errors.New("index version mismatch")

// Signature is the cheap change fingerprint of a session file.
// Equal signatures mean the file is not re-parsed.
type Signature struct {
	MtimeMs int64 `json:"mtimeMs"`
	Size    int64 `json:"size"`
}

// SignatureOf returns the signature of a stat result.
func SignatureOf(fi os.FileInfo) Signature {
	return Signature{MtimeMs: timeutil.Millis(fi.ModTime()), Size: fi.Size()}
}

// FileStat converts the signature to the parser's stat input.
func (s Signature) FileStat() parser.FileStat {
	return parser.FileStat{Size: s.Size, MtimeMs: s.MtimeMs}
}

type summaryEntry struct {
	Sig     Signature      `json:"sig"`
	Summary parser.Summary `json:"summary"`
}

type detailsEntry struct {
	Sig     Signature      `json:"sig"`
	Details parser.Details `json:"details"`
}

type document[E any] struct {
	Version string       `json:"version"`
	Files   map[string]E `json:"files"`
	SavedAt time.Time    `json:"savedAt"`
}

// Store is the single owner of the summary and details tiers. Both
// tiers are keyed by canonical path and always written together.
// In-memory state is authoritative; Flush persists it.
type Store struct {
	backend Backend
	logger  zerolog.Logger
	now     func() time.Time

	// flushMu orders flushes so an older snapshot never lands last.
	flushMu sync.Mutex

	mu        sync.RWMutex
	summaries map[string]summaryEntry
	details   map[string]detailsEntry
	gen       uint64 // bumped on every mutation
	flushed   uint64 // gen at the last successful flush
}

// NewStore returns an empty store persisting through backend.
func NewStore(backend Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend:   backend,
		logger:    logger,
		now:       time.Now,
		summaries: make(map[string]summaryEntry),
		details:   make(map[string]detailsEntry),
	}
}

// Load replaces in-memory state with the persisted documents. When
// either document carries a foreign version both are purged, the
// store is left empty and ErrVersionMismatch is returned. Any other
// error also leaves the store empty; it stays usable either way.
func (s *Store) Load() error {
	sums, sumVer, err := readDocument[summaryEntry](s.backend, SummariesDoc)
	if err != nil {
		return err
	}
	dets, detVer, err := readDocument[detailsEntry](s.backend, DetailsDoc)
	if err != nil {
		return err
	}

	for _, v := range []string{sumVer, detVer} {
		if v != "" && v != Version {
			if err := s.backend.Remove(SummariesDoc, DetailsDoc); err != nil {
				s.logger.Warn().Err(err).Msg("purging stale index")
			}
			return fmt.Errorf("%w: found %q, want %q", ErrVersionMismatch, v, Version)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = sums
	s.details = dets
	// Summaries without a details twin are re-parsed on next diff.
	for k := range s.summaries {
		if _, ok := s.details[k]; !ok {
			delete(s.summaries, k)
		}
	}
	for k := range s.details {
		if _, ok := s.summaries[k]; !ok {
			delete(s.details, k)
		}
	}
	return nil
}

func readDocument[E any](
	b Backend, name string,
) (map[string]E, string, error) {
	files := make(map[string]E)
	raw, err := b.Read(name)
	if errors.Is(err, ErrNotFound) {
		return files, "", nil
	}
	if err != nil {
		return files, "", err
	}
	var doc document[E]
	if err := json.Unmarshal(raw.Body, &doc); err != nil {
		return files, "", fmt.Errorf("decoding %s: %w", name, err)
	}
	if doc.Version != Version {
		return files, doc.Version, nil
	}
	if doc.Files != nil {
		files = doc.Files
	}
	return files, doc.Version, nil
}

// Diff reports whether path needs a parse: it is unknown or its
// stored signature differs from sig.
func (s *Store) Diff(path string, sig Signature) bool {
	key := pathkey.Canonical(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.summaries[key]
	return !ok || e.Sig != sig
}

// Signature returns the stored signature of path.
func (s *Store) Signature(path string) (Signature, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.summaries[pathkey.Canonical(path)]
	return e.Sig, ok
}

// Put records a parse result under d.Path. Message bodies are
// stripped before the details tier is written. added reports
// whether the path was previously unknown.
func (s *Store) Put(sig Signature, d parser.Details) (added bool) {
	key := pathkey.Canonical(d.Path)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.summaries[key]
	s.summaries[key] = summaryEntry{Sig: sig, Summary: d.Summary}
	s.details[key] = detailsEntry{Sig: sig, Details: d.StripBodies()}
	s.gen++
	return !existed
}

// Remove drops path from both tiers and returns its last summary.
func (s *Store) Remove(path string) (parser.Summary, bool) {
	key := pathkey.Canonical(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.summaries[key]
	if !ok {
		return parser.Summary{}, false
	}
	delete(s.summaries, key)
	delete(s.details, key)
	s.gen++
	return e.Summary, true
}

// Summary returns the stored summary of path.
func (s *Store) Summary(path string) (parser.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.summaries[pathkey.Canonical(path)]
	return e.Summary, ok
}

// Details returns the stored, body-stripped details of path.
func (s *Store) Details(path string) (parser.Details, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.details[pathkey.Canonical(path)]
	return e.Details, ok
}

// Summaries returns every summary, newest first.
func (s *Store) Summaries() []parser.Summary {
	s.mu.RLock()
	out := make([]parser.Summary, 0, len(s.summaries))
	for _, e := range s.summaries {
		out = append(out, e.Summary)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Paths returns the file path of every indexed session.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.summaries))
	for _, e := range s.summaries {
		out = append(out, e.Summary.Path)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of indexed sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.summaries)
}

// Dirty reports whether there are mutations not yet flushed.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen != s.flushed
}

// Flush rewrites both documents when anything changed since the
// last successful flush. On failure the error is logged and
// returned; in-memory state is kept and the next Flush retries.
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	docs, gen, err := s.encode()
	if err == nil && docs != nil {
		err = s.backend.Write(docs...)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("flushing index")
		return fmt.Errorf("flushing index: %w", err)
	}
	if docs == nil {
		return nil
	}

	s.mu.Lock()
	if gen > s.flushed {
		s.flushed = gen
	}
	s.mu.Unlock()
	return nil
}

// encode snapshots both tiers. docs is nil when nothing changed.
func (s *Store) encode() ([]Document, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gen == s.flushed {
		return nil, s.gen, nil
	}
	savedAt := s.now().UTC()
	sumBody, err := json.Marshal(document[summaryEntry]{
		Version: Version, Files: s.summaries, SavedAt: savedAt,
	})
	if err != nil {
		return nil, 0, err
	}
	detBody, err := json.Marshal(document[detailsEntry]{
		Version: Version, Files: s.details, SavedAt: savedAt,
	})
	if err != nil {
		return nil, 0, err
	}
	return []Document{
		{Name: SummariesDoc, Version: Version, Body: sumBody, SavedAt: savedAt},
		{Name: DetailsDoc, Version: Version, Body: detBody, SavedAt: savedAt},
	}, s.gen, nil
}
