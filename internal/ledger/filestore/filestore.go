// Package filestore keeps each ledger collection as a JSONL file under a
// root directory. Every append is one line followed by fsync, so a crash
// leaves at most one torn trailing line, which readers skip.
package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/davidahmann/steward/internal/ledger"
	"github.com/davidahmann/steward/pkg/types"
)

const maxLine = 1 << 20

type Store struct {
	dir string

	mu      sync.Mutex
	lastSeq int64
	primed  bool
}

func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("filestore: empty directory")
	}
	for _, sub := range []string{"audit", "outbox"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, err
		}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(collection string) string {
	return filepath.Join(s.dir, filepath.FromSlash(collection)+".jsonl")
}

func (s *Store) AppendOverride(_ context.Context, rec types.OverrideRecord) error {
	if rec.OverrideID == "" {
		return ledger.ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLine(ledger.CollectionOverrides, rec)
}

func (s *Store) ListOverrides(_ context.Context) ([]types.OverrideRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readAll[types.OverrideRecord](s.path(ledger.CollectionOverrides))
}

func (s *Store) FindOverrides(ctx context.Context, actionID, category string) ([]types.OverrideRecord, error) {
	all, err := s.ListOverrides(ctx)
	if err != nil {
		return nil, err
	}
	out := []types.OverrideRecord{}
	for _, rec := range all {
		if rec.ActionID == actionID && rec.Category == category {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) AppendFlag(_ context.Context, flag types.FlaggedAction) error {
	if flag.FlagID == "" {
		return ledger.ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	flags, err := readAll[types.FlaggedAction](s.path(ledger.CollectionFlags))
	if err != nil {
		return err
	}
	for _, existing := range flags {
		if existing.FlagID == flag.FlagID {
			return ledger.ErrDuplicateID
		}
	}
	flag.Resolved = false
	return s.appendLine(ledger.CollectionFlags, flag)
}

func (s *Store) ListFlags(_ context.Context) ([]types.FlaggedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readAll[types.FlaggedAction](s.path(ledger.CollectionFlags))
}

func (s *Store) AppendResolution(_ context.Context, res types.FlagResolution) error {
	if res.FlagID == "" {
		return ledger.ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := readAll[types.FlagResolution](s.path(ledger.CollectionResolutions))
	if err != nil {
		return err
	}
	for _, prior := range existing {
		if prior.FlagID == res.FlagID {
			return fmt.Errorf("%w: %s", ledger.ErrAlreadyResolved, res.FlagID)
		}
	}
	return s.appendLine(ledger.CollectionResolutions, res)
}

func (s *Store) ListResolutions(_ context.Context) ([]types.FlagResolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readAll[types.FlagResolution](s.path(ledger.CollectionResolutions))
}

func (s *Store) AppendVote(_ context.Context, vote types.CouncilVote) error {
	if vote.VoteID == "" {
		return ledger.ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLine(ledger.CollectionVotes, vote)
}

func (s *Store) ListVotes(_ context.Context, version string) ([]types.CouncilVote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := readAll[types.CouncilVote](s.path(ledger.CollectionVotes))
	if err != nil {
		return nil, err
	}
	out := []types.CouncilVote{}
	for _, vote := range all {
		if vote.Version == version {
			out = append(out, vote)
		}
	}
	return out, nil
}

func (s *Store) AppendAuditEvent(_ context.Context, ev types.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.primeSeq(); err != nil {
		return err
	}
	if ev.Seq != s.lastSeq+1 {
		return fmt.Errorf("%w: seq %d after %d", ledger.ErrSeqConflict, ev.Seq, s.lastSeq)
	}
	if err := s.appendLine(ledger.CollectionAuditEvents, ev); err != nil {
		return err
	}
	s.lastSeq = ev.Seq
	return nil
}

func (s *Store) primeSeq() error {
	if s.primed {
		return nil
	}
	events, err := readAll[types.AuditEvent](s.path(ledger.CollectionAuditEvents))
	if err != nil {
		return err
	}
	if n := len(events); n > 0 {
		s.lastSeq = events[n-1].Seq
	}
	s.primed = true
	return nil
}

func (s *Store) ListAuditEvents(_ context.Context, filter ledger.AuditFilter) ([]types.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := readAll[types.AuditEvent](s.path(ledger.CollectionAuditEvents))
	if err != nil {
		return nil, err
	}
	out := []types.AuditEvent{}
	for _, ev := range all {
		if !filter.Match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) LastAuditEvent(_ context.Context) (types.AuditEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := readAll[types.AuditEvent](s.path(ledger.CollectionAuditEvents))
	if err != nil {
		return types.AuditEvent{}, false, err
	}
	if len(all) == 0 {
		return types.AuditEvent{}, false, nil
	}
	return all[len(all)-1], true, nil
}

func (s *Store) PutEscalation(_ context.Context, rec ledger.EscalationRecord) error {
	if rec.EscalationID == "" {
		return ledger.ErrMissingID
	}
	if !json.Valid(rec.PayloadJSON) {
		return ledger.ErrInvalidPayload
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLine(ledger.CollectionEscalations, rec)
}

func (s *Store) GetEscalation(_ context.Context, escalationID string) (ledger.EscalationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest, err := s.escalations()
	if err != nil {
		return ledger.EscalationRecord{}, false, err
	}
	rec, ok := latest[escalationID]
	return rec, ok, nil
}

func (s *Store) ListEscalationsDue(_ context.Context, now time.Time, limit int) ([]ledger.EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest, err := s.escalations()
	if err != nil {
		return nil, err
	}
	out := []ledger.EscalationRecord{}
	for _, rec := range latest {
		if rec.Due(now) {
			out = append(out, rec)
		}
	}
	ledger.SortEscalations(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// escalations folds the outbox log, later lines replacing earlier ones.
func (s *Store) escalations() (map[string]ledger.EscalationRecord, error) {
	all, err := readAll[ledger.EscalationRecord](s.path(ledger.CollectionEscalations))
	if err != nil {
		return nil, err
	}
	latest := make(map[string]ledger.EscalationRecord, len(all))
	for _, rec := range all {
		latest[rec.EscalationID] = rec
	}
	return latest, nil
}

// appendLine writes v as one JSON line and syncs. Callers hold s.mu.
func (s *Store) appendLine(collection string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.path(collection), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := repairTail(f); err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return err
	}
	return f.Sync()
}

// repairTail makes sure the next record starts on its own line. A final
// line that decodes as JSON is a complete record readers already see, so it
// only gets its newline; anything else is a torn write and is truncated.
func repairTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	start := bytes.LastIndexByte(data, '\n') + 1
	if tail := bytes.TrimSpace(data[start:]); len(tail) == 0 || (tail[0] == '{' && json.Valid(tail)) {
		_, err := f.Write([]byte{'\n'})
		return err
	}
	return f.Truncate(int64(start))
}

// readAll decodes every line of a collection. An undecodable final line is a
// torn write and is skipped; undecodable lines elsewhere are corruption.
func readAll[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	out := []T{}
	var pending error
	lineNo := 0
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > maxLine {
			return nil, fmt.Errorf("%s:%d: line exceeds %d bytes", path, lineNo+1, maxLine)
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			lineNo++
			if pending != nil {
				return nil, pending
			}
			var v T
			if err := json.Unmarshal(trimmed, &v); err != nil {
				pending = fmt.Errorf("%s:%d: %w", path, lineNo, err)
			} else {
				out = append(out, v)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}
	return out, nil
}
