// Package store implements the flat-directory persistence for acpx
// session records (spec.md §4.1). Writes are write-to-temp + atomic
// rename, grounded on the pattern used by arkeep-io-arkeep's connection
// manager (os.CreateTemp in the target directory followed by os.Rename).
package store

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acpxdev/acpx/internal/errs"
	"github.com/acpxdev/acpx/internal/model"
)

// Store manages session record files under a root directory, normally
// "~/.acpx/sessions".
type Store struct {
	Root string
}

// New creates a Store rooted at dir. The directory is created on demand
// by WriteSessionRecord, not here.
func New(dir string) *Store {
	return &Store{Root: dir}
}

func (s *Store) pathFor(recordID string) string {
	return filepath.Join(s.Root, url.QueryEscape(recordID)+".json")
}

// SegmentDir returns the per-session directory holding NDJSON segments.
func (s *Store) SegmentDir(recordID string) string {
	return filepath.Join(s.Root, url.QueryEscape(recordID))
}

// NewRecordID mints a fresh, stable acpxRecordId.
func NewRecordID() string {
	return uuid.NewString()
}

// WriteSessionRecord persists rec via write-to-temp + atomic rename, so a
// reader never observes a partially-written file (invariant 1, spec.md §8).
func (s *Store) WriteSessionRecord(rec *model.SessionRecord) error {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return fmt.Errorf("mkdir session store: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	dest := s.pathFor(rec.AcpxRecordID)
	tmp := fmt.Sprintf("%s.%d.%d.tmp", dest, os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp session record: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename session record into place: %w", err)
	}
	return nil
}

// ReadSessionRecord loads the record file at the well-known path for id,
// tolerating nothing: malformed files are a hard error here (list/find
// callers parse tolerantly and discard malformed entries instead).
func (s *Store) ReadSessionRecord(recordID string) (*model.SessionRecord, error) {
	data, err := os.ReadFile(s.pathFor(recordID))
	if err != nil {
		return nil, err
	}
	var rec model.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse session record %s: %w", recordID, err)
	}
	return &rec, nil
}

// DeleteSessionRecord removes a session's record file and segment dir.
func (s *Store) DeleteSessionRecord(recordID string) error {
	_ = os.RemoveAll(s.SegmentDir(recordID))
	err := os.Remove(s.pathFor(recordID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ListSessions scans the store directory, parsing tolerantly: malformed
// files are skipped rather than surfaced as errors.
func (s *Store) ListSessions() ([]*model.SessionRecord, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*model.SessionRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.Root, e.Name()))
		if err != nil {
			continue
		}
		var rec model.SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListSessionsForAgent filters ListSessions by exact agentCommand match.
func (s *Store) ListSessionsForAgent(agentCommand string) ([]*model.SessionRecord, error) {
	all, err := s.ListSessions()
	if err != nil {
		return nil, err
	}
	var out []*model.SessionRecord
	for _, r := range all {
		if r.AgentCommand == agentCommand {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindSession returns the record exactly matching (agentCommand,
// normalizedCwd, name), honoring includeClosed.
func (s *Store) FindSession(key model.Key, includeClosed bool) (*model.SessionRecord, error) {
	key.Cwd = NormalizeCwd(key.Cwd)
	all, err := s.ListSessions()
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.Closed && !includeClosed {
			continue
		}
		if r.MatchesKey(key) {
			return r, nil
		}
	}
	return nil, nil
}

// NormalizeCwd resolves symlinks/`.`/`..` so two different spellings of
// the same directory compare equal for dedup purposes.
func NormalizeCwd(cwd string) string {
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return cwd
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// ResolveSessionRecord accepts an exact acpxRecordId or acpSessionId, and
// falls back to a suffix match over both when no exact match is found. An
// ambiguous suffix match is a hard error.
func (s *Store) ResolveSessionRecord(id string) (*model.SessionRecord, error) {
	if rec, err := s.ReadSessionRecord(id); err == nil {
		return rec, nil
	}

	all, err := s.ListSessions()
	if err != nil {
		return nil, err
	}

	for _, r := range all {
		if r.AcpSessionID == id || r.AcpxRecordID == id {
			return r, nil
		}
	}

	var matches []*model.SessionRecord
	for _, r := range all {
		if strings.HasSuffix(r.AcpxRecordID, id) || strings.HasSuffix(r.AcpSessionID, id) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, errs.Newf(errs.CodeNoSession, errs.OriginRuntime, "no session matching %q", id)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.AcpxRecordID
		}
		return nil, errs.Newf(errs.CodeUsage, errs.OriginRuntime, "ambiguous session suffix %q matches %s", id, strings.Join(ids, ", ")).WithDetail("SessionAmbiguous")
	}
}

// RepoRoot walks parents of dir looking for a .git file or directory,
// returning "" if none is found. Used only as a directory-walk boundary,
// never required.
func RepoRoot(dir string) string {
	cur := dir
	for {
		if _, err := os.Stat(filepath.Join(cur, ".git")); err == nil {
			return cur
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return ""
		}
		cur = parent
	}
}

// FindSessionByDirectoryWalk walks upward from cwd (inclusive) to boundary
// (inclusive, typically a repository root), returning the nearest matching
// session. Closed sessions are skipped unless includeClosed is set.
func FindSessionByDirectoryWalk(s *Store, agentCommand, cwd, name, boundary string, includeClosed bool) (*model.SessionRecord, error) {
	cur := NormalizeCwd(cwd)
	boundary = NormalizeCwd(boundary)

	for {
		rec, err := s.FindSession(model.Key{AgentCommand: agentCommand, Cwd: cur, Name: name}, includeClosed)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
		if cur == boundary {
			return nil, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, nil
		}
		cur = parent
	}
}

