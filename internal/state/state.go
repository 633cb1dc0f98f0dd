package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCorrupt indicates the persisted state could not be decoded or failed
// schema validation. Callers recover by starting from an empty state.
var ErrCorrupt = errors.New("state: corrupt state record")

// FileRecord is persisted proof that a path was fetched and verified.
type FileRecord struct {
	Size      int64  `json:"size"`
	MD5       string `json:"md5"`
	Timestamp int64  `json:"timestamp"`
}

// CompletedAt returns the completion time of the record.
func (r FileRecord) CompletedAt() time.Time {
	return time.Unix(r.Timestamp, 0)
}

// RepositoryState is the persisted record for one repository.
// Repo is empty when no identity has been bound yet.
type RepositoryState struct {
	Repo     string                `json:"repo"`
	Revision string                `json:"revision"`
	Files    map[string]FileRecord `json:"files"`
}

// Empty returns a state bound to no repository.
func Empty() *RepositoryState {
	return &RepositoryState{Files: make(map[string]FileRecord)}
}

// New returns an empty state bound to repoID and revision.
func New(repoID, revision string) *RepositoryState {
	return &RepositoryState{
		Repo:     repoID,
		Revision: revision,
		Files:    make(map[string]FileRecord),
	}
}

// Matches reports whether the state is bound to repoID at revision.
func (s *RepositoryState) Matches(repoID, revision string) bool {
	return s != nil && s.Repo == repoID && s.Revision == revision
}

// Clone returns a deep copy of s.
func (s *RepositoryState) Clone() *RepositoryState {
	c := &RepositoryState{
		Repo:     s.Repo,
		Revision: s.Revision,
		Files:    make(map[string]FileRecord, len(s.Files)),
	}
	for k, v := range s.Files {
		c.Files[k] = v
	}
	return c
}

// TotalSize sums the sizes of all records.
func (s *RepositoryState) TotalSize() int64 {
	var total int64
	for _, r := range s.Files {
		total += r.Size
	}
	return total
}

// LastCompleted returns the most recent record timestamp, or the zero time.
func (s *RepositoryState) LastCompleted() time.Time {
	var latest int64
	for _, r := range s.Files {
		if r.Timestamp > latest {
			latest = r.Timestamp
		}
	}
	if latest == 0 {
		return time.Time{}
	}
	return time.Unix(latest, 0)
}

// Reconcile returns s unchanged if it is bound to repoID at revision.
// Otherwise it returns a fresh empty state bound to the new identity, so
// records from another repository or branch are never reused.
func Reconcile(s *RepositoryState, repoID, revision string) *RepositoryState {
	if s.Matches(repoID, revision) {
		return s
	}
	return New(repoID, revision)
}

// Decode parses and validates a persisted state record.
// Any failure wraps ErrCorrupt.
func Decode(data []byte) (*RepositoryState, error) {
	var s RepositoryState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if s.Files == nil {
		s.Files = make(map[string]FileRecord)
	}
	return &s, nil
}

// Encode renders the state as indented JSON.
func Encode(s *RepositoryState) ([]byte, error) {
	files := s.Files
	if files == nil {
		files = map[string]FileRecord{}
	}
	return json.MarshalIndent(RepositoryState{
		Repo:     s.Repo,
		Revision: s.Revision,
		Files:    files,
	}, "", "  ")
}

func (s *RepositoryState) validate() error {
	if s.Repo == "" && len(s.Files) > 0 {
		return errors.New("records present without repository identity")
	}
	for path, r := range s.Files {
		if path == "" {
			return errors.New("record with empty path")
		}
		if r.Size < 0 {
			return fmt.Errorf("record %q: negative size %d", path, r.Size)
		}
		if !isHexDigest(r.MD5) {
			return fmt.Errorf("record %q: invalid md5 %q", path, r.MD5)
		}
	}
	return nil
}

func isHexDigest(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range strings.ToLower(s) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// StateKey returns the object key of the state record for repoID.
func StateKey(repoID string) string {
	return strings.ReplaceAll(repoID, "/", "_") + "_download_state.json"
}
