package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// Store owns the RepositoryState of one run and persists every mutation.
type Store struct {
	bucket *blob.Bucket
	key    string
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	state *RepositoryState
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for recovery diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenDir opens a bucket rooted at dir, creating the directory if needed.
// Writes go to a temporary file in dir and are renamed into place on close.
func OpenDir(dir string) (*blob.Bucket, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("state: create dir: %w", err)
	}
	b, err := fileblob.OpenBucket(dir, &fileblob.Options{
		CreateDir: true,
		NoTempDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("state: open bucket %s: %w", dir, err)
	}
	return b, nil
}

// Load reads the state stored under key. A missing or corrupt record yields
// an empty state; only storage failures are returned as errors.
func Load(ctx context.Context, bucket *blob.Bucket, key string) (*RepositoryState, error) {
	s, err := load(ctx, bucket, key)
	if errors.Is(err, ErrCorrupt) {
		return Empty(), nil
	}
	return s, err
}

func load(ctx context.Context, bucket *blob.Bucket, key string) (*RepositoryState, error) {
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		if isNotExist(err) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("state: read %s: %w", key, err)
	}
	return Decode(data)
}

// Save overwrites the record stored under key.
func Save(ctx context.Context, bucket *blob.Bucket, key string, s *RepositoryState) error {
	data, err := Encode(s)
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	if err := bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("state: write %s: %w", key, err)
	}
	return nil
}

// Delete removes the record stored under key. Deleting a missing record is not an error.
func Delete(ctx context.Context, bucket *blob.Bucket, key string) error {
	if err := bucket.Delete(ctx, key); err != nil && !isNotExist(err) {
		return fmt.Errorf("state: delete %s: %w", key, err)
	}
	return nil
}

// Open loads the state stored under key into a new Store.
func Open(ctx context.Context, bucket *blob.Bucket, key string, opts ...Option) (*Store, error) {
	st := &Store{
		bucket: bucket,
		key:    key,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(st)
	}

	s, err := load(ctx, bucket, key)
	if errors.Is(err, ErrCorrupt) {
		st.logger.Warn("discarding corrupt state", zap.String("key", key), zap.Error(err))
		s, err = Empty(), nil
	}
	if err != nil {
		return nil, err
	}
	st.state = s
	return st, nil
}

// Key returns the object key of the state record.
func (st *Store) Key() string {
	return st.key
}

// Reconcile binds the store to repoID at revision. When the loaded state
// belongs to another identity it is replaced by an empty one and persisted
// immediately. It reports whether a reset happened.
func (st *Store) Reconcile(ctx context.Context, repoID, revision string) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	next := Reconcile(st.state, repoID, revision)
	if next == st.state {
		return false, nil
	}
	if err := Save(ctx, st.bucket, st.key, next); err != nil {
		return false, err
	}
	st.logger.Info("state reset",
		zap.String("previous_repo", st.state.Repo),
		zap.String("previous_revision", st.state.Revision),
		zap.String("repo", repoID),
		zap.String("revision", revision),
		zap.Int("discarded", len(st.state.Files)),
	)
	st.state = next
	return true, nil
}

// Lookup returns the record for path.
func (st *Store) Lookup(path string) (FileRecord, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	r, ok := st.state.Files[path]
	return r, ok
}

// Update records a verified file and persists the state before returning.
func (st *Store) Update(ctx context.Context, path string, size int64, md5 string) (FileRecord, error) {
	rec := FileRecord{
		Size:      size,
		MD5:       md5,
		Timestamp: st.now().Unix(),
	}
	return rec, st.Put(ctx, path, rec)
}

// Put stores rec for path and persists the state before returning. The
// in-memory state is left unchanged when persistence fails.
func (st *Store) Put(ctx context.Context, path string, rec FileRecord) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	prev, had := st.state.Files[path]
	st.state.Files[path] = rec
	if err := Save(ctx, st.bucket, st.key, st.state); err != nil {
		if had {
			st.state.Files[path] = prev
		} else {
			delete(st.state.Files, path)
		}
		return err
	}
	return nil
}

// Remove deletes the record for path and persists the state.
func (st *Store) Remove(ctx context.Context, path string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	prev, had := st.state.Files[path]
	if !had {
		return nil
	}
	delete(st.state.Files, path)
	if err := Save(ctx, st.bucket, st.key, st.state); err != nil {
		st.state.Files[path] = prev
		return err
	}
	return nil
}

// Snapshot returns a deep copy of the current state.
func (st *Store) Snapshot() *RepositoryState {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.Clone()
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
