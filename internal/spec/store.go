package spec

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/protocol"
)

// DefaultLockTimeout bounds how long a writer waits for the spec lock.
const DefaultLockTimeout = 5 * time.Second

const lockRetryDelay = 50 * time.Millisecond

// Store mediates every access to the committed spec file. Writers take
// an exclusive cross-process lock on the sentinel file and replace the
// spec atomically; readers are lockless and tolerate a concurrent
// writer's rename with a single retry.
type Store struct {
	specPath    string
	lockPath    string
	lockTimeout time.Duration
	clk         clock.Clock
}

// StoreOption adjusts store construction.
type StoreOption func(*Store)

// WithLockTimeout overrides the default spec lock timeout.
func WithLockTimeout(d time.Duration) StoreOption {
	return func(st *Store) {
		if d > 0 {
			st.lockTimeout = d
		}
	}
}

// NewStore builds a store over the given repository root.
func NewStore(root paths.Root, clk clock.Clock, opts ...StoreOption) *Store {
	st := &Store{
		specPath:    root.SpecPath(),
		lockPath:    root.LockPath(),
		lockTimeout: DefaultLockTimeout,
		clk:         clk,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Path returns the spec file location.
func (st *Store) Path() string { return st.specPath }

// Load reads and validates the spec without taking the lock. A failed
// read is retried once: the only expected transient failure is racing
// a writer's rename.
func (st *Store) Load() (*Spec, error) {
	data, err := os.ReadFile(st.specPath)
	if err != nil {
		data, err = os.ReadFile(st.specPath)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, protocol.NewError(protocol.CodeNotInitialized,
				"spec file %s does not exist", st.specPath)
		}
		return nil, fmt.Errorf("reading spec: %w", err)
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Mutate applies fn to a freshly-read spec under the exclusive lock,
// validates the result, and atomically replaces the file. On any error
// the file is untouched. The mutated spec is returned for the caller
// to build its response from without a second read.
func (st *Store) Mutate(ctx context.Context, fn func(*Spec) error) (*Spec, error) {
	unlock, err := st.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock: another process may have written since
	// any earlier read the caller did.
	s, err := st.Load()
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	if err := st.writeAtomic(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Init writes a brand-new spec. It fails if the file already exists
// unless force is set. Used only by repository initialization.
func (st *Store) Init(ctx context.Context, s *Spec, force bool) error {
	unlock, err := st.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if !force {
		if _, err := os.Stat(st.specPath); err == nil {
			return protocol.Invalid("spec", fmt.Sprintf("%s already exists (use force to overwrite)", st.specPath))
		}
	}
	if err := Validate(s); err != nil {
		return err
	}
	return st.writeAtomic(s)
}

func (st *Store) acquireLock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(st.lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating anchor directory: %w", err)
	}
	fl := flock.New(st.lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, st.lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !locked {
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("locking spec: %w", err)
		}
		return nil, protocol.NewError(protocol.CodeLockTimeout,
			"could not acquire spec lock within %s (held by another process?)", st.lockTimeout)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			// Nothing actionable; the lock dies with the fd anyway.
			_ = err
		}
	}, nil
}

// writeAtomic serializes s and replaces the spec file via a temp file
// and rename on the same filesystem, so readers only ever observe a
// complete document.
func (st *Store) writeAtomic(s *Spec) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	dir := filepath.Dir(st.specPath)
	tmp, err := os.CreateTemp(dir, ".spec-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("creating temp spec: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp spec: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp spec: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp spec: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting spec permissions: %w", err)
	}
	if err := os.Rename(tmpName, st.specPath); err != nil {
		return fmt.Errorf("replacing spec: %w", err)
	}
	return nil
}

// Touch marks a task updated at the store clock's current time.
func (st *Store) Touch(t *Task) {
	t.UpdatedAt = clock.Format(st.clk.Now())
}

// Now exposes the store clock for callers composing timestamps.
func (st *Store) Now() time.Time { return st.clk.Now() }
