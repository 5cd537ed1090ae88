package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// namedLock wraps a cross-process file lock under <root>/data/locks, per §6.
// Grounded on the teacher's direct use of github.com/gofrs/flock in
// internal/file_editor/editor.go.
type namedLock struct {
	fl *flock.Flock
}

func newNamedLock(locksDir, backend, collection string) (*namedLock, error) {
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}
	path := filepath.Join(locksDir, fmt.Sprintf("%s_%s.lock", backend, collection))
	return &namedLock{fl: flock.New(path)}, nil
}

// Lock blocks (polling) until acquired or timeout elapses.
func (l *namedLock) Lock(ctx context.Context, timeout time.Duration) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ok, err := l.fl.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("file lock timed out after %s", timeout)
	}
	return func() { _ = l.fl.Unlock() }, nil
}
