// Package workspace owns the scratch directories used while jobs run. A Root
// is created per process; each job gets its own Workspace under it, which the
// job alone may touch and which is removed when the job ends.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// DirName is the directory created under the temp dir for all sessions.
const DirName = "mediaconv"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Root is one session directory, <temp>/mediaconv/<session-id>.
type Root struct {
	fs  afero.Fs
	dir string

	mu     sync.Mutex
	open   map[string]*Workspace
	closed bool
}

// NewRoot creates a session directory under tempDir (the OS temp dir when
// empty) on the real filesystem.
func NewRoot(tempDir string) (*Root, error) {
	return NewRootFs(afero.NewOsFs(), tempDir)
}

// NewRootFs is NewRoot over an arbitrary filesystem.
func NewRootFs(fs afero.Fs, tempDir string) (*Root, error) {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	dir := filepath.Join(tempDir, DirName, uuid.NewString())
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Root{fs: fs, dir: dir, open: make(map[string]*Workspace)}, nil
}

// Dir returns the session directory.
func (r *Root) Dir() string {
	return r.dir
}

// Create makes a fresh private directory for jobID.
func (r *Root) Create(jobID string) (*Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("workspace root is closed")
	}

	name := "job_" + unsafeChars.ReplaceAllString(jobID, "_") + "_" + uuid.NewString()[:8]
	dir := filepath.Join(r.dir, name)
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}

	ws := &Workspace{root: r, fs: r.fs, Dir: dir, JobID: jobID}
	r.open[dir] = ws
	return ws, nil
}

// Active returns how many workspaces are currently held.
func (r *Root) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// Size returns the total bytes of regular files in the session.
func (r *Root) Size() (int64, error) {
	var total int64
	err := afero.Walk(r.fs, r.dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Close removes the whole session directory, including any workspace still
// open. Further Create calls fail.
func (r *Root) Close() error {
	r.mu.Lock()
	r.closed = true
	r.open = make(map[string]*Workspace)
	r.mu.Unlock()

	if err := r.fs.RemoveAll(r.dir); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

func (r *Root) release(dir string) {
	r.mu.Lock()
	delete(r.open, dir)
	r.mu.Unlock()
}

// Workspace is the scratch directory of a single job.
type Workspace struct {
	root *Root
	fs   afero.Fs
	once sync.Once

	Dir   string
	JobID string
}

// Remove deletes the workspace. It is safe to call more than once.
func (w *Workspace) Remove() error {
	var err error
	w.once.Do(func() {
		err = w.fs.RemoveAll(w.Dir)
		if w.root != nil {
			w.root.release(w.Dir)
		}
	})
	if err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}
