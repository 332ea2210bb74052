// Package workspace turns a filesystem path into a validated,
// exclusively-locked on-disk layout for a fricon workspace. The
// exclusive lock is provided by github.com/dolthub/fslock.
package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dolthub/fslock"
	"github.com/google/uuid"

	"github.com/fricon-project/fricon/internal/ferrors"
)

// CurrentVersion is the workspace metadata version this binary writes
// and the only version it will open without error.
const CurrentVersion = "0.1.0"

const (
	metadataFileName = ".fricon_workspace.json"
	lockFileName     = ".fricon.lock"
	dataDirName      = "data"
	logDirName       = "log"
	backupDirName    = "backup"
	databaseFileName = "fricon.sqlite3"
)

type metadata struct {
	Version string `json:"version"`
}

// Paths computes the well-known sub-paths of a workspace root without
// requiring the workspace to be open or even exist.
type Paths struct {
	root string
}

func NewPaths(root string) Paths { return Paths{root: root} }

func (p Paths) Root() string         { return p.root }
func (p Paths) DataDir() string      { return filepath.Join(p.root, dataDirName) }
func (p Paths) LogDir() string       { return filepath.Join(p.root, logDirName) }
func (p Paths) BackupDir() string    { return filepath.Join(p.root, backupDirName) }
func (p Paths) MetadataFile() string { return filepath.Join(p.root, metadataFileName) }
func (p Paths) LockFile() string     { return filepath.Join(p.root, lockFileName) }
func (p Paths) DatabaseFile() string { return filepath.Join(p.root, databaseFileName) }

// DatasetPath returns the dataset directory for id: data/<uuid[:2]>/<uuid>.
func (p Paths) DatasetPath(id uuid.UUID) string {
	s := id.String()
	return filepath.Join(p.DataDir(), s[:2], s)
}

// Root is a validated, exclusively-locked workspace handle. The lock is
// released when Close is called (or, best-effort, when the process
// exits without closing).
type Root struct {
	paths Paths
	lock  *fslock.Lock
}

// Create initializes a new workspace at path. The directory must not
// exist, or must be empty. It writes the metadata file, creates the
// data/log/backup subdirectories, and acquires the exclusive lock.
func Create(path string) (*Root, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWorkspaceIO, err, "create workspace directory")
	}
	paths := NewPaths(path)

	if _, err := os.Stat(paths.MetadataFile()); err == nil {
		return nil, ferrors.New(ferrors.KindFailedPrecondition, ferrors.CodeAlreadyInitialized)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWorkspaceIO, err, "read workspace directory")
	}
	for _, e := range entries {
		if e.Name() == lockFileName {
			continue
		}
		return nil, ferrors.New(ferrors.KindFailedPrecondition, ferrors.CodeNotEmpty)
	}

	lock, err := acquireLock(paths.LockFile())
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{paths.DataDir(), paths.LogDir(), paths.BackupDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = lock.Unlock()
			return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWorkspaceIO, err, "create workspace subdirectory")
		}
	}

	md := metadata{Version: CurrentVersion}
	if err := writeMetadata(paths.MetadataFile(), md); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	return &Root{paths: paths, lock: lock}, nil
}

// Open validates an existing workspace and acquires the exclusive lock.
func Open(path string) (*Root, error) {
	paths := NewPaths(path)
	md, err := readMetadata(paths.MetadataFile())
	if err != nil {
		return nil, err
	}
	if md.Version != CurrentVersion {
		return nil, ferrors.New(ferrors.KindFailedPrecondition, ferrors.CodeVersionMismatch)
	}
	lock, err := acquireLock(paths.LockFile())
	if err != nil {
		return nil, err
	}
	return &Root{paths: paths, lock: lock}, nil
}

// Validate checks that path looks like a fricon workspace without
// acquiring the lock, for clients that will connect to a server that
// already holds it.
func Validate(path string) error {
	paths := NewPaths(path)
	md, err := readMetadata(paths.MetadataFile())
	if err != nil {
		return err
	}
	if md.Version != CurrentVersion {
		return ferrors.New(ferrors.KindFailedPrecondition, ferrors.CodeVersionMismatch)
	}
	return nil
}

// Paths returns the path calculator for this workspace.
func (r *Root) Paths() Paths { return r.paths }

// Close releases the exclusive lock and best-effort removes the lock
// file.
func (r *Root) Close() error {
	if r.lock == nil {
		return nil
	}
	err := r.lock.Unlock()
	r.lock = nil
	_ = os.Remove(r.paths.LockFile())
	return err
}

func acquireLock(path string) (*fslock.Lock, error) {
	lock := fslock.New(path)
	if err := lock.TryLock(); err != nil {
		if err == fslock.ErrLocked {
			return nil, ferrors.New(ferrors.KindFailedPrecondition, ferrors.CodeLocked)
		}
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWorkspaceIO, err, "acquire workspace lock")
	}
	return lock, nil
}

func writeMetadata(path string, md metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWorkspaceIO, err, "write workspace metadata")
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(md); err != nil {
		return ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWorkspaceIO, err, "write workspace metadata")
	}
	return nil
}

func readMetadata(path string) (metadata, error) {
	var md metadata
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return md, ferrors.New(ferrors.KindFailedPrecondition, ferrors.CodeNotWorkspace)
		}
		return md, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeWorkspaceIO, err, "read workspace metadata")
	}
	if err := json.Unmarshal(b, &md); err != nil {
		return md, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeNotWorkspace, err, "parse workspace metadata")
	}
	return md, nil
}
