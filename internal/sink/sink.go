// Package sink persists capture frames to local storage, one directory per
// capture.
package sink

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/banshee-data/depthlink/internal/codec"
	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/fsutil"
	"github.com/banshee-data/depthlink/internal/monitoring"
	"github.com/banshee-data/depthlink/internal/security"
)

// Artifact file names inside a capture directory.
const (
	ImageFile = "frame.jpg"
	DepthFile = "depth.bin"
	MetaFile  = "meta.json"

	// PartialSuffix marks an artifact whose write did not complete.
	PartialSuffix = ".partial"
)

// Artifacts lists the files a complete capture directory contains, in the
// order they are written.
var Artifacts = []string{ImageFile, DepthFile, MetaFile}

var (
	// ErrDuplicateCaptureID reports that a directory for the capture id
	// already exists. Nothing is written in that case.
	ErrDuplicateCaptureID = errors.New("duplicate capture id")
	// ErrInvalidCaptureID reports an id that cannot be used as a directory
	// name.
	ErrInvalidCaptureID = errors.New("invalid capture id")
)

// StorageError describes a failed persist. Artifact is empty when the
// failure happened before any artifact was written.
type StorageError struct {
	CaptureID string
	Artifact  string
	Err       error
}

func (e *StorageError) Error() string {
	if e.Artifact == "" {
		return fmt.Sprintf("persist capture %q: %v", e.CaptureID, e.Err)
	}
	return fmt.Sprintf("persist capture %q: %s: %v", e.CaptureID, e.Artifact, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// LocalSink writes frames below a root directory.
type LocalSink struct {
	root string
	fs   fsutil.FileSystem
}

// New returns a LocalSink rooted at root. A nil fsys uses the OS.
func New(root string, fsys fsutil.FileSystem) *LocalSink {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &LocalSink{root: root, fs: fsys}
}

// Root returns the directory capture directories are created in.
func (s *LocalSink) Root() string { return s.root }

// Persist creates <root>/<capture id>/ and writes the image, depth and
// metadata artifacts into it. It returns the capture directory.
//
// Each artifact is written to a ".partial" file and renamed into place, so
// an interrupted write leaves a detectable leftover rather than a short
// artifact. A failed artifact does not stop the remaining ones; the first
// error is returned along with the directory path.
func (s *LocalSink) Persist(f *frame.CaptureFrame) (string, error) {
	if f == nil {
		return "", &StorageError{Err: fmt.Errorf("%w: nil frame", ErrInvalidCaptureID)}
	}
	if err := security.ValidateCaptureID(f.ID); err != nil {
		return "", &StorageError{CaptureID: f.ID, Err: fmt.Errorf("%w: %v", ErrInvalidCaptureID, err)}
	}
	meta, err := codec.MarshalMetadata(f, true)
	if err != nil {
		return "", &StorageError{CaptureID: f.ID, Artifact: MetaFile, Err: err}
	}
	meta = append(meta, '\n')

	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return "", &StorageError{CaptureID: f.ID, Err: err}
	}
	dir := filepath.Join(s.root, f.ID)
	if err := s.fs.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", &StorageError{CaptureID: f.ID, Err: fmt.Errorf("%w: %s", ErrDuplicateCaptureID, dir)}
		}
		return "", &StorageError{CaptureID: f.ID, Err: err}
	}

	contents := map[string][]byte{
		ImageFile: f.Image,
		DepthFile: f.Depth.Data,
		MetaFile:  meta,
	}
	var first error
	for _, name := range Artifacts {
		if err := s.writeArtifact(dir, name, contents[name]); err != nil {
			monitoring.Logf("sink: capture %s: %s: %v", f.ID, name, err)
			if first == nil {
				first = &StorageError{CaptureID: f.ID, Artifact: name, Err: err}
			}
		}
	}
	return dir, first
}

func (s *LocalSink) writeArtifact(dir, name string, data []byte) error {
	final := filepath.Join(dir, name)
	tmp := final + PartialSuffix
	if err := s.fs.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return s.fs.Rename(tmp, final)
}
