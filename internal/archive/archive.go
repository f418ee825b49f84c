// Package archive reads capture directories written by the sink package.
package archive

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/depthlink/internal/codec"
	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/fsutil"
	"github.com/banshee-data/depthlink/internal/security"
	"github.com/banshee-data/depthlink/internal/sink"
)

// Entry describes one capture directory.
type Entry struct {
	ID  string
	Dir string
	// Missing lists artifacts that are absent.
	Missing []string
	// Partial lists leftover ".partial" files from interrupted writes.
	Partial []string
}

// Complete reports whether all artifacts exist and no write was left
// unfinished. Only complete entries should be treated as valid captures.
func (e Entry) Complete() bool {
	return len(e.Missing) == 0 && len(e.Partial) == 0
}

// Archive is a read-only view of a capture root.
type Archive struct {
	root string
	fs   fsutil.FileSystem
}

// Open returns an Archive over root. A nil fsys uses the OS.
func Open(root string, fsys fsutil.FileSystem) *Archive {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Archive{root: root, fs: fsys}
}

// List returns every capture directory below the root, sorted by id.
// Regular files in the root (such as the journal database) are ignored.
func (a *Archive) List() ([]Entry, error) {
	dirs, err := a.fs.ReadDir(a.root)
	if err != nil {
		return nil, fmt.Errorf("list captures in %s: %w", a.root, err)
	}
	var out []Entry
	for _, d := range dirs {
		if !d.IsDir() || security.ValidateCaptureID(d.Name()) != nil {
			continue
		}
		e, err := a.inspect(d.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Archive) inspect(id string) (Entry, error) {
	dir := filepath.Join(a.root, id)
	files, err := a.fs.ReadDir(dir)
	if err != nil {
		return Entry{}, fmt.Errorf("inspect capture %s: %w", id, err)
	}
	present := make(map[string]bool, len(files))
	e := Entry{ID: id, Dir: dir}
	for _, f := range files {
		present[f.Name()] = true
		if strings.HasSuffix(f.Name(), sink.PartialSuffix) {
			e.Partial = append(e.Partial, f.Name())
		}
	}
	for _, name := range sink.Artifacts {
		if !present[name] {
			e.Missing = append(e.Missing, name)
		}
	}
	return e, nil
}

// Load reads the capture with the given id.
func (a *Archive) Load(id string) (*frame.CaptureFrame, error) {
	if err := security.ValidateCaptureID(id); err != nil {
		return nil, err
	}
	return LoadDir(a.fs, filepath.Join(a.root, id))
}

// LoadDir reconstructs a frame from a capture directory. The metadata is
// validated against the binary artifacts exactly as the wire decoder does.
func LoadDir(fsys fsutil.FileSystem, dir string) (*frame.CaptureFrame, error) {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	raw, err := fsys.ReadFile(filepath.Join(dir, sink.MetaFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}
	md, err := codec.UnmarshalMetadata(raw)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}
	image, err := fsys.ReadFile(filepath.Join(dir, sink.ImageFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}
	depth, err := fsys.ReadFile(filepath.Join(dir, sink.DepthFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}
	f, err := md.Frame(image, depth)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}
	return f, nil
}

// LoadComplete loads every complete capture in id order. Incomplete
// entries are returned separately so callers can report them.
func (a *Archive) LoadComplete() ([]*frame.CaptureFrame, []Entry, error) {
	entries, err := a.List()
	if err != nil {
		return nil, nil, err
	}
	var (
		frames     []*frame.CaptureFrame
		incomplete []Entry
	)
	for _, e := range entries {
		if !e.Complete() {
			incomplete = append(incomplete, e)
			continue
		}
		f, err := LoadDir(a.fs, e.Dir)
		if err != nil {
			return nil, nil, err
		}
		frames = append(frames, f)
	}
	return frames, incomplete, nil
}
