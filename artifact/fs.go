package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/seamline-io/conveyor/iox"
	"github.com/seamline-io/conveyor/types"
)

const fileScheme = "file://"

// FS is a filesystem artifact store. Objects live under partitioned paths:
//
//	<root>/date=<run_date>/stage=<stage>/<name>
//
// References are file://-scheme paths relative to the root, so a ledger
// stays portable when the root moves.
type FS struct {
	root string
}

// OpenFS opens (or initializes) a filesystem artifact store rooted at dir.
func OpenFS(dir string) (*FS, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact: fs store requires a root directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: mkdir %s: %w", dir, err)
	}
	return &FS{root: dir}, nil
}

// Put implements Store. The write is temp-file-plus-rename, so a reference
// never points at a torn object.
func (s *FS) Put(_ context.Context, date types.RunDate, stage types.Stage, name string, data []byte) (types.ArtifactRef, error) {
	if err := validateAddress(date, stage, name); err != nil {
		return "", err
	}
	rel := filepath.ToSlash(filepath.Join("date="+string(date), "stage="+string(stage), name))
	if err := iox.WriteFileAtomic(filepath.Join(s.root, filepath.FromSlash(rel)), data, 0o644); err != nil {
		return "", fmt.Errorf("artifact: write %s: %w", rel, err)
	}
	return types.ArtifactRef(fileScheme + rel), nil
}

// Get implements Store.
func (s *FS) Get(_ context.Context, ref types.ArtifactRef) ([]byte, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", ref, err)
	}
	return data, nil
}

// Exists implements Store.
func (s *FS) Exists(_ context.Context, ref types.ArtifactRef) (bool, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("artifact: stat %s: %w", ref, err)
	}
	return true, nil
}

// List implements Store.
func (s *FS) List(_ context.Context, date types.RunDate) ([]types.ArtifactRef, error) {
	dateDir := filepath.Join(s.root, "date="+string(date))
	var refs []types.ArtifactRef
	err := filepath.WalkDir(dateDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		refs = append(refs, types.ArtifactRef(fileScheme+filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: list %s: %w", date, err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs, nil
}

// Close implements Store.
func (s *FS) Close() error { return nil }

func (s *FS) resolve(ref types.ArtifactRef) (string, error) {
	rel, ok := strings.CutPrefix(string(ref), fileScheme)
	if !ok {
		return "", fmt.Errorf("artifact: ref %q is not file-addressed", ref)
	}
	rel = filepath.FromSlash(rel)
	if rel == "" || strings.Contains(rel, "..") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("artifact: ref %q escapes the store root", ref)
	}
	return filepath.Join(s.root, rel), nil
}

func validateAddress(date types.RunDate, stage types.Stage, name string) error {
	if !date.Valid() {
		return fmt.Errorf("artifact: invalid run date %q", date)
	}
	if _, err := types.ParseStage(string(stage)); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("artifact: invalid object name %q", name)
	}
	return nil
}

var _ Store = (*FS)(nil)
