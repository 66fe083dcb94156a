package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/eeelify/Z-inspection-sub003/internal/scoring"
	"github.com/eeelify/Z-inspection-sub003/internal/store"
)

// Renderer turns a draft and its snapshot into stored files. Renderers echo
// the snapshot numbers; they never recompute them.
type Renderer interface {
	Render(ctx context.Context, a *store.ReportArtifact, snap *scoring.Snapshot) ([]store.FileRef, error)
}

const FileKindSnapshot = "snapshot_json"

// ErrUnsafeProjectID is returned for project IDs that cannot name a
// directory under the output root.
var ErrUnsafeProjectID = errors.New("unsafe project id")

// FileRenderer writes the canonical snapshot JSON under a local directory.
type FileRenderer struct {
	dir string
}

func NewFileRenderer(dir string) *FileRenderer {
	return &FileRenderer{dir: dir}
}

func (r *FileRenderer) Render(ctx context.Context, a *store.ReportArtifact, snap *scoring.Snapshot) ([]store.FileRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := snap.Canonical()
	if err != nil {
		return nil, err
	}

	dir, err := r.projectDir(a.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("v%d-%s.json", a.Version, a.ID))

	// Written via a temp file and rename.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("write report: %w", err)
	}

	sum := sha256.Sum256(body)
	return []store.FileRef{{
		Kind:   FileKindSnapshot,
		URI:    "file://" + filepath.ToSlash(path),
		SHA256: hex.EncodeToString(sum[:]),
	}}, nil
}

// projectDir escapes projectID into one path segment under r.dir.
func (r *FileRenderer) projectDir(projectID string) (string, error) {
	seg := url.PathEscape(projectID)
	if seg == "" || seg == "." || seg == ".." {
		return "", fmt.Errorf("%w: %q", ErrUnsafeProjectID, projectID)
	}
	dir := filepath.Join(r.dir, seg)
	rel, err := filepath.Rel(r.dir, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeProjectID, projectID)
	}
	return dir, nil
}
