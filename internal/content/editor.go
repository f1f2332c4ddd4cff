package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrPathOutsideTree is returned for relative paths that resolve outside the
// house's content directory.
var ErrPathOutsideTree = errors.New("path escapes content directory")

// AttachmentIndex is the persistent content-path -> photo-file mapping. The
// sqlite store implements it.
type AttachmentIndex interface {
	SetAttachment(ctx context.Context, contentPath, fileName string) error
	GetAttachment(ctx context.Context, contentPath string) (string, error)
	DeleteAttachment(ctx context.Context, contentPath string) (bool, error)
}

// Editor applies admin mutations to the content tree. Every target path is
// canonicalized and checked for containment before anything is written.
type Editor struct {
	repo  *Repository
	index AttachmentIndex
}

func NewEditor(repo *Repository, index AttachmentIndex) *Editor {
	return &Editor{repo: repo, index: index}
}

// resolve turns a relative content path into an absolute one under the house
// directory, rejecting traversal.
func (e *Editor) resolve(houseID, rel string) (string, error) {
	baseAbs, err := filepath.Abs(e.repo.houseDir(houseID))
	if err != nil {
		return "", err
	}
	target := filepath.Join(baseAbs, filepath.FromSlash(rel))
	inside, err := filepath.Rel(baseAbs, target)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", ErrPathOutsideTree
	}
	return target, nil
}

// ListFiles returns the editable content paths: everything under texts/ and
// guides/, plus activities.yaml when present. Paths use forward slashes.
func (e *Editor) ListFiles(houseID string) []string {
	base := e.repo.houseDir(houseID)
	var files []string
	for _, sub := range []string{"texts", "guides"} {
		root := filepath.Join(base, sub)
		_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(base, path)
			if err != nil {
				return nil
			}
			files = append(files, filepath.ToSlash(rel))
			return nil
		})
	}
	sort.Strings(files)
	if _, err := os.Stat(filepath.Join(base, "activities.yaml")); err == nil {
		files = append(files, "activities.yaml")
	}
	return files
}

// WriteText overwrites the content file at rel with the given body, creating
// parent directories as needed, and invalidates the cached read. Traversal
// attempts fail before any filesystem mutation.
func (e *Editor) WriteText(houseID, rel, body string) error {
	target, err := e.resolve(houseID, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(target, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	e.repo.Invalidate(houseID, rel)
	return nil
}

// photoFileName derives a deterministic file name from the content path, so
// re-attaching to the same path overwrites the previous photo.
func photoFileName(contentPath string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(contentPath) + ".jpg"
}

// SavePhoto stores the photo bytes under photos/ with a name derived from
// the content path and records the mapping in the attachment index.
func (e *Editor) SavePhoto(ctx context.Context, houseID, contentPath string, src io.Reader) (string, error) {
	if _, err := e.resolve(houseID, contentPath); err != nil {
		return "", err
	}
	name := photoFileName(contentPath)
	dir := filepath.Join(e.repo.houseDir(houseID), "photos")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create photos dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("create photo file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, src); err != nil {
		return "", fmt.Errorf("save photo: %w", err)
	}
	if err := e.index.SetAttachment(ctx, contentPath, name); err != nil {
		return "", fmt.Errorf("record attachment: %w", err)
	}
	return name, nil
}

// Attachment returns the absolute path of the photo attached to a content
// path, or "" when there is none.
func (e *Editor) Attachment(ctx context.Context, houseID, contentPath string) (string, error) {
	name, err := e.index.GetAttachment(ctx, contentPath)
	if err != nil || name == "" {
		return "", err
	}
	return filepath.Join(e.repo.houseDir(houseID), "photos", name), nil
}

// DeletePhoto removes the index entry and makes a best-effort attempt to
// delete the physical file. Reports whether an attachment existed.
func (e *Editor) DeletePhoto(ctx context.Context, houseID, contentPath string) (bool, error) {
	deleted, err := e.index.DeleteAttachment(ctx, contentPath)
	if err != nil {
		return false, err
	}
	_ = os.Remove(filepath.Join(e.repo.houseDir(houseID), "photos", photoFileName(contentPath)))
	return deleted, nil
}
