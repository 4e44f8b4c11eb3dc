// Package static serves the front-end files that sit next to the form.
package static

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var ErrNotFound = errors.New("asset not found")

// Asset is a file's content with the content type it should be served with.
type Asset struct {
	Name        string
	ContentType string
	Body        []byte
}

// Assets resolves relative file names inside a single root.
type Assets struct {
	root fs.FS
}

func New(root fs.FS) *Assets {
	return &Assets{root: root}
}

// Dir serves files from a directory on disk.
func Dir(dir string) *Assets {
	return New(os.DirFS(dir))
}

// Open returns ErrNotFound for missing files, directories and any name that
// tries to leave the root.
func (a *Assets) Open(name string) (*Asset, error) {
	name = strings.TrimPrefix(name, "/")
	if !fs.ValidPath(name) || name == "." {
		return nil, ErrNotFound
	}

	body, err := fs.ReadFile(a.root, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			return nil, ErrNotFound
		}
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) && isDirectory(a.root, name) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read asset %s: %w", name, err)
	}

	return &Asset{Name: name, ContentType: ContentType(name, body), Body: body}, nil
}

func isDirectory(root fs.FS, name string) bool {
	info, err := fs.Stat(root, name)
	return err == nil && info.IsDir()
}

// ContentType derives the type from the extension and sniffs the content
// only when the extension is unknown.
func ContentType(name string, body []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return mimetype.Detect(body).String()
}
