package search

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/hyperifyio/foibot/internal/fetch"
)

// FileSource serves a saved search results page from disk in place of the
// network, for offline runs and fixtures. The requested URL is ignored.
type FileSource struct {
	Path string
}

func (f *FileSource) Fetch(ctx context.Context, url string) (*fetch.Response, error) {
	if strings.TrimSpace(f.Path) == "" {
		return nil, errors.New("file source path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &fetch.Error{URL: url, Attempts: 1, Err: err}
	}
	return &fetch.Response{URL: url, StatusCode: 200, ContentType: "text/html; charset=utf-8", Body: b, Attempts: 1}, nil
}
