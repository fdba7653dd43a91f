package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Page is the raw text of one page, Index is zero based.
type Page struct {
	Index int
	Text  string
}

// Loader extracts pages from a document in page order.
type Loader interface {
	Load(ctx context.Context, path string) ([]Page, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, path string) ([]Page, error)

func (f LoaderFunc) Load(ctx context.Context, path string) ([]Page, error) {
	return f(ctx, path)
}

// TextLoader reads plain text and markdown files. Form feeds separate pages.
type TextLoader struct{}

func (TextLoader) Load(ctx context.Context, path string) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	parts := strings.Split(string(data), "\f")
	pages := make([]Page, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, Page{Index: i, Text: part})
	}
	return pages, nil
}

// LoaderFor picks a loader by file extension.
func LoaderFor(path string) (Loader, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		return PDFLoader{}, nil
	case ".txt", ".md", ".markdown", "":
		return TextLoader{}, nil
	default:
		return nil, fmt.Errorf("unsupported document type %q", ext)
	}
}
