// Package loader reads the reference book from local disk or object storage
// and extracts its plain text for the chunking pipeline. PDF, Markdown and
// plain-text files are supported; the format is chosen by file extension.
package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hsn0918/bookrag/pkg/logger"
	"github.com/hsn0918/bookrag/pkg/storage"
)

// Document is the extracted text of one source file.
type Document struct {
	Name string
	Text string
}

// Options selects where the book comes from.
type Options struct {
	Path   string // local file path; also the download target for minio
	Source string // local | minio
	Object string // object key when Source == "minio"
}

// Loader turns a configured book source into plain text.
type Loader struct {
	opts  Options
	store storage.ObjectStorage
}

func New(opts Options, store storage.ObjectStorage) *Loader {
	return &Loader{opts: opts, store: store}
}

// Load fetches and extracts the configured document.
func (l *Loader) Load(ctx context.Context) (*Document, error) {
	switch l.opts.Source {
	case "minio":
		return l.loadFromStorage(ctx)
	default:
		return l.LoadFile(ctx, l.opts.Path)
	}
}

// LoadFile extracts text from a local file, dispatching on its extension.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Document, error) {
	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err := extractPDF(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("extract pdf %s: %w", name, err)
		}
		return &Document{Name: name, Text: text}, nil
	case ".md", ".markdown":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		text, err := extractMarkdown(data)
		if err != nil {
			return nil, fmt.Errorf("extract markdown %s: %w", name, err)
		}
		return &Document{Name: name, Text: text}, nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return &Document{Name: name, Text: string(data)}, nil
	}
}

// loadFromStorage downloads the object next to the configured local path and
// extracts it from there; the PDF reader needs a seekable file.
func (l *Loader) loadFromStorage(ctx context.Context) (*Document, error) {
	if l.store == nil {
		return nil, fmt.Errorf("minio source configured without object storage")
	}
	object := l.opts.Object
	if object == "" {
		object = filepath.Base(l.opts.Path)
	}

	obj, err := l.store.DownloadFile(ctx, object)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", object, err)
	}
	defer obj.Close()

	local := l.opts.Path
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return nil, fmt.Errorf("create document dir: %w", err)
	}
	f, err := os.Create(local)
	if err != nil {
		return nil, fmt.Errorf("create local copy: %w", err)
	}
	written, err := io.Copy(f, obj)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write local copy: %w", err)
	}
	logger.Get().Info("downloaded document from storage",
		slog.String("object", object),
		slog.Int64("bytes", written),
	)

	doc, err := l.LoadFile(ctx, local)
	if err != nil {
		return nil, err
	}
	doc.Name = object
	return doc, nil
}
