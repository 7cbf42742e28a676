package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-kurata/kotae/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

var supportedExtensions = map[string]bool{
	".txt":      true,
	".text":     true,
	".md":       true,
	".markdown": true,
}

// LoadDocument reads one source file into a Document. The document ID is
// the slash-cleaned path so that re-loading the same file supersedes its
// previous chunks.
func LoadDocument(path string) (*model.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return nil, goerr.Wrap(model.ErrInvalidDocument, "unsupported file type",
			goerr.V("path", path),
			goerr.V("ext", ext),
		)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(model.ErrInvalidDocument, "failed to read document",
			goerr.V("path", path),
			goerr.V("cause", err.Error()),
		)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, goerr.Wrap(model.ErrInvalidDocument, "failed to stat document", goerr.V("path", path))
	}

	name := filepath.Base(path)
	return &model.Document{
		ID:         model.DocumentID(filepath.ToSlash(filepath.Clean(path))),
		SourcePath: path,
		RawText:    string(data),
		Metadata: model.DocumentMetadata{
			Title:        strings.TrimSuffix(name, filepath.Ext(name)),
			RevisionDate: info.ModTime(),
		},
	}, nil
}

// LoadDir walks a directory and loads every supported document under it.
// Unsupported files are skipped silently; read failures are logged and
// skipped so one broken file never aborts the walk.
func LoadDir(ctx context.Context, root string) ([]*model.Document, error) {
	var docs []*model.Document

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supportedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		doc, err := LoadDocument(path)
		if err != nil {
			logging.From(ctx).Warn("skipping unreadable document", "path", path, "error", err)
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to walk document directory", goerr.V("root", root))
	}

	return docs, nil
}
