package delivery

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/xid"

	"ticket-delivery/internal/domain"
	"ticket-delivery/internal/infra/logging"
)

// localRef is the transient on-disk copy of a rendered document.
type localRef struct {
	domain.DocumentRef
	once sync.Once
}

func materialize(dir string, doc domain.RenderedDocument) (*localRef, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	path := filepath.Join(dir, "ticket-"+xid.New().String()+".pdf")
	if err := os.WriteFile(path, doc.Data, 0o600); err != nil {
		return nil, fmt.Errorf("write temp document: %w", err)
	}
	return &localRef{DocumentRef: domain.DocumentRef{Path: path}}, nil
}

// Release removes the temp file. Safe to call more than once.
func (r *localRef) Release() {
	r.once.Do(func() {
		if err := os.Remove(r.Path); err != nil && !os.IsNotExist(err) {
			logging.Warn("Failed to release local document", "path", r.Path, "error", err)
		}
	})
}
