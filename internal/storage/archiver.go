package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/brayns/brayns_server/internal/upload"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Archiver keeps a copy of every completed upload in a storage backend.
type Archiver struct {
	backend Backend
	now     func() time.Time
}

func NewArchiver(backend Backend) *Archiver {
	return &Archiver{backend: backend, now: time.Now}
}

func (a *Archiver) Archive(ctx context.Context, chunksID, name, typ string, data []byte) (*upload.Archived, error) {
	hasher := sha256.New()
	hasher.Write(data)
	checksum := hex.EncodeToString(hasher.Sum(nil))

	path := buildArchivePath(uuid.New().String(), name, typ, a.now())
	if err := a.backend.Store(ctx, path, bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("failed to archive upload %s: %w", chunksID, err)
	}

	log.Debug().
		Str("chunksId", chunksID).
		Str("path", path).
		Int("size", len(data)).
		Msg("[STORAGE] Upload archived")

	return &upload.Archived{Path: path, Checksum: checksum}, nil
}

func (a *Archiver) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return a.backend.Get(ctx, path)
}

// Discard removes an archived blob whose upload did not produce any model.
func (a *Archiver) Discard(ctx context.Context, path string) error {
	if err := a.backend.Delete(ctx, path); err != nil {
		return fmt.Errorf("failed to discard archive %s: %w", path, err)
	}
	return nil
}

func buildArchivePath(id, name, typ string, now time.Time) string {
	year := now.Format("2006")
	month := now.Format("01")
	return fmt.Sprintf("uploads/%s/%s/%s%s", year, month, id, archiveExtension(name, typ))
}

func archiveExtension(name, typ string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" && typ != "" {
		ext = "." + strings.ToLower(strings.TrimPrefix(typ, "."))
	}
	for _, c := range ext[min(1, len(ext)):] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}
