package upload

import (
	"fmt"
	"time"

	"github.com/brayns/brayns_server/internal/model"
)

// Params are the upload-model request parameters.
type Params struct {
	model.Params
	ChunksID string `json:"chunks_id"`
	Size     uint64 `json:"size"`
	Type     string `json:"type"`
}

type Config struct {
	// Timeout bounds the wait for all chunks. Zero waits forever.
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// MaxSize rejects declarations above this many bytes. Zero disables the limit.
	MaxSize      uint64 `mapstructure:"max_size"`
	BinaryFormat string `mapstructure:"binary_format"`
}

const (
	BinaryFormatRaw      = "raw"
	BinaryFormatPrefixed = "prefixed"
)

func (p Params) validate(registry Registry, maxSize uint64) error {
	if p.Size == 0 {
		return ErrEmptyModel
	}
	if maxSize > 0 && p.Size > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds the %d bytes limit", ErrModelTooLarge, p.Size, maxSize)
	}
	if p.Type == "" {
		return ErrMissingType
	}
	if !registry.IsSupportedType(p.Type) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, p.Type)
	}
	if p.ChunksID == "" {
		return ErrMissingChunksID
	}
	return nil
}
