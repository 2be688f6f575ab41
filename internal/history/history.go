package history

import (
	"context"
	"errors"
)

var ErrRecordNotFound = errors.New("upload record not found")

type Status string

const (
	StatusPending   Status = "pending"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Record tracks one declared upload from declaration to its final state.
type Record struct {
	ID          string   `json:"id"`
	ClientID    string   `json:"clientId"`
	ChunksID    string   `json:"chunksId"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Size        uint64   `json:"size"`
	Status      Status   `json:"status"`
	Checksum    string   `json:"checksum,omitempty"`
	ArchivePath string   `json:"archivePath,omitempty"`
	ModelIDs    []string `json:"modelIds,omitempty"`
	Error       string   `json:"error,omitempty"`
	CreatedAt   int64    `json:"createdAt"`
	FinishedAt  int64    `json:"finishedAt,omitempty"`
}

// Outcome is the final state written by Finish.
type Outcome struct {
	Status      Status
	Checksum    string
	ArchivePath string
	ModelIDs    []string
	Error       string
	FinishedAt  int64
}

type Repository interface {
	Create(ctx context.Context, record *Record) error
	Finish(ctx context.Context, id string, outcome Outcome) error
	GetByID(ctx context.Context, id string) (*Record, error)
	// List returns the most recent records first.
	List(ctx context.Context, limit int) ([]*Record, error)
	DeleteFinishedBefore(ctx context.Context, cutoff int64) (int64, error)
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return defaultListLimit
	}
	return limit
}
