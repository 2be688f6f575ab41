package upload

import "errors"

// Validation errors, raised before any task is registered.
var (
	ErrEmptyModel       = errors.New("cannot upload an empty model")
	ErrMissingType      = errors.New("model type is required")
	ErrUnsupportedType  = errors.New("unsupported model type")
	ErrMissingChunksID  = errors.New("chunks id is required")
	ErrModelTooLarge    = errors.New("model exceeds the maximum upload size")
	ErrDuplicateChunkID = errors.New("chunks id already used by a running upload")
)

// Transfer errors, raised while binary frames are routed.
var (
	ErrChunkTooLarge      = errors.New("chunk exceeds declared model size")
	ErrAlreadyFinished    = errors.New("upload already finished")
	ErrNoUploadForChunkID = errors.New("no upload registered for chunks id")
	ErrNoUploadsForClient = errors.New("client has no pending uploads")
)

var (
	ErrCancelled     = errors.New("upload cancelled")
	ErrUploadTimeout = errors.New("upload timed out waiting for chunks")
)
