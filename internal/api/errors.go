package api

import (
	"errors"

	"github.com/brayns/brayns_server/internal/loader"
	"github.com/brayns/brayns_server/internal/rpc"
	"github.com/brayns/brayns_server/internal/scene"
	"github.com/brayns/brayns_server/internal/upload"
)

// Application error codes carried in JSON-RPC error replies.
const (
	CodeEmptyModel         = 1
	CodeMissingType        = 2
	CodeUnsupportedType    = 3
	CodeDuplicateChunkID   = 4
	CodeChunkTooLarge      = 5
	CodeAlreadyFinished    = 6
	CodeNoUploadForChunkID = 7
	CodeNoUploadsForClient = 8
	CodeCancelled          = 9
	CodeUploadTimeout      = 10
	CodeMissingChunksID    = 11
	CodeLoadingFailed      = 12
	CodeModelNotFound      = 13
	CodeModelTooLarge      = 14
)

var errorCodes = []struct {
	err  error
	code int
}{
	{upload.ErrEmptyModel, CodeEmptyModel},
	{upload.ErrMissingType, CodeMissingType},
	{upload.ErrUnsupportedType, CodeUnsupportedType},
	{upload.ErrDuplicateChunkID, CodeDuplicateChunkID},
	{upload.ErrChunkTooLarge, CodeChunkTooLarge},
	{upload.ErrAlreadyFinished, CodeAlreadyFinished},
	{upload.ErrNoUploadForChunkID, CodeNoUploadForChunkID},
	{upload.ErrNoUploadsForClient, CodeNoUploadsForClient},
	{upload.ErrCancelled, CodeCancelled},
	{upload.ErrUploadTimeout, CodeUploadTimeout},
	{upload.ErrMissingChunksID, CodeMissingChunksID},
	{upload.ErrModelTooLarge, CodeModelTooLarge},
	{loader.ErrNoSuitableLoader, CodeLoadingFailed},
	{loader.ErrMalformedData, CodeLoadingFailed},
	{scene.ErrModelNotFound, CodeModelNotFound},
}

// ToRPCError maps a domain error to its reply. Unknown errors become internal errors.
func ToRPCError(err error) *rpc.Error {
	if rpcErr, ok := lookup(err); ok {
		return rpcErr
	}
	return rpc.NewError(rpc.CodeInternalError, err.Error())
}

// loadError maps an error returned by a running upload. Anything the loader raised
// without a known sentinel is a loading failure.
func loadError(err error) *rpc.Error {
	if rpcErr, ok := lookup(err); ok {
		return rpcErr
	}
	return rpc.NewError(CodeLoadingFailed, err.Error())
}

func lookup(err error) (*rpc.Error, bool) {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return rpc.NewError(entry.code, err.Error()), true
		}
	}
	return nil, false
}
