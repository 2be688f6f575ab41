package api

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/brayns/brayns_server/internal/history"
	"github.com/brayns/brayns_server/internal/middleware"
	"github.com/brayns/brayns_server/internal/scene"
	"github.com/brayns/brayns_server/internal/storage"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const blobTimeout = time.Minute

// Endpoints exposes the scene and the upload history over REST.
type Endpoints struct {
	service *Service
}

func NewEndpoints(service *Service) *Endpoints {
	return &Endpoints{service: service}
}

// GetModels handles GET /models
func (e *Endpoints) GetModels(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, SceneInfo{
		Bounds: e.service.scene.Bounds(),
		Models: e.service.scene.List(),
	})
}

// GetModel handles GET /models/{id}
func (e *Endpoints) GetModel(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("modelID").(string)

	descriptor, err := e.service.scene.Get(id)
	if errors.Is(err, scene.ErrModelNotFound) {
		ctx.Error("Model not found", fasthttp.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("modelId", id).Msg("[HTTP] Failed to get model")
		ctx.Error("Failed to get model", fasthttp.StatusInternalServerError)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, descriptor)
}

// DeleteModel handles DELETE /models/{id}
func (e *Endpoints) DeleteModel(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("modelID").(string)

	if err := e.service.scene.Remove(id); err != nil {
		if errors.Is(err, scene.ErrModelNotFound) {
			ctx.Error("Model not found", fasthttp.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("modelId", id).Msg("[HTTP] Failed to remove model")
		ctx.Error("Failed to remove model", fasthttp.StatusInternalServerError)
		return
	}

	event := log.Info().Str("modelId", id)
	if claims := middleware.Claims(ctx); claims != nil {
		event = event.Str("subject", claims.Subject)
	}
	event.Msg("[HTTP] Model removed")
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// GetUploads handles GET /uploads
// Query parameters:
//   - limit (optional, default: 100, max: 500)
func (e *Endpoints) GetUploads(ctx *fasthttp.RequestCtx) {
	limit := 0
	if raw := string(ctx.QueryArgs().Peek("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			ctx.Error("Invalid limit", fasthttp.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := e.service.history.List(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("[HTTP] Failed to list uploads")
		ctx.Error("Failed to list uploads", fasthttp.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*history.Record{}
	}
	writeJSON(ctx, fasthttp.StatusOK, records)
}

// GetUpload handles GET /uploads/{id}
func (e *Endpoints) GetUpload(ctx *fasthttp.RequestCtx) {
	record, ok := e.lookupRecord(ctx)
	if !ok {
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, record)
}

// GetUploadBlob handles GET /uploads/{id}/blob and streams the archived model file.
func (e *Endpoints) GetUploadBlob(ctx *fasthttp.RequestCtx) {
	record, ok := e.lookupRecord(ctx)
	if !ok {
		return
	}
	if e.service.archive == nil || record.ArchivePath == "" {
		ctx.Error("Upload not archived", fasthttp.StatusNotFound)
		return
	}

	blobCtx, cancel := context.WithTimeout(context.Background(), blobTimeout)
	defer cancel()

	reader, err := e.service.archive.Open(blobCtx, record.ArchivePath)
	if errors.Is(err, storage.ErrBlobNotFound) {
		ctx.Error("Archive not found", fasthttp.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("uploadId", record.ID).Msg("[HTTP] Failed to open archive")
		ctx.Error("Failed to open archive", fasthttp.StatusInternalServerError)
		return
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		log.Error().Err(err).Str("uploadId", record.ID).Msg("[HTTP] Failed to read archive")
		ctx.Error("Failed to read archive", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/octet-stream")
	ctx.Response.Header.Set("X-Checksum-Sha256", record.Checksum)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(data)
}

func (e *Endpoints) lookupRecord(ctx *fasthttp.RequestCtx) (*history.Record, bool) {
	id, _ := ctx.UserValue("uploadID").(string)

	record, err := e.service.history.GetByID(ctx, id)
	if errors.Is(err, history.ErrRecordNotFound) {
		ctx.Error("Upload not found", fasthttp.StatusNotFound)
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("uploadId", id).Msg("[HTTP] Failed to get upload")
		ctx.Error("Failed to get upload", fasthttp.StatusInternalServerError)
		return nil, false
	}
	return record, true
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("[HTTP] Failed to encode response")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}
