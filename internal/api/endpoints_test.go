package api

import (
	"context"
	"testing"

	"github.com/brayns/brayns_server/internal/history"
	"github.com/brayns/brayns_server/internal/model"
	"github.com/brayns/brayns_server/internal/storage"
	"github.com/brayns/brayns_server/internal/upload"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func loadTriangle(t *testing.T, h *harness) string {
	t.Helper()
	data := []byte(triangleOBJ)
	h.call(t, 100, MethodUploadModel, uploadParams("tri", len(data), "obj", "tri.obj"))
	h.binary(data)
	result := h.sender.waitReply(t, 100)["result"].([]interface{})
	return result[0].(map[string]interface{})["id"].(string)
}

func TestEndpoints_Models(t *testing.T) {
	// given
	h := newHarness(t, upload.Config{}, nil)
	id := loadTriangle(t, h)
	endpoints := NewEndpoints(h.service)

	t.Run("list", func(t *testing.T) {
		ctx := &fasthttp.RequestCtx{}

		endpoints.GetModels(ctx)

		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
		var info SceneInfo
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &info))
		require.Len(t, info.Models, 1)
		assert.Equal(t, id, info.Models[0].ID)
	})

	t.Run("get", func(t *testing.T) {
		ctx := &fasthttp.RequestCtx{}
		ctx.SetUserValue("modelID", id)

		endpoints.GetModel(ctx)

		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		var descriptor model.Descriptor
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &descriptor))
		assert.Equal(t, 1, descriptor.TriangleCount)
	})

	t.Run("get missing", func(t *testing.T) {
		ctx := &fasthttp.RequestCtx{}
		ctx.SetUserValue("modelID", "missing")

		endpoints.GetModel(ctx)

		assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	})

	t.Run("delete", func(t *testing.T) {
		ctx := &fasthttp.RequestCtx{}
		ctx.SetUserValue("modelID", id)

		endpoints.DeleteModel(ctx)

		assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
		assert.Equal(t, 0, h.scene.Count())
	})

	t.Run("delete missing", func(t *testing.T) {
		ctx := &fasthttp.RequestCtx{}
		ctx.SetUserValue("modelID", id)

		endpoints.DeleteModel(ctx)

		assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	})
}

func TestEndpoints_Uploads(t *testing.T) {
	// given
	backend, err := storage.NewLocalStorage(storage.Config{LocalPath: t.TempDir()})
	require.NoError(t, err)
	h := newHarness(t, upload.Config{}, storage.NewArchiver(backend))
	loadTriangle(t, h)
	endpoints := NewEndpoints(h.service)

	var records []*history.Record
	require.Eventually(t, func() bool {
		ctx := &fasthttp.RequestCtx{}
		endpoints.GetUploads(ctx)
		records = nil
		return json.Unmarshal(ctx.Response.Body(), &records) == nil &&
			len(records) == 1 && records[0].Status == history.StatusDone
	}, waitTimeout, pollInterval)
	record := records[0]

	t.Run("invalid limit", func(t *testing.T) {
		ctx := &fasthttp.RequestCtx{}
		ctx.Request.SetRequestURI("/uploads?limit=abc")

		endpoints.GetUploads(ctx)

		assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	})

	t.Run("get", func(t *testing.T) {
		ctx := &fasthttp.RequestCtx{}
		ctx.SetUserValue("uploadID", record.ID)

		endpoints.GetUpload(ctx)

		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		var got history.Record
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &got))
		assert.Equal(t, "tri", got.ChunksID)
		assert.Equal(t, uint64(len(triangleOBJ)), got.Size)
	})

	t.Run("get missing", func(t *testing.T) {
		ctx := &fasthttp.RequestCtx{}
		ctx.SetUserValue("uploadID", "missing")

		endpoints.GetUpload(ctx)

		assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	})

	t.Run("blob", func(t *testing.T) {
		ctx := &fasthttp.RequestCtx{}
		ctx.SetUserValue("uploadID", record.ID)

		endpoints.GetUploadBlob(ctx)

		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.Equal(t, triangleOBJ, string(ctx.Response.Body()))
		assert.Equal(t, record.Checksum, string(ctx.Response.Header.Peek("X-Checksum-Sha256")))
	})
}

func TestEndpoints_BlobWithoutArchive(t *testing.T) {
	h := newHarness(t, upload.Config{}, nil)
	require.NoError(t, h.history.Create(context.Background(), &history.Record{
		ID:       "rec-1",
		ChunksID: "abc",
		Status:   history.StatusDone,
	}))

	ctx := &fasthttp.RequestCtx{}
	ctx.SetUserValue("uploadID", "rec-1")
	NewEndpoints(h.service).GetUploadBlob(ctx)

	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}
