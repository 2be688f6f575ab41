package loader

import (
	"bytes"
	"context"

	"github.com/brayns/brayns_server/internal/model"
)

// MeshLoader accepts the generic "mesh" type and picks PLY or OBJ by sniffing the content.
type MeshLoader struct {
	ply *PLYLoader
	obj *OBJLoader
}

func NewMeshLoader() *MeshLoader {
	return &MeshLoader{ply: NewPLYLoader(), obj: NewOBJLoader()}
}

func (l *MeshLoader) Name() string {
	return "mesh"
}

func (l *MeshLoader) Extensions() []string {
	return []string{"mesh"}
}

func (l *MeshLoader) ImportFromBlob(ctx context.Context, blob Blob, progress ProgressFunc, properties map[string]interface{}) ([]*model.Model, error) {
	if bytes.HasPrefix(blob.Data, []byte("ply")) {
		return l.ply.ImportFromBlob(ctx, blob, progress, properties)
	}
	return l.obj.ImportFromBlob(ctx, blob, progress, properties)
}
