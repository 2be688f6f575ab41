package loader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/brayns/brayns_server/internal/model"
)

// OBJLoader reads the geometry subset of Wavefront OBJ: v, vn and f statements.
// Materials, texture coordinates and groups are ignored.
type OBJLoader struct{}

func NewOBJLoader() *OBJLoader {
	return &OBJLoader{}
}

func (l *OBJLoader) Name() string {
	return "obj"
}

func (l *OBJLoader) Extensions() []string {
	return []string{"obj"}
}

func (l *OBJLoader) ImportFromBlob(ctx context.Context, blob Blob, progress ProgressFunc, _ map[string]interface{}) ([]*model.Model, error) {
	m := &model.Model{
		Name:     blob.Name,
		Metadata: map[string]string{},
	}

	scanner := bufio.NewScanner(bytes.NewReader(blob.Data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	total := len(blob.Data)
	consumed := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		consumed += len(scanner.Bytes()) + 1
		if err := checkCancelled(ctx, lineNo); err != nil {
			return nil, err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)

		switch parts[0] {
		case "v":
			v, err := parseOBJVector(parts[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			m.Vertices = append(m.Vertices, v)
			// Some exporters append per-vertex colours after the position.
			if len(parts) >= 7 {
				c, err := parseOBJVector(parts[4:7])
				if err == nil {
					m.Colors = append(m.Colors, c)
				}
			}
		case "vn":
			n, err := parseOBJVector(parts[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			m.Normals = append(m.Normals, n)
		case "f":
			if err := appendOBJFace(m, parts[1:]); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
		case "o":
			if len(parts) > 1 && m.Metadata["object"] == "" {
				m.Metadata["object"] = strings.Join(parts[1:], " ")
			}
		}

		if lineNo%1024 == 0 && progress != nil && total > 0 {
			progress("Parsing OBJ", float64(consumed)/float64(total))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}

	// Normals are only meaningful when they map one to one onto positions.
	if len(m.Normals) != len(m.Vertices) {
		m.Normals = nil
	}
	if len(m.Colors) != len(m.Vertices) {
		m.Colors = nil
	}

	m.Metadata["vertices"] = strconv.Itoa(len(m.Vertices))
	m.Metadata["triangles"] = strconv.Itoa(m.TriangleCount())
	if progress != nil {
		progress("Parsing OBJ", 1)
	}
	return []*model.Model{m}, nil
}

func parseOBJVector(fields []string) (model.Vector3, error) {
	var v model.Vector3
	if len(fields) < 3 {
		return v, fmt.Errorf("%w: expected 3 components, got %d", ErrMalformedData, len(fields))
	}
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return v, fmt.Errorf("%w: invalid number %q", ErrMalformedData, fields[i])
		}
		v[i] = f
	}
	return v, nil
}

func appendOBJFace(m *model.Model, refs []string) error {
	if len(refs) < 3 {
		return fmt.Errorf("%w: face needs at least 3 vertices", ErrMalformedData)
	}

	polygon := make([]uint32, len(refs))
	for i, ref := range refs {
		// v, v/vt, v//vn or v/vt/vn; only the position index matters here.
		if slash := strings.IndexByte(ref, '/'); slash >= 0 {
			ref = ref[:slash]
		}
		idx, err := strconv.Atoi(ref)
		if err != nil {
			return fmt.Errorf("%w: invalid face index %q", ErrMalformedData, ref)
		}
		// OBJ indices are 1-based; negative values are relative to the last vertex.
		switch {
		case idx > 0:
			idx--
		case idx < 0:
			idx = len(m.Vertices) + idx
		default:
			return fmt.Errorf("%w: face index 0", ErrMalformedData)
		}
		if idx < 0 || idx >= len(m.Vertices) {
			return fmt.Errorf("%w: face index %s out of range", ErrMalformedData, ref)
		}
		polygon[i] = uint32(idx)
	}

	for i := 1; i+1 < len(polygon); i++ {
		m.Indices = append(m.Indices, polygon[0], polygon[i], polygon[i+1])
	}
	return nil
}
