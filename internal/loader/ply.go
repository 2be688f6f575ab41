package loader

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/brayns/brayns_server/internal/model"
)

const (
	plyFormatASCII        = "ascii"
	plyFormatLittleEndian = "binary_little_endian"
	plyFormatBigEndian    = "binary_big_endian"
)

type plyProperty struct {
	Name      string
	Type      string
	IsList    bool
	CountType string
}

type plyElement struct {
	Name  string
	Count int
	Props []plyProperty
}

type plyHeader struct {
	Format   string
	Version  string
	Elements []plyElement
	// Size is the byte offset where the body starts.
	Size int
}

type PLYLoader struct{}

func NewPLYLoader() *PLYLoader {
	return &PLYLoader{}
}

func (l *PLYLoader) Name() string {
	return "ply"
}

func (l *PLYLoader) Extensions() []string {
	return []string{"ply"}
}

func (l *PLYLoader) ImportFromBlob(ctx context.Context, blob Blob, progress ProgressFunc, _ map[string]interface{}) ([]*model.Model, error) {
	header, err := parsePLYHeader(blob.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PLY header: %w", err)
	}

	var reader plyValueReader
	body := blob.Data[header.Size:]
	switch header.Format {
	case plyFormatASCII:
		reader = &plyASCIIReader{fields: strings.Fields(string(body))}
	case plyFormatLittleEndian:
		reader = &plyBinaryReader{data: body, order: binary.LittleEndian}
	case plyFormatBigEndian:
		reader = &plyBinaryReader{data: body, order: binary.BigEndian}
	default:
		return nil, fmt.Errorf("%w: unsupported PLY format %q", ErrMalformedData, header.Format)
	}

	m := &model.Model{
		Name:     blob.Name,
		Metadata: map[string]string{"format": header.Format},
	}

	total := 0
	for _, el := range header.Elements {
		total += el.Count
	}
	done := 0

	for _, el := range header.Elements {
		for i := 0; i < el.Count; i++ {
			if err := checkCancelled(ctx, done); err != nil {
				return nil, err
			}
			switch el.Name {
			case "vertex":
				err = readPLYVertex(reader, el, m)
			case "face":
				err = readPLYFace(reader, el, m)
			default:
				err = skipPLYElement(reader, el)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read PLY %s %d: %w", el.Name, i, err)
			}
			done++
			progressEvery(progress, "Parsing PLY", done, total, 1024)
		}
	}

	for _, idx := range m.Indices {
		if uint64(idx) >= uint64(len(m.Vertices)) {
			return nil, fmt.Errorf("%w: face index %d out of range (%d vertices)", ErrMalformedData, idx, len(m.Vertices))
		}
	}

	m.Metadata["vertices"] = strconv.Itoa(len(m.Vertices))
	m.Metadata["triangles"] = strconv.Itoa(m.TriangleCount())
	if progress != nil {
		progress("Parsing PLY", 1)
	}
	return []*model.Model{m}, nil
}

func parsePLYHeader(data []byte) (*plyHeader, error) {
	if !bytes.HasPrefix(data, []byte("ply")) {
		return nil, fmt.Errorf("%w: missing ply magic", ErrMalformedData)
	}

	marker := []byte("end_header")
	idx := bytes.Index(data, marker)
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing end_header", ErrMalformedData)
	}

	header := &plyHeader{Size: len(data)}
	if nl := bytes.IndexByte(data[idx+len(marker):], '\n'); nl >= 0 {
		header.Size = idx + len(marker) + nl + 1
	}

	for _, raw := range strings.Split(string(data[:idx]), "\n") {
		parts := strings.Fields(raw)
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "ply", "comment", "obj_info":
		case "format":
			if len(parts) < 3 {
				return nil, fmt.Errorf("%w: invalid format line", ErrMalformedData)
			}
			header.Format = parts[1]
			header.Version = parts[2]
		case "element":
			if len(parts) < 3 {
				return nil, fmt.Errorf("%w: invalid element line", ErrMalformedData)
			}
			count, err := strconv.Atoi(parts[2])
			if err != nil || count < 0 {
				return nil, fmt.Errorf("%w: invalid element count: %s", ErrMalformedData, parts[2])
			}
			header.Elements = append(header.Elements, plyElement{Name: parts[1], Count: count})
		case "property":
			if len(header.Elements) == 0 {
				return nil, fmt.Errorf("%w: property before element", ErrMalformedData)
			}
			prop, err := parsePLYProperty(parts[1:])
			if err != nil {
				return nil, err
			}
			el := &header.Elements[len(header.Elements)-1]
			el.Props = append(el.Props, prop)
		default:
			return nil, fmt.Errorf("%w: unknown header keyword %q", ErrMalformedData, parts[0])
		}
	}

	if header.Format == "" {
		return nil, fmt.Errorf("%w: missing format", ErrMalformedData)
	}
	return header, nil
}

func parsePLYProperty(parts []string) (plyProperty, error) {
	if len(parts) < 2 {
		return plyProperty{}, fmt.Errorf("%w: invalid property definition", ErrMalformedData)
	}

	if parts[0] == "list" {
		if len(parts) < 4 {
			return plyProperty{}, fmt.Errorf("%w: invalid list property definition", ErrMalformedData)
		}
		return plyProperty{Name: parts[3], Type: parts[2], IsList: true, CountType: parts[1]}, nil
	}
	return plyProperty{Name: parts[1], Type: parts[0]}, nil
}

func readPLYVertex(r plyValueReader, el plyElement, m *model.Model) error {
	var pos, normal, color model.Vector3
	var hasNormal, hasColor bool

	for _, prop := range el.Props {
		if prop.IsList {
			if err := skipPLYList(r, prop); err != nil {
				return err
			}
			continue
		}

		v, err := r.scalar(prop.Type)
		if err != nil {
			return err
		}

		switch prop.Name {
		case "x":
			pos[0] = v
		case "y":
			pos[1] = v
		case "z":
			pos[2] = v
		case "nx":
			normal[0], hasNormal = v, true
		case "ny":
			normal[1], hasNormal = v, true
		case "nz":
			normal[2], hasNormal = v, true
		case "red", "r":
			color[0], hasColor = normalizePLYColor(prop.Type, v), true
		case "green", "g":
			color[1], hasColor = normalizePLYColor(prop.Type, v), true
		case "blue", "b":
			color[2], hasColor = normalizePLYColor(prop.Type, v), true
		}
	}

	m.Vertices = append(m.Vertices, pos)
	if hasNormal {
		m.Normals = append(m.Normals, normal)
	}
	if hasColor {
		m.Colors = append(m.Colors, color)
	}
	return nil
}

func readPLYFace(r plyValueReader, el plyElement, m *model.Model) error {
	for _, prop := range el.Props {
		if !prop.IsList {
			if _, err := r.scalar(prop.Type); err != nil {
				return err
			}
			continue
		}

		if prop.Name != "vertex_indices" && prop.Name != "vertex_index" {
			if err := skipPLYList(r, prop); err != nil {
				return err
			}
			continue
		}

		n, err := readPLYListCount(r, prop)
		if err != nil {
			return err
		}
		polygon := make([]uint32, n)
		for i := range polygon {
			v, err := r.scalar(prop.Type)
			if err != nil {
				return err
			}
			if !isPLYIndex(v) {
				return fmt.Errorf("%w: invalid face index %v", ErrMalformedData, v)
			}
			polygon[i] = uint32(v)
		}
		// Fan triangulation for quads and larger polygons.
		for i := 1; i+1 < len(polygon); i++ {
			m.Indices = append(m.Indices, polygon[0], polygon[i], polygon[i+1])
		}
	}
	return nil
}

func skipPLYElement(r plyValueReader, el plyElement) error {
	for _, prop := range el.Props {
		if prop.IsList {
			if err := skipPLYList(r, prop); err != nil {
				return err
			}
			continue
		}
		if _, err := r.scalar(prop.Type); err != nil {
			return err
		}
	}
	return nil
}

func skipPLYList(r plyValueReader, prop plyProperty) error {
	n, err := readPLYListCount(r, prop)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := r.scalar(prop.Type); err != nil {
			return err
		}
	}
	return nil
}

// readPLYListCount reads a list length and checks it against the values the
// body can still hold, so a corrupt count fails before anything is allocated.
func readPLYListCount(r plyValueReader, prop plyProperty) (int, error) {
	v, err := r.scalar(prop.CountType)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: invalid list count %v", ErrMalformedData, v)
	}
	if left := r.remaining(prop.Type); v > float64(left) {
		return 0, fmt.Errorf("%w: list count %v exceeds remaining data", ErrMalformedData, v)
	}
	return int(v), nil
}

func isPLYIndex(v float64) bool {
	return v >= 0 && v <= math.MaxUint32 && v == math.Trunc(v)
}

func normalizePLYColor(typ string, v float64) float64 {
	switch typ {
	case "uchar", "uint8", "char", "int8":
		return v / 255.0
	case "ushort", "uint16", "short", "int16":
		return v / 65535.0
	default:
		return v
	}
}

func plyTypeSize(typ string) int {
	switch typ {
	case "char", "uchar", "int8", "uint8":
		return 1
	case "short", "ushort", "int16", "uint16":
		return 2
	case "int", "uint", "int32", "uint32", "float", "float32":
		return 4
	case "double", "float64":
		return 8
	default:
		return 0
	}
}

type plyValueReader interface {
	scalar(typ string) (float64, error)
	// remaining is an upper bound on the values of typ left in the body.
	remaining(typ string) int
}

type plyASCIIReader struct {
	fields []string
	pos    int
}

func (r *plyASCIIReader) scalar(typ string) (float64, error) {
	if plyTypeSize(typ) == 0 {
		return 0, fmt.Errorf("%w: unknown property type %q", ErrMalformedData, typ)
	}
	if r.pos >= len(r.fields) {
		return 0, fmt.Errorf("%w: unexpected end of data", ErrMalformedData)
	}
	v, err := strconv.ParseFloat(r.fields[r.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid number %q", ErrMalformedData, r.fields[r.pos])
	}
	r.pos++
	return v, nil
}

func (r *plyASCIIReader) remaining(string) int {
	return len(r.fields) - r.pos
}

type plyBinaryReader struct {
	data  []byte
	pos   int
	order binary.ByteOrder
}

func (r *plyBinaryReader) remaining(typ string) int {
	size := plyTypeSize(typ)
	if size == 0 {
		return 0
	}
	return (len(r.data) - r.pos) / size
}

func (r *plyBinaryReader) scalar(typ string) (float64, error) {
	size := plyTypeSize(typ)
	if size == 0 {
		return 0, fmt.Errorf("%w: unknown property type %q", ErrMalformedData, typ)
	}
	if r.pos+size > len(r.data) {
		return 0, fmt.Errorf("%w: unexpected end of data", ErrMalformedData)
	}
	b := r.data[r.pos : r.pos+size]
	r.pos += size

	switch typ {
	case "char", "int8":
		return float64(int8(b[0])), nil
	case "uchar", "uint8":
		return float64(b[0]), nil
	case "short", "int16":
		return float64(int16(r.order.Uint16(b))), nil
	case "ushort", "uint16":
		return float64(r.order.Uint16(b)), nil
	case "int", "int32":
		return float64(int32(r.order.Uint32(b))), nil
	case "uint", "uint32":
		return float64(r.order.Uint32(b)), nil
	case "float", "float32":
		return float64(math.Float32frombits(r.order.Uint32(b))), nil
	default:
		return math.Float64frombits(r.order.Uint64(b)), nil
	}
}
