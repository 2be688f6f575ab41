package model

import "math"

type Vector3 [3]float64

type Box struct {
	Min Vector3 `json:"min"`
	Max Vector3 `json:"max"`
}

// EmptyBox returns an inverted box that any Merge will overwrite.
func EmptyBox() Box {
	return Box{
		Min: Vector3{math.Inf(1), math.Inf(1), math.Inf(1)},
		Max: Vector3{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	}
}

func (b Box) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

func (b *Box) MergePoint(p Vector3) {
	for i := 0; i < 3; i++ {
		b.Min[i] = math.Min(b.Min[i], p[i])
		b.Max[i] = math.Max(b.Max[i], p[i])
	}
}

func (b *Box) Merge(other Box) {
	if other.IsEmpty() {
		return
	}
	b.MergePoint(other.Min)
	b.MergePoint(other.Max)
}

func (b Box) Center() Vector3 {
	return Vector3{
		(b.Min[0] + b.Max[0]) / 2,
		(b.Min[1] + b.Max[1]) / 2,
		(b.Min[2] + b.Max[2]) / 2,
	}
}

// Transformation is applied as scale, then rotation (quaternion x, y, z, w), then translation.
type Transformation struct {
	Translation Vector3    `json:"translation"`
	Scale       Vector3    `json:"scale"`
	Rotation    [4]float64 `json:"rotation"`
}

func IdentityTransformation() Transformation {
	return Transformation{
		Scale:    Vector3{1, 1, 1},
		Rotation: [4]float64{0, 0, 0, 1},
	}
}

// Apply transforms a single point.
func (t Transformation) Apply(p Vector3) Vector3 {
	s := Vector3{p[0] * t.Scale[0], p[1] * t.Scale[1], p[2] * t.Scale[2]}

	qx, qy, qz, qw := t.Rotation[0], t.Rotation[1], t.Rotation[2], t.Rotation[3]
	// v' = v + 2w(q x v) + 2 q x (q x v)
	cx := qy*s[2] - qz*s[1]
	cy := qz*s[0] - qx*s[2]
	cz := qx*s[1] - qy*s[0]
	ccx := qy*cz - qz*cy
	ccy := qz*cx - qx*cz
	ccz := qx*cy - qy*cx
	r := Vector3{
		s[0] + 2*(qw*cx+ccx),
		s[1] + 2*(qw*cy+ccy),
		s[2] + 2*(qw*cz+ccz),
	}

	return Vector3{r[0] + t.Translation[0], r[1] + t.Translation[1], r[2] + t.Translation[2]}
}

// ApplyBox returns the axis aligned box enclosing the transformed corners of b.
func (t Transformation) ApplyBox(b Box) Box {
	if b.IsEmpty() {
		return b
	}
	out := EmptyBox()
	for i := 0; i < 8; i++ {
		corner := Vector3{b.Min[0], b.Min[1], b.Min[2]}
		if i&1 != 0 {
			corner[0] = b.Max[0]
		}
		if i&2 != 0 {
			corner[1] = b.Max[1]
		}
		if i&4 != 0 {
			corner[2] = b.Max[2]
		}
		out.MergePoint(t.Apply(corner))
	}
	return out
}

// Model is the in-memory geometry produced by a loader.
type Model struct {
	Name     string
	Vertices []Vector3
	// Triangle vertex indices, three per face. Empty for point clouds.
	Indices  []uint32
	Normals  []Vector3
	Colors   []Vector3
	Metadata map[string]string
}

func (m *Model) Bounds() Box {
	b := EmptyBox()
	for _, v := range m.Vertices {
		b.MergePoint(v)
	}
	return b
}

func (m *Model) TriangleCount() int {
	return len(m.Indices) / 3
}

// Params are the client supplied settings attached to every model created from one source.
type Params struct {
	Name             string                 `json:"name"`
	Path             string                 `json:"path"`
	BoundingBox      bool                   `json:"bounding_box"`
	Transformation   *Transformation        `json:"transformation,omitempty"`
	Visible          *bool                  `json:"visible,omitempty"`
	LoaderName       string                 `json:"loader_name"`
	LoaderProperties map[string]interface{} `json:"loader_properties,omitempty"`
}

func (p Params) IsVisible() bool {
	return p.Visible == nil || *p.Visible
}

func (p Params) EffectiveTransformation() Transformation {
	if p.Transformation == nil {
		return IdentityTransformation()
	}
	return *p.Transformation
}

// Descriptor is the public view of a model registered in the scene.
type Descriptor struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Path             string                 `json:"path"`
	LoaderName       string                 `json:"loader_name"`
	LoaderProperties map[string]interface{} `json:"loader_properties,omitempty"`
	Visible          bool                   `json:"visible"`
	BoundingBox      bool                   `json:"bounding_box"`
	Transformation   Transformation         `json:"transformation"`
	Bounds           Box                    `json:"bounds"`
	VertexCount      int                    `json:"vertex_count"`
	TriangleCount    int                    `json:"triangle_count"`
	Metadata         map[string]string      `json:"metadata,omitempty"`
	CreatedAt        int64                  `json:"created_at"`
}
