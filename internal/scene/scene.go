package scene

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brayns/brayns_server/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrModelNotFound = errors.New("model not found")

type entry struct {
	descriptor *model.Descriptor
	model      *model.Model
	// localBounds are the untransformed geometry bounds.
	localBounds model.Box
}

// Scene keeps every loaded model and its placement.
type Scene struct {
	models map[string]*entry
	order  []string
	mu     sync.RWMutex
	now    func() time.Time
}

func New() *Scene {
	return &Scene{
		models: make(map[string]*entry),
		now:    time.Now,
	}
}

// AddModels registers the loader output under params and returns the new descriptors.
func (s *Scene) AddModels(models []*model.Model, params model.Params) []*model.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	tf := params.EffectiveTransformation()
	descriptors := make([]*model.Descriptor, 0, len(models))

	for i, m := range models {
		name := params.Name
		if name == "" {
			name = m.Name
		}
		if len(models) > 1 {
			name = fmt.Sprintf("%s[%d]", name, i)
		}

		local := m.Bounds()
		d := &model.Descriptor{
			ID:               uuid.NewString(),
			Name:             name,
			Path:             params.Path,
			LoaderName:       params.LoaderName,
			LoaderProperties: params.LoaderProperties,
			Visible:          params.IsVisible(),
			BoundingBox:      params.BoundingBox,
			Transformation:   tf,
			Bounds:           finiteBox(tf.ApplyBox(local)),
			VertexCount:      len(m.Vertices),
			TriangleCount:    m.TriangleCount(),
			Metadata:         m.Metadata,
			CreatedAt:        s.now().Unix(),
		}

		s.models[d.ID] = &entry{descriptor: d, model: m, localBounds: local}
		s.order = append(s.order, d.ID)
		descriptors = append(descriptors, copyDescriptor(d))

		log.Info().
			Str("modelId", d.ID).
			Str("name", d.Name).
			Int("vertices", d.VertexCount).
			Int("triangles", d.TriangleCount).
			Msg("[SCENE] Model added")
	}

	return descriptors
}

func (s *Scene) Get(id string) (*model.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return copyDescriptor(e.descriptor), nil
}

func (s *Scene) List() []*model.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Descriptor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyDescriptor(s.models[id].descriptor))
	}
	return out
}

// Remove deletes every listed model. Unknown ids fail the whole call before anything is removed.
func (s *Scene) Remove(ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.models[id]; !ok {
			return fmt.Errorf("%w: %s", ErrModelNotFound, id)
		}
	}

	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		delete(s.models, id)
		removed[id] = true
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if !removed[id] {
			kept = append(kept, id)
		}
	}
	s.order = kept

	log.Info().Strs("modelIds", ids).Msg("[SCENE] Models removed")
	return nil
}

// Update is the set of mutable model properties; nil fields are left untouched.
type Update struct {
	ID             string                `json:"id"`
	Name           *string               `json:"name,omitempty"`
	Visible        *bool                 `json:"visible,omitempty"`
	BoundingBox    *bool                 `json:"bounding_box,omitempty"`
	Transformation *model.Transformation `json:"transformation,omitempty"`
}

func (s *Scene) Update(u Update) (*model.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.models[u.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, u.ID)
	}

	d := e.descriptor
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Visible != nil {
		d.Visible = *u.Visible
	}
	if u.BoundingBox != nil {
		d.BoundingBox = *u.BoundingBox
	}
	if u.Transformation != nil {
		d.Transformation = *u.Transformation
		d.Bounds = finiteBox(d.Transformation.ApplyBox(e.localBounds))
	}
	return copyDescriptor(d), nil
}

// Bounds merges the world bounds of every visible model.
func (s *Scene) Bounds() model.Box {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := model.EmptyBox()
	for _, id := range s.order {
		e := s.models[id]
		if !e.descriptor.Visible || e.localBounds.IsEmpty() {
			continue
		}
		b.Merge(e.descriptor.Bounds)
	}
	return finiteBox(b)
}

func (s *Scene) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}

func copyDescriptor(d *model.Descriptor) *model.Descriptor {
	c := *d
	return &c
}

// finiteBox collapses empty (infinite) boxes to the origin so they can be encoded as JSON.
func finiteBox(b model.Box) model.Box {
	if b.IsEmpty() {
		return model.Box{}
	}
	return b
}
