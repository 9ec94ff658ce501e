package memory

import (
	"sort"
	"sync"

	"fogmask/internal/domain"
)

// PlaceableRepository is an in-memory implementation of domain.PlaceableRepository
type PlaceableRepository struct {
	placeables map[string]*domain.Placeable
	mu         sync.RWMutex
}

// NewPlaceableRepository creates a new in-memory placeable repository
func NewPlaceableRepository() *PlaceableRepository {
	return &PlaceableRepository{
		placeables: make(map[string]*domain.Placeable),
	}
}

// Save creates or replaces a placeable
func (r *PlaceableRepository) Save(p *domain.Placeable) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.placeables[p.ID] = clonePlaceable(p)
	return nil
}

func (r *PlaceableRepository) Get(id string) (*domain.Placeable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.placeables[id]
	if !exists {
		return nil, domain.ErrPlaceableNotFound
	}
	return clonePlaceable(p), nil
}

// ListByScene returns the placeables of a scene ordered by id
func (r *PlaceableRepository) ListByScene(sceneID string) ([]*domain.Placeable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Placeable, 0)
	for _, p := range r.placeables {
		if p.SceneID == sceneID {
			out = append(out, clonePlaceable(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *PlaceableRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.placeables[id]; !exists {
		return domain.ErrPlaceableNotFound
	}
	delete(r.placeables, id)
	return nil
}

func clonePlaceable(p *domain.Placeable) *domain.Placeable {
	c := *p
	if p.Position != nil {
		pos := *p.Position
		c.Position = &pos
	}
	if p.Door != nil {
		door := *p.Door
		if p.Door.Position != nil {
			pos := *p.Door.Position
			door.Position = &pos
		}
		c.Door = &door
	}
	c.Observers = append([]string(nil), p.Observers...)
	return &c
}
