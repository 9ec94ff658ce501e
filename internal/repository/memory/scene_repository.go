package memory

import (
	"sort"
	"sync"

	"fogmask/internal/domain"
)

// SceneRepository is an in-memory implementation of domain.SceneRepository
type SceneRepository struct {
	scenes map[string]*domain.Scene
	mu     sync.RWMutex
}

// NewSceneRepository creates a new in-memory scene repository
func NewSceneRepository() *SceneRepository {
	return &SceneRepository{
		scenes: make(map[string]*domain.Scene),
	}
}

func (r *SceneRepository) Create(scene *domain.Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scenes[scene.ID]; exists {
		return domain.ErrSceneExists
	}
	c := *scene
	r.scenes[scene.ID] = &c
	return nil
}

func (r *SceneRepository) Get(id string) (*domain.Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scene, exists := r.scenes[id]
	if !exists {
		return nil, domain.ErrSceneNotFound
	}
	c := *scene
	return &c, nil
}

func (r *SceneRepository) Update(scene *domain.Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scenes[scene.ID]; !exists {
		return domain.ErrSceneNotFound
	}
	c := *scene
	r.scenes[scene.ID] = &c
	return nil
}

func (r *SceneRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scenes[id]; !exists {
		return domain.ErrSceneNotFound
	}
	delete(r.scenes, id)
	return nil
}

// List returns all scenes ordered by creation time
func (r *SceneRepository) List() ([]*domain.Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scenes := make([]*domain.Scene, 0, len(r.scenes))
	for _, scene := range r.scenes {
		c := *scene
		scenes = append(scenes, &c)
	}
	sort.Slice(scenes, func(i, j int) bool {
		if scenes[i].CreatedAt.Equal(scenes[j].CreatedAt) {
			return scenes[i].ID < scenes[j].ID
		}
		return scenes[i].CreatedAt.Before(scenes[j].CreatedAt)
	})
	return scenes, nil
}
