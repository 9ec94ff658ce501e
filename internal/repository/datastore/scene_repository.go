package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsquery "github.com/ipfs/go-datastore/query"

	"fogmask/internal/domain"
)

// SceneRepository stores scene metadata in a go-datastore, so every server
// sharing the backend sees the same scenes.
type SceneRepository struct {
	store   ds.Datastore
	prefix  string
	timeout time.Duration
	mu      sync.RWMutex
	ctx     context.Context
}

// NewSceneRepository creates a repository writing under prefix + "/scenes".
func NewSceneRepository(ctx context.Context, store ds.Datastore, prefix string) *SceneRepository {
	return &SceneRepository{
		store:   store,
		prefix:  prefix,
		timeout: 10 * time.Second,
		ctx:     ctx,
	}
}

func (r *SceneRepository) key(id string) ds.Key {
	return ds.NewKey(r.prefix + "/scenes/" + id)
}

func (r *SceneRepository) Create(scene *domain.Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	exists, err := r.store.Has(ctx, r.key(scene.ID))
	if err != nil {
		return fmt.Errorf("failed to check if scene exists: %w", err)
	}
	if exists {
		return domain.ErrSceneExists
	}
	return r.put(ctx, scene)
}

func (r *SceneRepository) Get(id string) (*domain.Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	data, err := r.store.Get(ctx, r.key(id))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, domain.ErrSceneNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scene: %w", err)
	}

	var scene domain.Scene
	if err := json.Unmarshal(data, &scene); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scene: %w", err)
	}
	return &scene, nil
}

func (r *SceneRepository) Update(scene *domain.Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	exists, err := r.store.Has(ctx, r.key(scene.ID))
	if err != nil {
		return fmt.Errorf("failed to check if scene exists: %w", err)
	}
	if !exists {
		return domain.ErrSceneNotFound
	}
	scene.UpdatedAt = time.Now()
	return r.put(ctx, scene)
}

func (r *SceneRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	exists, err := r.store.Has(ctx, r.key(id))
	if err != nil {
		return fmt.Errorf("failed to check if scene exists: %w", err)
	}
	if !exists {
		return domain.ErrSceneNotFound
	}
	return r.store.Delete(ctx, r.key(id))
}

func (r *SceneRepository) List() ([]*domain.Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	results, err := r.store.Query(ctx, dsquery.Query{Prefix: r.prefix + "/scenes"})
	if err != nil {
		return nil, fmt.Errorf("failed to query scenes: %w", err)
	}
	defer results.Close()

	scenes := make([]*domain.Scene, 0)
	for result := range results.Next() {
		if result.Error != nil {
			return nil, fmt.Errorf("failed to read scene: %w", result.Error)
		}
		var scene domain.Scene
		if err := json.Unmarshal(result.Value, &scene); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scene %s: %w", result.Key, err)
		}
		scenes = append(scenes, &scene)
	}
	sort.Slice(scenes, func(i, j int) bool {
		if scenes[i].CreatedAt.Equal(scenes[j].CreatedAt) {
			return scenes[i].ID < scenes[j].ID
		}
		return scenes[i].CreatedAt.Before(scenes[j].CreatedAt)
	})
	return scenes, nil
}

func (r *SceneRepository) put(ctx context.Context, scene *domain.Scene) error {
	data, err := json.Marshal(scene)
	if err != nil {
		return fmt.Errorf("failed to marshal scene: %w", err)
	}
	if err := r.store.Put(ctx, r.key(scene.ID), data); err != nil {
		return fmt.Errorf("failed to store scene: %w", err)
	}
	return nil
}
