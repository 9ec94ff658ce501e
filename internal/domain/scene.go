package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSceneNotFound = errors.New("scene not found")
	ErrSceneExists   = errors.New("scene already exists")
	ErrInvalidScene  = errors.New("invalid scene")
)

// Scene is a map the fog mask covers.
type Scene struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	GridSize  int       `json:"gridSize"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewScene creates a scene of width by height pixels.
func NewScene(id, name string, width, height, gridSize int) (*Scene, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidScene)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrInvalidScene, width, height)
	}
	if gridSize < 0 {
		return nil, fmt.Errorf("%w: negative grid size", ErrInvalidScene)
	}
	now := time.Now()
	return &Scene{
		ID:        id,
		Name:      name,
		Width:     width,
		Height:    height,
		GridSize:  gridSize,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SceneRepository stores scene metadata.
type SceneRepository interface {
	Create(scene *Scene) error
	Get(id string) (*Scene, error)
	Update(scene *Scene) error
	Delete(id string) error
	List() ([]*Scene, error)
}
