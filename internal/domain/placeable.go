package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPlaceableNotFound = errors.New("placeable not found")
	ErrInvalidPlaceable  = errors.New("invalid placeable")
)

// PlaceableKind is the layer an object lives on.
type PlaceableKind string

const (
	PlaceableToken PlaceableKind = "token"
	PlaceableNote  PlaceableKind = "note"
	PlaceableWall  PlaceableKind = "wall"
)

// Point is a scene coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DoorControl is the icon through which a door is shown and toggled.
type DoorControl struct {
	Position *Point `json:"position,omitempty"`
	Visible  bool   `json:"visible"`
}

// Placeable is a scene object whose visibility follows the mask.
type Placeable struct {
	ID      string        `json:"id"`
	SceneID string        `json:"sceneId"`
	Kind    PlaceableKind `json:"kind"`
	// Position is the top-left corner; nil when the object is not placed.
	Position *Point `json:"position,omitempty"`
	// Door is only meaningful for walls.
	Door    *DoorControl `json:"door,omitempty"`
	// Observers are the users with observer permission on the object.
	Observers []string `json:"observers,omitempty"`
	Visible   bool     `json:"visible"`
}

// Validate checks kind specific constraints.
func (p *Placeable) Validate() error {
	if p.ID == "" || p.SceneID == "" {
		return fmt.Errorf("%w: id and sceneId are required", ErrInvalidPlaceable)
	}
	switch p.Kind {
	case PlaceableToken, PlaceableNote:
		if p.Door != nil {
			return fmt.Errorf("%w: only walls can be doors", ErrInvalidPlaceable)
		}
	case PlaceableWall:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPlaceable, p.Kind)
	}
	return nil
}

// IsDoor reports whether the placeable is a door wall.
func (p *Placeable) IsDoor() bool {
	return p.Kind == PlaceableWall && p.Door != nil
}

// ObservedBy reports whether userID has observer permission.
func (p *Placeable) ObservedBy(userID string) bool {
	for _, id := range p.Observers {
		if id == userID {
			return true
		}
	}
	return false
}

// PlaceableRepository stores placeables per scene.
type PlaceableRepository interface {
	Save(p *Placeable) error
	Get(id string) (*Placeable, error)
	ListByScene(sceneID string) ([]*Placeable, error)
	Delete(id string) error
}
