package domain

import (
	"context"
	"errors"
	"io"

	"fogmask/maskop"
	"fogmask/settings"
)

// ErrInvalidGesture is returned for gestures a tool cannot turn into
// operations.
var ErrInvalidGesture = errors.New("invalid gesture")

// Tool names accepted in gestures.
const (
	ToolBrush   = "brush"
	ToolBox     = "box"
	ToolEllipse = "ellipse"
	ToolGrid    = "grid"
	ToolPolygon = "polygon"
)

// Gesture is one pointer interaction of a drawing tool. Square constrains
// box and ellipse drags.
type Gesture struct {
	Tool   string  `json:"tool"`
	Points []Point `json:"points"`
	Square bool    `json:"square,omitempty"`
}

// Viewer is the user a request is made for.
type Viewer struct {
	UserID string `json:"userId"`
	GM     bool   `json:"gm"`
}

// Event types pushed to connected clients.
const (
	EventHistory   = "history"
	EventPainted   = "painted"
	EventCancelled = "cancelled"
	EventReset     = "reset"
	EventSettings  = "settings"
	EventAlpha     = "alpha"

	// EventVisibility carries the placeables whose visibility was updated
	// after the mask changed.
	EventVisibility = "visibility"
)

// Event is a scene scoped notification for clients.
type Event struct {
	Type    string `json:"type"`
	SceneID string `json:"sceneId"`
	Payload any    `json:"payload,omitempty"`
}

// EventPublisher delivers events to clients.
type EventPublisher interface {
	Publish(event Event)
}

// FogUseCase is the fog of war application service.
type FogUseCase interface {
	CreateScene(ctx context.Context, name string, width, height, gridSize int) (*Scene, error)
	GetScene(ctx context.Context, id string) (*Scene, error)
	ListScenes(ctx context.Context) ([]*Scene, error)

	Paint(ctx context.Context, sceneID string, ops []maskop.Operation) error
	PaintGesture(ctx context.Context, sceneID, userID string, g Gesture) (int, error)
	Commit(ctx context.Context, sceneID string) error
	Undo(ctx context.Context, sceneID string, steps int) error
	Reset(ctx context.Context, sceneID string) error
	Blank(ctx context.Context, sceneID string) error
	Cancel(ctx context.Context, sceneID string) error
	History(ctx context.Context, sceneID string) (*maskop.OperationLog, error)
	ExportMask(ctx context.Context, sceneID string, viewer Viewer, w io.Writer) error

	Visibility(ctx context.Context, sceneID string, viewer Viewer) ([]*Placeable, error)
	AddPlaceable(ctx context.Context, p *Placeable) error

	Settings(ctx context.Context, sceneID, userID string) (settings.Scene, error)
	UpdateSettings(ctx context.Context, sceneID string, patch []byte) (settings.Scene, error)
	UpdateUserSettings(ctx context.Context, userID string, patch []byte) error
}
