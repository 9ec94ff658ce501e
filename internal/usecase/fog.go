package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"fogmask/brush"
	"fogmask/engine"
	"fogmask/internal/domain"
	"fogmask/maskop"
	"fogmask/raster"
	"fogmask/settings"
	"fogmask/transition"
	"fogmask/transport"
	"fogmask/visibility"
)

var logger = logging.Logger("fogmask/usecase")

// FogUseCase implements domain.FogUseCase. Every scene gets its own engine
// and surface, created on first use and kept until Close.
type FogUseCase struct {
	ctx        context.Context
	transport  transport.Transport
	settings   *settings.Store
	sceneRepo  domain.SceneRepository
	placeables domain.PlaceableRepository
	engineOpts []engine.Option

	mu     sync.Mutex
	scenes map[string]*sceneState

	pubMu      sync.RWMutex
	publishers []domain.EventPublisher
}

var _ domain.FogUseCase = (*FogUseCase)(nil)

type sceneState struct {
	scene   *domain.Scene
	surface *raster.Pixmap
	engine  *engine.Engine
	unobs   func()

	gmFade     transition.Runner
	playerFade transition.Runner

	mu          sync.Mutex
	gmAlpha     float64
	playerAlpha float64
	// polygons holds open polygon tool clicks per user.
	polygons map[string]*brush.PolygonBuilder
	// grids remembers the cells each user painted since the last commit.
	grids map[string]*brush.GridPainter
}

// NewFogUseCase creates the fog service. ctx bounds the lifetime of the
// per scene engines.
func NewFogUseCase(ctx context.Context, t transport.Transport, sceneRepo domain.SceneRepository, placeables domain.PlaceableRepository, opts ...engine.Option) *FogUseCase {
	return &FogUseCase{
		ctx:        ctx,
		transport:  t,
		settings:   settings.NewStore(t),
		sceneRepo:  sceneRepo,
		placeables: placeables,
		engineOpts: opts,
		scenes:     make(map[string]*sceneState),
	}
}

// AddPublisher registers a client facing event sink.
func (uc *FogUseCase) AddPublisher(p domain.EventPublisher) {
	uc.pubMu.Lock()
	defer uc.pubMu.Unlock()
	uc.publishers = append(uc.publishers, p)
}

func (uc *FogUseCase) publish(ev domain.Event) {
	uc.pubMu.RLock()
	defer uc.pubMu.RUnlock()
	for _, p := range uc.publishers {
		p.Publish(ev)
	}
}

// CreateScene registers a new scene.
func (uc *FogUseCase) CreateScene(ctx context.Context, name string, width, height, gridSize int) (*domain.Scene, error) {
	scene, err := domain.NewScene(uuid.New().String(), name, width, height, gridSize)
	if err != nil {
		return nil, err
	}
	if err := uc.sceneRepo.Create(scene); err != nil {
		return nil, err
	}
	logger.Infof("scene %s created (%dx%d, grid %d)", scene.ID, width, height, gridSize)
	return scene, nil
}

func (uc *FogUseCase) GetScene(ctx context.Context, id string) (*domain.Scene, error) {
	return uc.sceneRepo.Get(id)
}

func (uc *FogUseCase) ListScenes(ctx context.Context) ([]*domain.Scene, error) {
	return uc.sceneRepo.List()
}

// state returns the live state of a scene, starting its engine if needed.
func (uc *FogUseCase) state(ctx context.Context, sceneID string) (*sceneState, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if st, ok := uc.scenes[sceneID]; ok {
		return st, nil
	}

	scene, err := uc.sceneRepo.Get(sceneID)
	if err != nil {
		return nil, err
	}

	cfg, err := uc.settings.Resolve(ctx, sceneID, "")
	if err != nil {
		return nil, err
	}

	surface, err := raster.NewPixmap(scene.Width, scene.Height)
	if err != nil {
		return nil, err
	}

	e, err := engine.New(scene.ID, surface, uc.transport, uc.engineOpts...)
	if err != nil {
		surface.Close()
		return nil, err
	}

	st := &sceneState{
		scene:       scene,
		surface:     surface,
		engine:      e,
		gmAlpha:     cfg.GMColorAlpha,
		playerAlpha: cfg.PlayerColorAlpha,
		polygons:    make(map[string]*brush.PolygonBuilder),
		grids:       make(map[string]*brush.GridPainter),
	}
	// Start notifies while uc.mu is held, so the observer gets st directly.
	st.unobs = e.Observe(func(ev engine.Event) { uc.forward(st, ev) })

	if err := e.Start(uc.ctx); err != nil {
		st.close()
		return nil, fmt.Errorf("failed to start scene %s: %w", sceneID, err)
	}

	uc.scenes[sceneID] = st
	logger.Debugf("scene %s loaded at pointer %d", sceneID, e.AppliedPointer())
	return st, nil
}

// forward turns engine events into client events. Replays and resets
// change the rendered history, so auto-visibility is re-evaluated after them.
func (uc *FogUseCase) forward(st *sceneState, ev engine.Event) {
	payload := map[string]int{"pointer": ev.Pointer, "operations": ev.Operations}
	switch ev.Kind {
	case engine.EventPainted:
		uc.publish(domain.Event{Type: domain.EventPainted, SceneID: ev.Scene, Payload: payload})
	case engine.EventCommitted:
		uc.publish(domain.Event{Type: domain.EventHistory, SceneID: ev.Scene, Payload: payload})
	case engine.EventReplayed:
		uc.publish(domain.Event{Type: domain.EventHistory, SceneID: ev.Scene, Payload: payload})
		uc.autoVisibility(st)
	case engine.EventReset:
		uc.publish(domain.Event{Type: domain.EventReset, SceneID: ev.Scene, Payload: payload})
		uc.autoVisibility(st)
	case engine.EventCancelled:
		uc.publish(domain.Event{Type: domain.EventCancelled, SceneID: ev.Scene, Payload: payload})
	}
}

// autoVisibility runs the pass for players, whose view is the one stored on
// placeables, and publishes what changed. GM views are resolved on request.
func (uc *FogUseCase) autoVisibility(st *sceneState) {
	cfg, err := uc.settings.Resolve(uc.ctx, st.scene.ID, "")
	if err != nil {
		logger.Warnf("scene %s: failed to resolve settings for auto-visibility: %v", st.scene.ID, err)
		return
	}
	if !cfg.Visible || !cfg.AutoVisibility {
		return
	}

	list, n, err := uc.runVisibility(st, cfg, domain.Viewer{})
	if err != nil {
		logger.Warnf("scene %s: auto-visibility failed: %v", st.scene.ID, err)
		return
	}
	if n > 0 {
		uc.publish(domain.Event{Type: domain.EventVisibility, SceneID: st.scene.ID, Payload: list})
	}
}

// Paint applies operations live. They persist on the next Commit.
func (uc *FogUseCase) Paint(ctx context.Context, sceneID string, ops []maskop.Operation) error {
	st, err := uc.state(ctx, sceneID)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := st.engine.PaintLive(op); err != nil {
			return err
		}
	}
	return nil
}

// PaintGesture turns a tool gesture into live operations using the
// settings in effect for userID and returns how many were painted.
func (uc *FogUseCase) PaintGesture(ctx context.Context, sceneID, userID string, g domain.Gesture) (int, error) {
	st, err := uc.state(ctx, sceneID)
	if err != nil {
		return 0, err
	}
	cfg, err := uc.settings.Resolve(ctx, sceneID, userID)
	if err != nil {
		return 0, err
	}

	ops, err := st.gestureOps(userID, g, cfg)
	if err != nil {
		return 0, err
	}
	for _, op := range ops {
		if err := st.engine.PaintLive(op); err != nil {
			return 0, err
		}
	}
	return len(ops), nil
}

func (st *sceneState) gestureOps(userID string, g domain.Gesture, cfg settings.Scene) ([]maskop.Operation, error) {
	if len(g.Points) == 0 {
		return nil, fmt.Errorf("%w: no points", domain.ErrInvalidGesture)
	}
	fill := cfg.BrushFill()
	pts := make([]brush.Point, len(g.Points))
	for i, p := range g.Points {
		pts[i] = brush.Point{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
	}

	switch g.Tool {
	case domain.ToolBrush:
		ops := make([]maskop.Operation, 0, len(pts))
		for _, p := range pts {
			ops = append(ops, brush.Dab(p.X, p.Y, cfg.BrushSize, fill))
		}
		return ops, nil

	case domain.ToolBox, domain.ToolEllipse:
		if len(pts) < 2 {
			return nil, fmt.Errorf("%w: %s needs a start and an end point", domain.ErrInvalidGesture, g.Tool)
		}
		start, end := pts[0], pts[len(pts)-1]
		if g.Tool == domain.ToolBox {
			return []maskop.Operation{brush.BoxFromDrag(start.X, start.Y, end.X, end.Y, g.Square, fill)}, nil
		}
		return []maskop.Operation{brush.EllipseFromDrag(start.X, start.Y, end.X, end.Y, g.Square, fill)}, nil

	case domain.ToolGrid:
		if st.scene.GridSize <= 0 {
			return nil, fmt.Errorf("%w: scene has no grid", domain.ErrInvalidGesture)
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		painter, ok := st.grids[userID]
		if !ok {
			painter = brush.NewGridPainter(brush.SquareGrid{Size: st.scene.GridSize})
			st.grids[userID] = painter
		}
		var ops []maskop.Operation
		for _, p := range pts {
			if op, ok := painter.Paint(p.X, p.Y, fill); ok {
				ops = append(ops, op)
			}
		}
		return ops, nil

	case domain.ToolPolygon:
		st.mu.Lock()
		defer st.mu.Unlock()
		b, ok := st.polygons[userID]
		if !ok {
			b = brush.NewPolygonBuilder(cfg.HandleSize)
			st.polygons[userID] = b
		}
		var ops []maskop.Operation
		for _, p := range pts {
			if op, closed := b.Click(p.X, p.Y, fill); closed {
				ops = append(ops, op)
			}
		}
		return ops, nil
	}
	return nil, fmt.Errorf("%w: unknown tool %q", domain.ErrInvalidGesture, g.Tool)
}

// Commit persists the operations painted since the last commit. Grid cells
// can be painted again afterwards.
func (uc *FogUseCase) Commit(ctx context.Context, sceneID string) error {
	st, err := uc.state(ctx, sceneID)
	if err != nil {
		return err
	}
	if err := st.engine.Commit(ctx); err != nil {
		return err
	}
	st.mu.Lock()
	st.grids = make(map[string]*brush.GridPainter)
	st.mu.Unlock()
	return nil
}

func (uc *FogUseCase) Undo(ctx context.Context, sceneID string, steps int) error {
	st, err := uc.state(ctx, sceneID)
	if err != nil {
		return err
	}
	return st.engine.Undo(ctx, steps)
}

func (uc *FogUseCase) Reset(ctx context.Context, sceneID string) error {
	st, err := uc.state(ctx, sceneID)
	if err != nil {
		return err
	}
	return st.engine.Reset(ctx, true)
}

func (uc *FogUseCase) Blank(ctx context.Context, sceneID string) error {
	st, err := uc.state(ctx, sceneID)
	if err != nil {
		return err
	}
	return st.engine.Blank(ctx)
}

// Cancel drops uncommitted operations, open polygons and painted grid cells.
func (uc *FogUseCase) Cancel(ctx context.Context, sceneID string) error {
	st, err := uc.state(ctx, sceneID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.polygons = make(map[string]*brush.PolygonBuilder)
	st.grids = make(map[string]*brush.GridPainter)
	st.mu.Unlock()
	return st.engine.Cancel()
}

func (uc *FogUseCase) History(ctx context.Context, sceneID string) (*maskop.OperationLog, error) {
	st, err := uc.state(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	return st.engine.Log(ctx)
}

// ExportMask writes the fog overlay the viewer sees as PNG.
func (uc *FogUseCase) ExportMask(ctx context.Context, sceneID string, viewer domain.Viewer, w io.Writer) error {
	st, err := uc.state(ctx, sceneID)
	if err != nil {
		return err
	}
	cfg, err := uc.settings.Resolve(ctx, sceneID, viewer.UserID)
	if err != nil {
		return err
	}

	gmAlpha, playerAlpha := st.alphas()
	opts := raster.OverlayOptions{
		Tint:   cfg.PlayerColorTint,
		Alpha:  playerAlpha,
		Width:  st.scene.Width,
		Height: st.scene.Height,
	}
	if viewer.GM {
		opts.Tint = cfg.GMColorTint
		opts.Alpha = gmAlpha
	}
	if !cfg.Visible {
		opts.Alpha = 0
	}
	if cfg.BlurEnable {
		opts.BlurRadius = cfg.BlurRadius
	}

	return raster.EncodePNG(w, raster.Overlay(st.surface.Image(), opts))
}

// Visibility runs auto-visibility for the viewer over the placeables of the
// scene, stores the result and returns the placeables.
func (uc *FogUseCase) Visibility(ctx context.Context, sceneID string, viewer domain.Viewer) ([]*domain.Placeable, error) {
	st, err := uc.state(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	cfg, err := uc.settings.Resolve(ctx, sceneID, viewer.UserID)
	if err != nil {
		return nil, err
	}
	list, _, err := uc.runVisibility(st, cfg, viewer)
	return list, err
}

// runVisibility applies the pass for viewer and saves the placeables when
// any of them was updated.
func (uc *FogUseCase) runVisibility(st *sceneState, cfg settings.Scene, viewer domain.Viewer) ([]*domain.Placeable, int, error) {
	list, err := uc.placeables.ListByScene(st.scene.ID)
	if err != nil {
		return nil, 0, err
	}

	var objs visibility.Objects
	for _, p := range list {
		v := placeableView{p: p, viewer: viewer.UserID}
		switch p.Kind {
		case domain.PlaceableToken:
			objs.Tokens = append(objs.Tokens, v)
		case domain.PlaceableNote:
			objs.Notes = append(objs.Notes, v)
		case domain.PlaceableWall:
			if p.IsDoor() {
				objs.Walls = append(objs.Walls, doorView{v})
			} else {
				objs.Walls = append(objs.Walls, v)
			}
		}
	}

	n := visibility.Pass(cfg, visibility.Viewer{GM: viewer.GM}, st.surface, st.scene.GridSize, objs)
	if n > 0 {
		for _, p := range list {
			if err := uc.placeables.Save(p); err != nil {
				return nil, 0, err
			}
		}
	}
	return list, n, nil
}

// AddPlaceable stores a placeable of an existing scene.
func (uc *FogUseCase) AddPlaceable(ctx context.Context, p *domain.Placeable) error {
	if _, err := uc.sceneRepo.Get(p.SceneID); err != nil {
		return err
	}
	return uc.placeables.Save(p)
}

// Settings resolves scene, user and default settings.
func (uc *FogUseCase) Settings(ctx context.Context, sceneID, userID string) (settings.Scene, error) {
	if _, err := uc.sceneRepo.Get(sceneID); err != nil {
		return settings.Scene{}, err
	}
	return uc.settings.Resolve(ctx, sceneID, userID)
}

// UpdateSettings patches the scene settings. Alpha changes fade in when
// transitions are on.
func (uc *FogUseCase) UpdateSettings(ctx context.Context, sceneID string, patch []byte) (settings.Scene, error) {
	st, err := uc.state(ctx, sceneID)
	if err != nil {
		return settings.Scene{}, err
	}
	if err := uc.settings.Update(ctx, sceneID, patch); err != nil {
		return settings.Scene{}, err
	}
	cfg, err := uc.settings.Resolve(ctx, sceneID, "")
	if err != nil {
		return settings.Scene{}, err
	}

	uc.fade(st, cfg)
	uc.publish(domain.Event{Type: domain.EventSettings, SceneID: sceneID, Payload: cfg})
	return cfg, nil
}

func (uc *FogUseCase) fade(st *sceneState, cfg settings.Scene) {
	gm, player := st.alphas()
	duration := time.Duration(cfg.TransitionSpeed) * time.Millisecond

	if gm != cfg.GMColorAlpha {
		st.gmFade.Run(uc.ctx, transition.Task{Start: gm, End: cfg.GMColorAlpha, Duration: duration}, cfg.Transition, func(v float64) {
			st.mu.Lock()
			st.gmAlpha = v
			st.mu.Unlock()
			uc.publish(domain.Event{Type: domain.EventAlpha, SceneID: st.scene.ID, Payload: map[string]any{"gm": true, "alpha": v}})
		})
	}
	if player != cfg.PlayerColorAlpha {
		st.playerFade.Run(uc.ctx, transition.Task{Start: player, End: cfg.PlayerColorAlpha, Duration: duration}, cfg.Transition, func(v float64) {
			st.mu.Lock()
			st.playerAlpha = v
			st.mu.Unlock()
			uc.publish(domain.Event{Type: domain.EventAlpha, SceneID: st.scene.ID, Payload: map[string]any{"gm": false, "alpha": v}})
		})
	}
}

// UpdateUserSettings patches the per user overrides.
func (uc *FogUseCase) UpdateUserSettings(ctx context.Context, userID string, patch []byte) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", settings.ErrInvalid)
	}
	if !json.Valid(patch) {
		return fmt.Errorf("%w: patch is not JSON", settings.ErrInvalid)
	}
	return uc.settings.Update(ctx, settings.UserScope(userID), patch)
}

// WaitTransitions blocks until running alpha fades of a scene are done.
func (uc *FogUseCase) WaitTransitions(sceneID string) {
	uc.mu.Lock()
	st, ok := uc.scenes[sceneID]
	uc.mu.Unlock()
	if ok {
		st.gmFade.Wait()
		st.playerFade.Wait()
	}
}

// Close stops every scene engine.
func (uc *FogUseCase) Close() error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	for id, st := range uc.scenes {
		st.close()
		delete(uc.scenes, id)
	}
	return nil
}

func (st *sceneState) alphas() (gm, player float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gmAlpha, st.playerAlpha
}

func (st *sceneState) close() {
	st.gmFade.Cancel()
	st.playerFade.Cancel()
	st.engine.Stop()
	if st.unobs != nil {
		st.unobs()
	}
	if err := st.surface.Close(); err != nil {
		logger.Warnf("scene %s: failed to close surface: %v", st.scene.ID, err)
	}
}

// placeableView exposes a domain placeable to the visibility pass.
type placeableView struct {
	p      *domain.Placeable
	viewer string
}

func (v placeableView) Position() (float64, float64, bool) {
	if v.p.Position == nil {
		return 0, 0, false
	}
	return v.p.Position.X, v.p.Position.Y, true
}

func (v placeableView) SetVisible(visible bool) { v.p.Visible = visible }

func (v placeableView) Observed() bool { return v.p.ObservedBy(v.viewer) }

type doorView struct {
	placeableView
}

func (d doorView) Control() visibility.Placeable {
	return controlView{d.p.Door}
}

type controlView struct {
	c *domain.DoorControl
}

func (c controlView) Position() (float64, float64, bool) {
	if c.c.Position == nil {
		return 0, 0, false
	}
	return c.c.Position.X, c.c.Position.Y, true
}

func (c controlView) SetVisible(visible bool) { c.c.Visible = visible }
