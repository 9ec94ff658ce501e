// Package migration upgrades persisted scene data. A schema version counter
// stored alongside the scenes makes every step run exactly once.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"fogmask/engine"
	"fogmask/maskop"
	"fogmask/settings"
	"fogmask/transport"
)

var logger = logging.Logger("fogmask/migration")

const (
	// SystemScope holds module wide state and is never migrated itself.
	SystemScope = "_system"
	// VersionKey is the key of the schema version counter.
	VersionKey = "schemaVersion"
)

var ErrNoLister = errors.New("transport cannot enumerate scenes")

// Store is what migrations need from the transport.
type Store interface {
	transport.Transport
	transport.Lister
}

type step struct {
	version int
	name    string
	run     func(ctx context.Context, s Store, scope string) (bool, error)
}

var steps = []step{
	{1, "normalize operation history", normalizeHistory},
	{2, "rename legacy settings", renameSettings},
}

// Latest is the schema version after every migration ran.
func Latest() int {
	return steps[len(steps)-1].version
}

// Version reads the stored schema version. Missing means zero.
func Version(ctx context.Context, t transport.Transport) (int, error) {
	data, err := t.Get(ctx, SystemScope, VersionKey)
	if errors.Is(err, transport.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q: %w", data, err)
	}
	return v, nil
}

// Run applies every pending migration to every scene and returns the
// version the store ended at. The counter advances after each completed
// step, so a failure resumes from that step next time.
func Run(ctx context.Context, t transport.Transport) (int, error) {
	s, ok := t.(Store)
	if !ok {
		return 0, ErrNoLister
	}

	version, err := Version(ctx, s)
	if err != nil {
		return 0, err
	}
	if version >= Latest() {
		logger.Debugf("schema is at version %d, nothing to migrate", version)
		return version, nil
	}

	scopes, err := s.Scopes(ctx)
	if err != nil {
		return version, fmt.Errorf("failed to list scenes: %w", err)
	}

	for _, st := range steps {
		if st.version <= version {
			continue
		}
		logger.Infof("Performing migration #%d: %s", st.version, st.name)

		changed := 0
		for _, scope := range scopes {
			if scope == SystemScope || strings.HasPrefix(scope, settings.UserScope("")) {
				continue
			}
			ok, err := st.run(ctx, s, scope)
			if err != nil {
				return version, fmt.Errorf("migration %d failed on %s: %w", st.version, scope, err)
			}
			if ok {
				changed++
			}
		}

		if err := s.Set(ctx, SystemScope, VersionKey, []byte(strconv.Itoa(st.version))); err != nil {
			return version, fmt.Errorf("failed to store schema version %d: %w", st.version, err)
		}
		version = st.version
		logger.Infof("migration #%d done, %d scenes changed", st.version, changed)
	}
	return version, nil
}

// normalizeHistory rewrites legacy operation encodings in place.
func normalizeHistory(ctx context.Context, s Store, scope string) (bool, error) {
	raw, err := s.Get(ctx, scope, engine.HistoryKey)
	if errors.Is(err, transport.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log, changed, err := maskop.Normalize(raw)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	data, err := maskop.Encode(log)
	if err != nil {
		return false, err
	}
	return true, s.Set(ctx, scope, engine.HistoryKey, data)
}

type rename struct {
	from, to string
	// setDefault writes the default when neither key exists.
	setDefault bool
}

var renames = []rename{
	{"gmAlpha", settings.KeyGMColorAlpha, true},
	{"gmTint", settings.KeyGMColorTint, true},
	{"playerAlpha", settings.KeyPlayerColorAlpha, true},
	{"playerTint", settings.KeyPlayerColorTint, true},
	{"layerZindex", settings.KeyFogImageOverlayZIndex, true},
	{"fogTextureFilePath", settings.KeyFogImageOverlayFilePath, false},
}

// renameSettings moves legacy setting names to their current ones and pins
// the defaults for the renamed keys otherwise.
func renameSettings(ctx context.Context, s Store, scope string) (bool, error) {
	raw := map[string]json.RawMessage{}
	data, err := s.Get(ctx, scope, settings.StorageKey)
	switch {
	case errors.Is(err, transport.ErrNotFound):
	case err != nil:
		return false, err
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return false, fmt.Errorf("invalid settings object: %w", err)
		}
	}

	defaults, err := defaultValues()
	if err != nil {
		return false, err
	}

	changed := false
	for _, r := range renames {
		if v, ok := raw[r.from]; ok {
			raw[r.to] = v
			delete(raw, r.from)
			changed = true
			continue
		}
		if _, ok := raw[r.to]; !ok && r.setDefault {
			raw[r.to] = defaults[r.to]
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	out, err := json.Marshal(raw)
	if err != nil {
		return false, err
	}
	return true, s.Set(ctx, scope, settings.StorageKey, out)
}

func defaultValues() (map[string]json.RawMessage, error) {
	data, err := settings.Encode(settings.Defaults())
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	return out, json.Unmarshal(data, &out)
}
