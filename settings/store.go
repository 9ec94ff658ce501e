package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"fogmask/transport"
)

var logger = logging.Logger("fogmask/settings")

// StorageKey is the transport key holding the settings object of a scope.
const StorageKey = "settings"

// UserScope returns the transport scope that holds a user's own settings.
func UserScope(userID string) string {
	return "user:" + userID
}

// Store reads and writes partial settings objects. Only explicitly set keys
// are persisted so that lower layers keep showing through.
type Store struct {
	t transport.Transport
}

func NewStore(t transport.Transport) *Store {
	return &Store{t: t}
}

// Raw returns the persisted keys of scope. A missing object is empty.
func (s *Store) Raw(ctx context.Context, scope string) (map[string]json.RawMessage, error) {
	data, err := s.t.Get(ctx, scope, StorageKey)
	if errors.Is(err, transport.ErrNotFound) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings of %s: %w", scope, err)
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, scope, err)
	}
	return raw, nil
}

// Resolve returns the effective settings for a scene as seen by a user:
// the scene value wins, then the user value, then the default. An empty
// userID skips the user layer.
func (s *Store) Resolve(ctx context.Context, scene, userID string) (Scene, error) {
	out := Defaults()

	if userID != "" {
		userRaw, err := s.Raw(ctx, UserScope(userID))
		if err != nil {
			return out, err
		}
		if err := applyRaw(&out, userRaw); err != nil {
			logger.Warnf("ignoring invalid user settings of %s: %v", userID, err)
			out = Defaults()
		}
	}

	sceneRaw, err := s.Raw(ctx, scene)
	if err != nil {
		return out, err
	}
	if err := applyRaw(&out, sceneRaw); err != nil {
		return out, err
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// Update merges patch into the persisted object of scope. The merged result
// must decode and validate before anything is written.
func (s *Store) Update(ctx context.Context, scope string, patch []byte) error {
	var delta map[string]json.RawMessage
	if err := json.Unmarshal(patch, &delta); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	raw, err := s.Raw(ctx, scope)
	if err != nil {
		return err
	}
	for k, v := range delta {
		if string(v) == "null" {
			delete(raw, k)
			continue
		}
		raw[k] = v
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if _, err := Decode(data); err != nil {
		return err
	}
	if err := s.t.Set(ctx, scope, StorageKey, data); err != nil {
		return fmt.Errorf("failed to write settings of %s: %w", scope, err)
	}
	logger.Debugf("updated %d settings of %s", len(delta), scope)
	return nil
}
