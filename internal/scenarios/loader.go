// Package scenarios loads recorded incident log bundles from the object store.
package scenarios

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"rca-backend/internal/incident"
	"rca-backend/internal/shared/storage/object"
	"rca-backend/internal/shared/util"
)

// ErrUnknownScenario is returned when a scenario has no log file for any tier.
var ErrUnknownScenario = errors.New("scenario not found")

// DefaultRoot is the key prefix scenarios live under in the shared object store.
const DefaultRoot = "scenarios"

// Loader reads <root>/<name>/<tier>.log keys. An empty Root means DefaultRoot.
type Loader struct {
	Store object.ObjectStore
	Root  string
}

// Key returns the storage key of one tier log under DefaultRoot.
func Key(name string, tier incident.Tier) string {
	return keyUnder(DefaultRoot, name, tier)
}

func keyUnder(root, name string, tier incident.Tier) string {
	return path.Join(root, name, string(tier)+".log")
}

// Load returns the tier logs of a scenario. Missing tier files load as "".
func (l *Loader) Load(ctx context.Context, name string) (map[incident.Tier]string, error) {
	if l == nil || l.Store == nil {
		return nil, errors.New("scenario store not configured")
	}
	clean, err := util.SanitizeName(name)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", name, err)
	}

	root := l.Root
	if root == "" {
		root = DefaultRoot
	}
	logs := make(map[incident.Tier]string, len(incident.Tiers()))
	found := 0
	for _, tier := range incident.Tiers() {
		data, err := object.ReadAll(ctx, l.Store, keyUnder(root, clean, tier))
		switch {
		case errors.Is(err, object.ErrNotFound):
			logs[tier] = ""
			continue
		case err != nil:
			return nil, fmt.Errorf("read %s log: %w", tier, err)
		}
		logs[tier] = string(data)
		found++
	}
	if found == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, clean)
	}
	return logs, nil
}

// Merge overlays non-blank inline logs on top of scenario logs.
func Merge(base map[incident.Tier]string, inline map[incident.Tier]string) map[incident.Tier]string {
	out := make(map[incident.Tier]string, len(incident.Tiers()))
	for tier, text := range base {
		out[tier] = text
	}
	for tier, text := range inline {
		if strings.TrimSpace(text) != "" {
			out[tier] = text
		}
	}
	return out
}
