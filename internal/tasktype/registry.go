package tasktype

import (
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"crowdtask-api/internal/apperror"
)

// ErrIDCollision is wrapped by the error Register returns when an enabled
// plugin already holds the id.
var ErrIDCollision = errors.New("id collision")

var idPattern = regexp.MustCompile(`^[-_a-zA-Z0-9]+$`)

type entry struct {
	plugin  Plugin
	enabled bool
}

// Registry maps task type ids to plugins. It is safe for concurrent use so
// plugins can be added, replaced and removed while requests are served.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]entry
	log     *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{plugins: make(map[string]entry), log: log}
}

func validateMeta(m Meta) error {
	if !idPattern.MatchString(m.ID) {
		return apperror.Config("Invalid task type id " + `"` + m.ID + `"`)
	}
	if m.Name == "" {
		return apperror.Config("Task type " + m.ID + " has no name")
	}
	return nil
}

// Register adds p. It fails when the meta is malformed, or when a different
// enabled plugin already holds the id. A disabled holder is overwritten.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return apperror.Config("Task type is nil")
	}
	m := p.Meta()
	if err := validateMeta(m); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.plugins[m.ID]; ok && cur.enabled && cur.plugin != p {
		return &apperror.Error{Kind: apperror.KindConfig, Message: "Id collision: " + m.ID, Err: ErrIDCollision}
	}
	r.plugins[m.ID] = entry{plugin: p, enabled: m.Enabled}
	r.log.Info("task type registered", "id", m.ID, "enabled", m.Enabled)
	return nil
}

// Replace swaps in p regardless of what holds the id.
func (r *Registry) Replace(p Plugin) error {
	if p == nil {
		return apperror.Config("Task type is nil")
	}
	m := p.Meta()
	if err := validateMeta(m); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[m.ID] = entry{plugin: p, enabled: m.Enabled}
	r.log.Info("task type replaced", "id", m.ID, "enabled", m.Enabled)
	return nil
}

// Load registers every plugin. Failures are logged and skipped.
func (r *Registry) Load(plugins ...Plugin) int {
	loaded := 0
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			r.log.Error("failed to load task type", "error", err)
			continue
		}
		loaded++
	}
	return loaded
}

// Remove reports whether the id was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[id]; !ok {
		return false
	}
	delete(r.plugins, id)
	r.log.Info("task type removed", "id", id)
	return true
}

func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.plugins[id]
	if !ok {
		return apperror.NotFound("Task type not found")
	}
	cur.enabled = enabled
	r.plugins[id] = cur
	return nil
}

// Lookup returns the plugin whether or not it is enabled.
func (r *Registry) Lookup(id string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.plugins[id]
	if !ok {
		return nil, apperror.NotFound("Task type not found")
	}
	return cur.plugin, nil
}

// Enabled returns the plugin only when it is registered and enabled.
func (r *Registry) Enabled(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.plugins[id]
	if !ok || !cur.enabled {
		return nil, false
	}
	return cur.plugin, true
}

// EnabledIDs lists enabled type ids in order.
func (r *Registry) EnabledIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.plugins))
	for id, e := range r.plugins {
		if e.enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// List returns the meta of every registered plugin sorted by id, with
// Enabled reflecting the current state.
func (r *Registry) List() []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	metas := make([]Meta, 0, len(r.plugins))
	for _, e := range r.plugins {
		m := e.plugin.Meta()
		m.Enabled = e.enabled
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
	return metas
}
