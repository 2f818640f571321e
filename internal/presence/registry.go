// Package presence holds the local view of remote users: who is known,
// who is online and where they last stood in the scene. It performs no
// I/O; the dispatch layer is the only writer.
package presence

import (
	"sort"
	"sync"

	"sfera/internal/models"
)

type Registry struct {
	users map[string]models.User

	mu sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]models.User),
	}
}

// Upsert creates or updates an entry. An existing entry keeps its last
// known position when the update carries none.
func (r *Registry) Upsert(user models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.users[user.ID]; ok && user.Position == nil {
		user.Position = prev.Position
	}
	r.users[user.ID] = user
}

// SetOnline flips the online flag in place. The entry, its profile and
// its last known position are retained; only an explicit Remove drops it.
func (r *Registry) SetOnline(id string, online bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return false
	}
	user.Online = online
	r.users[id] = user
	return true
}

// UpdatePosition moves a known user. Unknown ids are ignored so a stray
// position update can never create a phantom entry.
func (r *Registry) UpdatePosition(id string, pos models.Position) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return false
	}
	user.Position = &pos
	r.users[id] = user
	return true
}

// Remove deletes the entry entirely. Used only for an explicit
// "user left", never for a plain disconnect.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.users, id)
}

func (r *Registry) Get(id string) (models.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	return u, ok
}

func (r *Registry) List() []models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]models.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Name < users[j].Name
	})
	return users
}

func (r *Registry) ListOnline() []models.User {
	all := r.List()
	online := all[:0]
	for _, u := range all {
		if u.Online {
			online = append(online, u)
		}
	}
	return online
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
