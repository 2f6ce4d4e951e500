package hub

import (
	"sync"

	"github.com/walletfleet/fleet-gateway/internal/metrics"
)

// registry maps worker identities to their actor. Actors are created on the
// first acquire and stopped when the last holder releases them, so an
// identity never has two actors and idle identities cost nothing.
type registry struct {
	mu     sync.Mutex
	actors map[string]*actor
	spawn  func(id string) *actor
}

func newRegistry(spawn func(id string) *actor) *registry {
	return &registry{actors: make(map[string]*actor), spawn: spawn}
}

// acquire returns the actor for id, starting one if needed. Every acquire
// must be paired with a release.
func (r *registry) acquire(id string) *actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[id]
	if !ok {
		a = r.spawn(id)
		r.actors[id] = a
		metrics.ActorsLive.Inc()
		go a.run()
	}
	a.refs++
	return a
}

// lookup is acquire without creation; it returns nil when id has no actor.
func (r *registry) lookup(id string) *actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[id]
	if !ok {
		return nil
	}
	a.refs++
	return a
}

// all acquires every current actor.
func (r *registry) all() []*actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*actor, 0, len(r.actors))
	for _, a := range r.actors {
		a.refs++
		out = append(out, a)
	}
	return out
}

func (r *registry) release(a *actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.refs--
	if a.refs > 0 {
		return
	}
	if r.actors[a.id] == a {
		delete(r.actors, a.id)
	}
	metrics.ActorsLive.Dec()
	close(a.quit)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}
