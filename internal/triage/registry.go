package triage

import "sync"

// registry holds the single in-process active run. The pipeline goroutine that owns
// the run is its only writer; everyone else reads copies.
type registry struct {
	mu     sync.Mutex
	active *Run
}

// begin installs run as the active run. Callers check current first under their
// own start lock.
func (r *registry) begin(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = run.Clone()
}

// current returns a copy of the active run, or nil.
func (r *registry) current() *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	return r.active.Clone()
}

// update applies fn to the active run and returns a copy of the result.
func (r *registry) update(id string, fn func(*Run)) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.ID != id {
		return nil
	}
	fn(r.active)
	return r.active.Clone()
}

// end clears the active run if it is still id.
func (r *registry) end(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && r.active.ID == id {
		r.active = nil
	}
}
