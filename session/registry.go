package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/smnsjas/go-cmagent/resolve"
	"github.com/smnsjas/go-cmagent/target"
)

var _ resolve.Probe = (*Registry)(nil)

// Registry maps computer names to open sessions. Names are matched
// case-insensitively. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	structured map[string]*Cim
	shells     map[string]*Shell
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		structured: make(map[string]*Cim),
		shells:     make(map[string]*Shell),
	}
}

// AddCim registers c under its computer name, replacing any previous one.
func (r *Registry) AddCim(c *Cim) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.structured[key(c.ComputerName())] = c
}

// AddShell registers s under its computer name, replacing any previous one.
func (r *Registry) AddShell(s *Shell) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shells[key(s.ComputerName())] = s
}

// Remove forgets both sessions for computer without closing them.
func (r *Registry) Remove(computer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.structured, key(computer))
	delete(r.shells, key(computer))
}

// LookupStructured implements resolve.Probe. Only opened sessions are
// reported.
func (r *Registry) LookupStructured(_ context.Context, computer string) (target.StructuredSession, bool) {
	r.mu.RLock()
	c, ok := r.structured[key(computer)]
	r.mu.RUnlock()
	if !ok || c.State() != StateOpened {
		return nil, false
	}
	return c, true
}

// LookupShell implements resolve.Probe. Only opened sessions are reported.
func (r *Registry) LookupShell(_ context.Context, computer string) (target.RemoteShellSession, bool) {
	r.mu.RLock()
	s, ok := r.shells[key(computer)]
	r.mu.RUnlock()
	if !ok || s.State() != StateOpened {
		return nil, false
	}
	return s, true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.structured) + len(r.shells)
}

// CloseAll closes and forgets every registered session.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	cims := r.structured
	shells := r.shells
	r.structured = make(map[string]*Cim)
	r.shells = make(map[string]*Shell)
	r.mu.Unlock()

	var errs []error
	for _, c := range cims {
		errs = append(errs, c.Close(ctx))
	}
	for _, s := range shells {
		errs = append(errs, s.Close(ctx))
	}
	return errors.Join(errs...)
}

func key(computer string) string {
	return strings.ToLower(strings.TrimSpace(computer))
}
