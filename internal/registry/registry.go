// Package registry maps configuration keys to the pluggable components
// of the workflow engine.
//
// Three component kinds are registered:
//   - response providers, which produce content for a stage
//   - approval providers, which decide whether that content may pass a gate
//   - profiles, which define the domain: prompts, parsing, expected outputs
//
// Registration happens once at startup; resolution fails fast on unknown
// keys so a misconfigured session never reaches a provider call.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/draftflow/internal/approval"
	"github.com/fyrsmithlabs/draftflow/internal/profile"
	"github.com/fyrsmithlabs/draftflow/internal/provider"
)

// Errors for registry operations.
var (
	ErrUnknownResponseProvider = errors.New("unknown response provider")
	ErrUnknownApprovalProvider = errors.New("unknown approval provider")
	ErrUnknownProfile          = errors.New("unknown profile")
	ErrDuplicateRegistration   = errors.New("duplicate registration")
)

// Registry holds the registered components. The zero value is not usable;
// construct with NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	responses map[string]provider.ResponseProvider
	approvals map[string]approval.Provider
	profiles  map[string]profile.Profile
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		responses: make(map[string]provider.ResponseProvider),
		approvals: make(map[string]approval.Provider),
		profiles:  make(map[string]profile.Profile),
	}
}

// RegisterResponse adds a response provider under the given key.
func (r *Registry) RegisterResponse(key string, p provider.ResponseProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.responses[key]; ok {
		return fmt.Errorf("%w: response provider %q", ErrDuplicateRegistration, key)
	}
	r.responses[key] = p
	return nil
}

// RegisterApproval adds an approval provider under the given key.
func (r *Registry) RegisterApproval(key string, p approval.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.approvals[key]; ok {
		return fmt.Errorf("%w: approval provider %q", ErrDuplicateRegistration, key)
	}
	r.approvals[key] = p
	return nil
}

// RegisterProfile adds a profile keyed by its own ID.
func (r *Registry) RegisterProfile(p profile.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[p.ID()]; ok {
		return fmt.Errorf("%w: profile %q", ErrDuplicateRegistration, p.ID())
	}
	r.profiles[p.ID()] = p
	return nil
}

// ResolveResponse returns the response provider registered under key.
func (r *Registry) ResolveResponse(key string) (provider.ResponseProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.responses[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownResponseProvider, key, keys(r.responses))
	}
	return p, nil
}

// ResolveApproval returns the approval provider registered under key.
func (r *Registry) ResolveApproval(key string) (approval.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.approvals[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownApprovalProvider, key, keys(r.approvals))
	}
	return p, nil
}

// ResolveProfile returns the profile registered under id.
func (r *Registry) ResolveProfile(id string) (profile.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownProfile, id, keys(r.profiles))
	}
	return p, nil
}

// ResponseProviders lists the registered response provider keys in sorted
// order, for diagnostics and CLI help.
func (r *Registry) ResponseProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.responses)
}

// ApprovalProviders lists the registered approval provider keys in sorted
// order.
func (r *Registry) ApprovalProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.approvals)
}

// Profiles lists the registered profile IDs in sorted order.
func (r *Registry) Profiles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.profiles)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
