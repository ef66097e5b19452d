// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured providers by name. Safe for concurrent
// use; registration normally happens at startup but hot-adding a
// provider is allowed.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	system    string // system default provider name
	tenants   map[int64]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		tenants:   make(map[int64]string),
	}
}

// Register adds a provider. The first registered provider becomes the
// system default unless SetSystemDefault overrides it.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if name == "" {
		return fmt.Errorf("provider has empty name")
	}
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	if r.system == "" {
		r.system = name
	}
	return nil
}

// Get returns the provider with the given name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// List returns all provider names in stable order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithCapability returns the names of providers advertising c, in
// stable order.
func (r *Registry) WithCapability(c Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, p := range r.providers {
		if Has(p.Capabilities(), c) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// SetSystemDefault marks name as the system-wide default provider.
func (r *Registry) SetSystemDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("unknown provider %q", name)
	}
	r.system = name
	return nil
}

// SystemDefault returns the system default provider name, or "".
func (r *Registry) SystemDefault() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.system
}

// SetTenantDefault pins a default provider for one tenant.
func (r *Registry) SetTenantDefault(tenantID int64, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("unknown provider %q", name)
	}
	r.tenants[tenantID] = name
	return nil
}

// TenantDefault returns the tenant's pinned provider name, or "".
func (r *Registry) TenantDefault(tenantID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tenants[tenantID]
}
