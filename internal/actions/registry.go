package actions

import (
	"sort"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository"
)

// Registry maps action types to handlers. Types without a handler are
// treated as manual-only and are never executed.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// NewDefaultRegistry registers the built-in content handlers.
func NewDefaultRegistry(content repository.ContentStore, collections repository.CollectionStore) *Registry {
	return NewRegistry(
		NewAffiliateLinkHandler(content),
		NewMetaDescriptionHandler(content),
		NewCollectionMembershipHandler(content, collections),
	)
}

func (r *Registry) Register(h Handler) {
	r.handlers[h.ActionType()] = h
}

// Get returns the handler for actionType.
func (r *Registry) Get(actionType string) (Handler, bool) {
	h, ok := r.handlers[actionType]
	return h, ok
}

// ExecutionTier returns the declared tier, or TierManual for unknown types.
func (r *Registry) ExecutionTier(actionType string) models.Tier {
	h, ok := r.handlers[actionType]
	if !ok {
		return models.TierManual
	}
	return h.Tier()
}

// IsAutoExecutable reports whether actionType may run unattended.
func (r *Registry) IsAutoExecutable(actionType string) bool {
	return r.ExecutionTier(actionType) == models.TierAuto
}

// Types lists the registered action types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
