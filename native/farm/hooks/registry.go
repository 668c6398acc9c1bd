package hooks

import (
	"context"
	"errors"
	"sync"

	"stakefarm/native/farm"
)

// Multi notifies every hook in order and joins their failures.
type Multi []farm.RewardHook

// OnReward implements farm.RewardHook.
func (m Multi) OnReward(ctx context.Context, evt farm.RewardEvent) error {
	var errs []error
	for _, hook := range m {
		if hook == nil {
			continue
		}
		if err := hook.OnReward(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registry is a mutable farm.HookResolver.
type Registry struct {
	mu    sync.RWMutex
	hooks map[farm.HookRef]farm.RewardHook
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[farm.HookRef]farm.RewardHook)}
}

// Register binds ref to hook, replacing any previous binding.
func (r *Registry) Register(ref farm.HookRef, hook farm.RewardHook) {
	ref = ref.Normalize()
	if ref == "" || hook == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[ref] = hook
}

// Resolve implements farm.HookResolver.
func (r *Registry) Resolve(ref farm.HookRef) (farm.RewardHook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hook, ok := r.hooks[ref.Normalize()]
	return hook, ok
}

// Refs lists the registered references.
func (r *Registry) Refs() []farm.HookRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]farm.HookRef, 0, len(r.hooks))
	for ref := range r.hooks {
		refs = append(refs, ref)
	}
	return refs
}
