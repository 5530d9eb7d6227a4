package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/GoCodeAlone/actionpipe"
	"github.com/GoCodeAlone/actionpipe/handlers"
	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// ErrDuplicateBinding is returned when two bindings of one action share an id.
var ErrDuplicateBinding = errors.New("duplicate binding id")

// Binding is a compiled BindingConfig ready to register.
type Binding struct {
	Action  string
	ID      string
	Type    string
	Handler pipeline.HandlerFunc
	Options []pipeline.HandlerOption
}

// bindingID returns the configured id, or a stable one derived from the
// binding's position so reloads of an unchanged file keep the same ids.
func bindingID(action string, index int, b BindingConfig) string {
	if b.ID != "" {
		return b.ID
	}
	return fmt.Sprintf("%s.%s.%d", action, b.Type, index)
}

// Binder compiles declarative bindings and keeps the registrations it made
// on an ActionRegister, so a later Apply replaces exactly those.
type Binder struct {
	register *actionpipe.ActionRegister
	handlers *handlers.Registry
	deps     handlers.Deps
	logger   *slog.Logger

	mu    sync.Mutex
	owned map[string][]ownedBinding
}

type ownedBinding struct {
	Binding
	unregister func()
}

// NewBinder creates a Binder. A nil handler registry means the built-in types.
func NewBinder(register *actionpipe.ActionRegister, registry *handlers.Registry, deps handlers.Deps, logger *slog.Logger) *Binder {
	if registry == nil {
		registry = handlers.NewDefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &Binder{
		register: register,
		handlers: registry,
		deps:     deps,
		logger:   logger,
		owned:    make(map[string][]ownedBinding),
	}
}

// Compile builds every binding of cfg without registering anything. All
// configuration errors are reported together.
func (b *Binder) Compile(cfg *Config) (map[string][]Binding, error) {
	out := make(map[string][]Binding, len(cfg.Actions))
	var errs []error

	for _, action := range slices.Sorted(maps.Keys(cfg.Actions)) {
		seen := make(map[string]bool)
		for i, bc := range cfg.Actions[action] {
			binding, err := b.compileOne(action, i, bc)
			if err != nil {
				errs = append(errs, fmt.Errorf("action %q binding %d: %w", action, i, err))
				continue
			}
			if seen[binding.ID] {
				errs = append(errs, fmt.Errorf("action %q: %w: %q", action, ErrDuplicateBinding, binding.ID))
				continue
			}
			seen[binding.ID] = true
			out[action] = append(out[action], binding)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Binder) compileOne(action string, index int, bc BindingConfig) (Binding, error) {
	if bc.Type == "" {
		return Binding{}, errors.New("'type' is required")
	}
	id := bindingID(action, index, bc)

	fn, err := b.handlers.Create(bc.Type, id, bc.Config, b.deps)
	if err != nil {
		return Binding{}, err
	}

	opts := []pipeline.HandlerOption{pipeline.WithID(id)}
	if bc.Priority != nil {
		opts = append(opts, pipeline.WithPriority(*bc.Priority))
	}
	if bc.Blocking != nil {
		opts = append(opts, pipeline.WithBlocking(*bc.Blocking))
	}
	if bc.Once {
		opts = append(opts, pipeline.Once())
	}
	if bc.Condition != "" {
		cond, err := handlers.CompileCondition(bc.Condition, b.deps.Logger)
		if err != nil {
			return Binding{}, err
		}
		opts = append(opts, pipeline.WithCondition(cond))
	}

	return Binding{Action: action, ID: id, Type: bc.Type, Handler: fn, Options: opts}, nil
}

// Apply compiles cfg and, if that succeeds, rebinds the listed actions:
// bindings this Binder made earlier are unregistered and the new ones
// registered. Actions not listed are left alone. A nil actions slice
// rebinds every action in cfg plus every action previously bound.
//
// If any registration fails, every action touched by this call is put back
// to the bindings it had before, so a failed Apply never leaves an action
// without its previous handlers. Dispatches already in flight keep the
// handler list they started with.
func (b *Binder) Apply(cfg *Config, actions []string) error {
	compiled, err := b.Compile(cfg)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if actions == nil {
		set := make(map[string]bool)
		for a := range compiled {
			set[a] = true
		}
		for a := range b.owned {
			set[a] = true
		}
		actions = slices.Sorted(maps.Keys(set))
	}

	previous := make(map[string][]Binding, len(actions))
	for _, action := range actions {
		previous[action] = b.liveLocked(action)
		b.unbindLocked(action)

		if err := b.bindLocked(action, compiled[action]); err != nil {
			b.restoreLocked(previous)
			return err
		}
		b.logger.Debug("Action bindings applied", "action", action, "bindings", len(b.owned[action]))
	}
	return nil
}

// liveLocked returns the owned bindings of action that are still
// registered. Once bindings that already fired are left out.
func (b *Binder) liveLocked(action string) []Binding {
	registered := make(map[string]bool)
	for _, entry := range b.register.Registry().Snapshot(action) {
		registered[entry.ID()] = true
	}
	var out []Binding
	for _, o := range b.owned[action] {
		if registered[o.ID] {
			out = append(out, o.Binding)
		}
	}
	return out
}

func (b *Binder) unbindLocked(action string) {
	for _, o := range b.owned[action] {
		o.unregister()
	}
	delete(b.owned, action)
}

// bindLocked registers bindings for action. On failure the registrations it
// made are undone and action is left with no owned bindings.
func (b *Binder) bindLocked(action string, bindings []Binding) error {
	var made []ownedBinding
	for _, binding := range bindings {
		unregister, err := b.register.Register(action, binding.Handler, binding.Options...)
		if err != nil {
			for _, o := range made {
				o.unregister()
			}
			return fmt.Errorf("action %q: register %q: %w", action, binding.ID, err)
		}
		made = append(made, ownedBinding{Binding: binding, unregister: unregister})
	}
	if len(made) > 0 {
		b.owned[action] = made
	}
	return nil
}

func (b *Binder) restoreLocked(previous map[string][]Binding) {
	for action, bindings := range previous {
		b.unbindLocked(action)
		if err := b.bindLocked(action, bindings); err != nil {
			b.logger.Error("Failed to restore action bindings", "action", action, "error", err)
			continue
		}
		b.logger.Warn("Action bindings restored after failed apply", "action", action, "bindings", len(bindings))
	}
}

// Release unregisters every binding this Binder made.
func (b *Binder) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for action := range b.owned {
		b.unbindLocked(action)
	}
}

// Bound returns the number of registrations currently owned for action.
func (b *Binder) Bound(action string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.owned[action])
}
