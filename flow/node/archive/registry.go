package archive

import (
	"sync"

	"github.com/coachpo/flow/flow/app"
)

// Factory constructs a fresh application instance for one archive load. Each
// call must return an independent *app.App with its own Lifecycle state —
// archives never share App instances, which is how this package realizes
// the "no symbol leakage across apps" isolation intent without a real
// dynamic class loader (SPEC_FULL.md §6).
type Factory func(name string) *app.App

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// RegisterAppClass binds a manifest's app_class name to the factory that
// builds it. Called from an application package's init(), mirroring how the
// source resolves "App-Class: <fully-qualified-name>" against a loaded
// class, except here the binding happens at Go compile time rather than at
// archive-load time.
func RegisterAppClass(class string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[class] = factory
}

// lookupAppClass resolves a manifest's app_class to its factory. The bool
// result is false when no app package registered that class, which the
// archive loader treats as a LoadError (skip, continue).
func lookupAppClass(class string) (Factory, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	f, ok := registry[class]
	return f, ok
}
