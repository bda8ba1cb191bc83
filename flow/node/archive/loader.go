// Package archive implements the node's application packaging scheme of
// spec.md §6: applications ship as `.s4r` zip archives containing a
// `manifest.yaml` naming the entry-point App class, which is resolved
// against a process-wide registry populated by each bundled App's init().
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/coachpo/flow/errs"
	"github.com/coachpo/flow/flow/app"
	"github.com/coachpo/flow/flow/config"
	"github.com/coachpo/flow/flow/observability"
)

const manifestEntryName = "manifest.yaml"

// Loaded pairs a manifest with the App instance it resolved to.
type Loaded struct {
	Path     string
	Manifest config.Manifest
	App      *app.App
}

// ScanAndLoad walks dir for *.s4r archives in lexical order and loads each
// in isolation: one archive's LoadError is logged and skipped, the rest
// continue loading, per spec.md §7's propagation policy.
func ScanAndLoad(dir string) ([]Loaded, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.New("archive/scan", errs.CodeLoad, errs.WithCause(err))
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".s4r") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	loaded := make([]Loaded, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		l, err := Load(path)
		if err != nil {
			observability.Log().Error("archive load failed, skipping",
				observability.Field{Key: "path", Value: path},
				observability.Field{Key: "error", Value: err})
			continue
		}
		loaded = append(loaded, l)
	}
	return loaded, nil
}

// Load opens a single .s4r archive, parses its manifest, and instantiates
// its entry-point App via the class registry.
func Load(path string) (Loaded, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return Loaded{}, errs.New("archive/load", errs.CodeLoad, errs.WithCause(fmt.Errorf("open %s: %w", path, err)))
	}
	defer r.Close()

	raw, err := readManifestEntry(&r.Reader)
	if err != nil {
		return Loaded{}, errs.New("archive/load", errs.CodeLoad, errs.WithCause(fmt.Errorf("%s: %w", path, err)))
	}

	manifest, err := config.ParseManifest(raw)
	if err != nil {
		return Loaded{}, errs.New("archive/load", errs.CodeLoad, errs.WithCause(fmt.Errorf("%s: %w", path, err)))
	}

	factory, ok := lookupAppClass(manifest.AppClass)
	if !ok {
		return Loaded{}, errs.New("archive/load", errs.CodeLoad,
			errs.WithMessage(fmt.Sprintf("%s: app_class %q is not registered", path, manifest.AppClass)))
	}

	name := manifest.Name
	if strings.TrimSpace(name) == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".s4r")
	}

	return Loaded{Path: path, Manifest: manifest, App: factory(name)}, nil
}

func readManifestEntry(r *zip.Reader) ([]byte, error) {
	f, err := r.Open(manifestEntryName)
	if err != nil {
		return nil, fmt.Errorf("missing %s: %w", manifestEntryName, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", manifestEntryName, err)
	}
	return raw, nil
}
