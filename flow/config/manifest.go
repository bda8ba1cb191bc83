package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/flow/errs"
)

// Manifest describes one application archive's entry point, the YAML
// analogue of the source's "App-Class: <fully-qualified-name>" manifest
// line (§6).
type Manifest struct {
	AppClass string            `yaml:"app_class"`
	Name     string            `yaml:"name"`
	Settings map[string]string `yaml:"settings"`
}

// ParseManifest decodes a manifest document. A LoadError is returned when
// the document is malformed or omits the required App-Class entry point
// (§7: archive missing manifest or entry-point class unresolvable — skip
// the archive, continue).
func ParseManifest(raw []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, errs.New("config/manifest", errs.CodeLoad, errs.WithCause(err))
	}
	if m.AppClass == "" {
		return Manifest{}, errs.New("config/manifest", errs.CodeLoad, errs.WithMessage(fmt.Sprintf("manifest %q missing app_class", m.Name)))
	}
	return m, nil
}
