package layer

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Preset is a named, saved layer configuration.
type Preset struct {
	Name   string `yaml:"name"`
	Layers []Spec `yaml:"layers"`
}

// UnmarshalYAML decodes a spec, defaulting omitted enabled and weight
// fields to true and 1.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	type plain Spec
	v := plain{Enabled: true, Weight: 1}
	if err := node.Decode(&v); err != nil {
		return err
	}
	*s = Spec(v)
	return nil
}

// LoadPreset reads and validates a preset from a YAML file.
func LoadPreset(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: read preset %s", path)
	}

	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "layer: parse preset")
	}
	if err := Validate(p.Layers); err != nil {
		return nil, err
	}
	return &p, nil
}

// SavePreset writes p to path as YAML.
func SavePreset(path string, p *Preset) error {
	if err := Validate(p.Layers); err != nil {
		return err
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "layer: encode preset")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "layer: write preset %s", path)
	}
	return nil
}
