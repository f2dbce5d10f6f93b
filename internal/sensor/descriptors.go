// Package sensor describes the exposed SolaX Cloud fields and resolves their
// values from a snapshot.
package sensor

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// State classes understood by Home Assistant and the exporter
const (
	StateClassMeasurement     = "measurement"
	StateClassTotalIncreasing = "total_increasing"
)

// Descriptor is the static metadata of one exposed field
type Descriptor struct {
	Key            string `yaml:"key"`
	Name           string `yaml:"name"`
	TranslationKey string `yaml:"translation_key"`
	DeviceClass    string `yaml:"device_class,omitempty"`
	Unit           string `yaml:"unit,omitempty"`
	StateClass     string `yaml:"state_class,omitempty"`
}

//go:embed descriptors.yaml
var descriptorsYAML []byte

var (
	descriptors []Descriptor
	byKey       map[string]Descriptor
)

func init() {
	var err error
	descriptors, err = parseDescriptors(descriptorsYAML)
	if err != nil {
		panic(err)
	}
	byKey = make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		byKey[d.Key] = d
	}
}

func parseDescriptors(data []byte) ([]Descriptor, error) {
	var out []Descriptor
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse sensor descriptors: %w", err)
	}

	seen := make(map[string]bool, len(out))
	for i, d := range out {
		if d.Key == "" {
			return nil, fmt.Errorf("sensor descriptor %d has no key", i)
		}
		if seen[d.Key] {
			return nil, fmt.Errorf("duplicate sensor descriptor %q", d.Key)
		}
		seen[d.Key] = true
	}
	return out, nil
}

// Descriptors returns a copy of the descriptor table in declaration order
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Lookup returns the descriptor for key
func Lookup(key string) (Descriptor, bool) {
	d, ok := byKey[key]
	return d, ok
}
