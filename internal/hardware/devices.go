// Package hardware provides the deploy-phase contract and a device registry
// loaded from a YAML file.
package hardware

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Device is one registered hardware device.
type Device struct {
	Name string            `yaml:"name" json:"name"`
	Type string            `yaml:"type" json:"type"` // e.g. esp32
	Port string            `yaml:"port,omitempty" json:"port,omitempty"`
	Pins map[string]string `yaml:"pins,omitempty" json:"pins,omitempty"`
}

// Registry holds the devices available for deployment.
type Registry struct {
	Devices []Device `yaml:"devices" json:"devices"`
}

// LoadRegistry reads a devices.yaml file. A missing file yields an empty
// registry, not an error.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Registry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read device registry: %w", err)
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse device registry: %w", err)
	}
	return &reg, nil
}

// Find returns the first device of the given type.
func (r *Registry) Find(deviceType string) (*Device, bool) {
	for i := range r.Devices {
		if r.Devices[i].Type == deviceType {
			return &r.Devices[i], true
		}
	}
	return nil, false
}
