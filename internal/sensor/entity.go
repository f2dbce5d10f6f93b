package sensor

import (
	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/solax"
)

// Entity binds one descriptor to the resolver
type Entity struct {
	Descriptor Descriptor
	UniqueID   string

	resolver *Resolver
}

// NewEntities builds one entity per descriptor for the device identified by
// deviceID
func NewEntities(deviceID string, descriptors []Descriptor, resolver *Resolver) []Entity {
	entities := make([]Entity, 0, len(descriptors))
	for _, d := range descriptors {
		entities = append(entities, Entity{
			Descriptor: d,
			UniqueID:   deviceID + "_" + d.Key,
			resolver:   resolver,
		})
	}
	return entities
}

// Key returns the SolaX field identifier
func (e Entity) Key() string {
	return e.Descriptor.Key
}

// Value resolves the entity against snap
func (e Entity) Value(snap solax.Snapshot) any {
	return e.resolver.Resolve(e.Descriptor.Key, snap)
}
