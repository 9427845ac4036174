package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]EntityDefinition)
	registryMu sync.RWMutex
)

// Register adds an entity definition to the registry.
// Panics if the key is already registered or an ingestible definition is
// incomplete.
func Register(def EntityDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Info.Key]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Info.Key))
	}
	if len(def.Columns) > 0 && def.BuildRecord == nil {
		panic(fmt.Sprintf("entity %s has columns but no BuildRecord", def.Info.Key))
	}
	if def.Ingestible() && (!def.Allows(ActionImportBatch) || !def.Allows(ActionRevokeBatch)) {
		panic(fmt.Sprintf("ingestible entity %s must allow IMPORT_BATCH and REVOKE_BATCH", def.Info.Key))
	}

	registry[def.Info.Key] = def
}

// Get returns an entity definition by key.
func Get(key string) (EntityDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[key]
	return def, ok
}

// Lookup is Get with ErrUnknownEntity for missing keys.
func Lookup(key string) (EntityDefinition, error) {
	def, ok := Get(key)
	if !ok {
		return EntityDefinition{}, fmt.Errorf("%w: %s", ErrUnknownEntity, key)
	}
	return def, nil
}

// All returns every registered definition sorted by key.
func All() []EntityDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]EntityDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Info.Key < result[j].Info.Key
	})
	return result
}

// Ingestible returns the keys of entity types that accept batch imports.
func Ingestible() []string {
	var keys []string
	for _, def := range All() {
		if def.Ingestible() {
			keys = append(keys, def.Info.Key)
		}
	}
	return keys
}

// Clear removes all registered entities.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]EntityDefinition)
}
