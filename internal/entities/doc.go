// Package entities registers the entity types of the portal with the core
// registry. Import it for its side effects:
//
//	import _ "github.com/horizon/portal-ledger/internal/entities"
//
// Each file registers its entity types from init().
package entities
