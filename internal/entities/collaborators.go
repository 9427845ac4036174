package entities

import "github.com/horizon/portal-ledger/internal/core"

// Entity types whose changes are made by other services and only recorded
// here.
const (
	Configuration = "configuration"
	User          = "user"
	FAQ           = "faq"
)

func init() {
	core.Register(core.EntityDefinition{
		Info:    core.EntityInfo{Key: Configuration, Label: "Portal configuration"},
		Actions: []core.AuditAction{core.ActionUpdate},
	})

	core.Register(core.EntityDefinition{
		Info: core.EntityInfo{Key: User, Label: "Users"},
		Actions: []core.AuditAction{
			core.ActionCreate,
			core.ActionUpdate,
			core.ActionStatusChange,
		},
		SensitiveFields: []string{"password", "passwordHash"},
	})

	core.Register(core.EntityDefinition{
		Info: core.EntityInfo{Key: FAQ, Label: "Questions and answers"},
		Actions: []core.AuditAction{
			core.ActionCreate,
			core.ActionUpdate,
			core.ActionDelete,
		},
	})
}
