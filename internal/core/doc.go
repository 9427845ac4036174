// Package core holds the business logic of the revenue ledger: parsing import
// files, committing batches, revoking them and reading the audit trail.
//
// This package has no HTTP dependencies. Web handlers, the drop-folder
// watcher and tests all drive it through [Service].
//
// # Entity Registry
//
// Entity types are registered at init time using [Register]. Each
// [EntityDefinition] carries the entity's audit vocabulary, its sensitive
// fields and, for batch-ingestible types, the import column layout:
//
//	core.Register(core.EntityDefinition{
//	    Info:    core.EntityInfo{Key: "faq", Label: "FAQ entries"},
//	    Actions: []core.AuditAction{core.ActionCreate, core.ActionUpdate, core.ActionDelete},
//	})
//
// # Import and Revocation
//
// An import parses the whole file first ([ParseFile]); any rejected row
// rejects the file. The rows, the batch sentinel and one IMPORT_BATCH audit
// entry are then written in a single transaction. A revocation takes a lock
// scoped to the batch key, refuses batches that already have a REVOKE_BATCH
// entry, captures every row, deletes them and appends the REVOKE_BATCH entry
// carrying the captured rows, again in one transaction.
//
// # Audit Ledger
//
// [Ledger.Append] is the only write path for audit entries. Entries of one
// (entity type, entity id) stream are linked by a SHA-256 hash chain that
// [Service.VerifyStream] recomputes. Snapshots are a tagged union
// ([Snapshot]); sensitive values are replaced by the [Redacted] marker before
// they are written.
//
// # Error Handling
//
// Domain failures are sentinel errors ([ErrAlreadyRevoked], [ErrBatchNotFound],
// ...). [MapError] turns any error into a coded message for display.
package core
