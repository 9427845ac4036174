package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionCreate       AuditAction = "CREATE"
	ActionUpdate       AuditAction = "UPDATE"
	ActionStatusChange AuditAction = "STATUS_CHANGE"
	ActionImportBatch  AuditAction = "IMPORT_BATCH"
	ActionRevokeBatch  AuditAction = "REVOKE_BATCH"
	ActionDelete       AuditAction = "DELETE"
)

// AllActions is the global action vocabulary.
var AllActions = []AuditAction{
	ActionCreate, ActionUpdate, ActionStatusChange,
	ActionImportBatch, ActionRevokeBatch, ActionDelete,
}

// ParseAction returns the action named s, if it is one.
func ParseAction(s string) (AuditAction, bool) {
	for _, a := range AllActions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// batchAction reports whether a is written only by the import pipeline or the
// revocation engine.
func batchAction(a AuditAction) bool {
	return a == ActionImportBatch || a == ActionRevokeBatch
}

// GenesisHash is the PrevHash of the first entry of every stream.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditEntry represents a single audit log entry. Entries form one hash chain
// per (EntityType, EntityID) stream.
type AuditEntry struct {
	ID             int64       `json:"id"`
	Actor          string      `json:"actor"`
	Action         AuditAction `json:"action"`
	EntityType     string      `json:"entityType"`
	EntityID       string      `json:"entityId"`
	SnapshotBefore *Snapshot   `json:"snapshotBefore,omitempty"`
	SnapshotAfter  *Snapshot   `json:"snapshotAfter,omitempty"`
	OriginAddress  string      `json:"originAddress,omitempty"`
	UserAgent      string      `json:"userAgent,omitempty"`
	PrevHash       string      `json:"prevHash"`
	Hash           string      `json:"hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

// hashInput fixes the field order hashed for an entry.
type hashInput struct {
	PrevHash      string    `json:"p"`
	Actor         string    `json:"a"`
	Action        string    `json:"x"`
	EntityType    string    `json:"t"`
	EntityID      string    `json:"i"`
	Timestamp     string    `json:"ts"`
	Before        *Snapshot `json:"b"`
	After         *Snapshot `json:"f"`
	OriginAddress string    `json:"o"`
	UserAgent     string    `json:"u"`
}

// ComputeHash returns the SHA-256 of the entry's content and PrevHash, hex
// encoded. Snapshots are canonicalized first, so the result does not depend on
// how the payload was stored.
func ComputeHash(e *AuditEntry) (string, error) {
	before, err := e.SnapshotBefore.Canonical()
	if err != nil {
		return "", fmt.Errorf("hash before snapshot: %w", err)
	}
	after, err := e.SnapshotAfter.Canonical()
	if err != nil {
		return "", fmt.Errorf("hash after snapshot: %w", err)
	}

	raw, err := json.Marshal(hashInput{
		PrevHash:      e.PrevHash,
		Actor:         e.Actor,
		Action:        string(e.Action),
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		Timestamp:     e.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		Before:        before,
		After:         after,
		OriginAddress: e.OriginAddress,
		UserAgent:     e.UserAgent,
	})
	if err != nil {
		return "", fmt.Errorf("hash entry: %w", err)
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// ChainVerification is the outcome of re-hashing one stream.
type ChainVerification struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Entries    int    `json:"entries"`
	Valid      bool   `json:"valid"`
	BrokenAt   int64  `json:"brokenAt,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// VerifyChain checks that entries, in append order, link from GenesisHash and
// that every stored hash matches its content.
func VerifyChain(entries []AuditEntry) ChainVerification {
	out := ChainVerification{Entries: len(entries), Valid: true}
	if len(entries) > 0 {
		out.EntityType = entries[0].EntityType
		out.EntityID = entries[0].EntityID
	}

	prev := GenesisHash
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prev {
			return broken(out, e.ID, "previous hash does not match")
		}
		sum, err := ComputeHash(e)
		if err != nil {
			return broken(out, e.ID, err.Error())
		}
		if sum != e.Hash {
			return broken(out, e.ID, "content hash does not match")
		}
		prev = e.Hash
	}
	return out
}

func broken(v ChainVerification, id int64, reason string) ChainVerification {
	v.Valid = false
	v.BrokenAt = id
	v.Reason = reason
	return v
}
