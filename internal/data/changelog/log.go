// Package changelog is the write-ahead and audit log of units of work. A Log
// describes one mutation of one entity row; logs are appended, never edited.
package changelog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of mutation a Log records.
type Action string

const (
	ActionInsert     Action = "insert"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionSafeDelete Action = "safe_delete"

	ActionRollbackInsert     Action = "rollback_insert"
	ActionRollbackUpdate     Action = "rollback_update"
	ActionRollbackDelete     Action = "rollback_delete"
	ActionRollbackSafeDelete Action = "rollback_safe_delete"
)

const rollbackPrefix = "rollback_"

func (a Action) IsRollback() bool { return strings.HasPrefix(string(a), rollbackPrefix) }

// Rollback returns the compensating action. It is the identity for actions
// that already are rollbacks.
func (a Action) Rollback() Action {
	if a.IsRollback() {
		return a
	}
	return Action(rollbackPrefix + string(a))
}

func (a Action) Valid() bool {
	switch a {
	case ActionInsert, ActionUpdate, ActionDelete, ActionSafeDelete,
		ActionRollbackInsert, ActionRollbackUpdate, ActionRollbackDelete, ActionRollbackSafeDelete:
		return true
	}
	return false
}

// Log is one row of uow_log. ID is assigned by the store on persist and
// orders the logs of an entity.
type Log struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Action         Action    `gorm:"column:action;type:varchar(32);not null" json:"action"`
	TransactionID  uuid.UUID `gorm:"column:transaction_id;type:uuid;not null;index:idx_uow_log_transaction_id" json:"transaction_id"`
	ModelID        string    `gorm:"column:model_id;not null;index:idx_uow_log_entity,priority:2" json:"model_id"`
	ModelState     State     `gorm:"column:model_state" json:"model_state"`
	CollectionName string    `gorm:"column:collection_name;not null;index:idx_uow_log_entity,priority:1" json:"collection_name"`
	CreatedAt      time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Log) TableName() string { return "uow_log" }

// NewLog serializes state to JSON. A nil state is stored as SQL NULL.
func NewLog(txID uuid.UUID, collection string, action Action, modelID string, state any, now time.Time) (Log, error) {
	if !action.Valid() {
		return Log{}, fmt.Errorf("changelog: unknown action %q", action)
	}
	if strings.TrimSpace(collection) == "" {
		return Log{}, fmt.Errorf("changelog: empty collection name")
	}
	if strings.TrimSpace(modelID) == "" {
		return Log{}, fmt.Errorf("changelog: empty model id for %s", collection)
	}
	var st State
	if state != nil {
		raw, err := json.Marshal(state)
		if err != nil {
			return Log{}, fmt.Errorf("changelog: serialize %s %s: %w", collection, modelID, err)
		}
		st = State(raw)
	}
	return Log{
		Action:         action,
		TransactionID:  txID,
		ModelID:        modelID,
		ModelState:     st,
		CollectionName: collection,
		CreatedAt:      now.UTC(),
	}, nil
}

func (l Log) HasState() bool { return !l.ModelState.IsNull() }

// DecodeState unmarshals the stored state into dst.
func (l Log) DecodeState(dst any) error {
	if l.ModelState.IsNull() {
		return fmt.Errorf("changelog: log %d of %s %s has no state", l.ID, l.CollectionName, l.ModelID)
	}
	return json.Unmarshal(l.ModelState, dst)
}

// EntityKey identifies one row across tables.
type EntityKey struct {
	Collection string
	ModelID    string
}

func (l Log) Key() EntityKey { return EntityKey{Collection: l.CollectionName, ModelID: l.ModelID} }
