package uow

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/data/changelog"
)

// ErrNoPriorState means an entity updated or deleted by the transaction has
// no earlier log to restore it from, typically because retention purged it.
// The rollback is aborted and nothing is applied.
var ErrNoPriorState = errors.New("uow: no prior state to restore")

// rollbackTable maps table -> rollback action -> model id -> prior state.
// It exists for the duration of one Rollback call.
type rollbackTable struct {
	entries map[string]map[changelog.Action]map[string]changelog.State
	order   []rollbackKey
}

type rollbackKey struct {
	table   string
	action  changelog.Action
	modelID string
}

// newRollbackTable derives the compensations for current, the forward logs
// of the transaction being undone, given previous, the latest log of every
// touched entity written before it. An insert has no prior state. Updates
// and deletes of an entity the transaction itself inserted are covered by
// its rollback_insert; any other one needs a prior state or the whole table
// fails with ErrNoPriorState.
// Compensations are ordered from the last current log to the first.
func newRollbackTable(current, previous []changelog.Log) (*rollbackTable, error) {
	prior := make(map[changelog.EntityKey]changelog.State, len(previous))
	for _, l := range previous {
		prior[l.Key()] = l.ModelState
	}
	inserted := map[changelog.EntityKey]struct{}{}
	for _, l := range current {
		if l.Action == changelog.ActionInsert {
			inserted[l.Key()] = struct{}{}
		}
	}
	t := &rollbackTable{entries: map[string]map[changelog.Action]map[string]changelog.State{}}
	for i := len(current) - 1; i >= 0; i-- {
		l := current[i]
		if l.Action.IsRollback() {
			continue
		}
		var state changelog.State
		if l.Action != changelog.ActionInsert {
			state = prior[l.Key()]
			if state.IsNull() {
				if _, ok := inserted[l.Key()]; ok {
					continue
				}
				return nil, fmt.Errorf("%w: %s %s %s", ErrNoPriorState, l.Action, l.CollectionName, l.ModelID)
			}
		}
		t.put(l.CollectionName, l.Action.Rollback(), l.ModelID, state)
	}
	return t, nil
}

func (t *rollbackTable) put(table string, action changelog.Action, modelID string, state changelog.State) {
	byAction, ok := t.entries[table]
	if !ok {
		byAction = map[changelog.Action]map[string]changelog.State{}
		t.entries[table] = byAction
	}
	byID, ok := byAction[action]
	if !ok {
		byID = map[string]changelog.State{}
		byAction[action] = byID
	}
	if _, ok := byID[modelID]; ok {
		return
	}
	byID[modelID] = state
	t.order = append(t.order, rollbackKey{table: table, action: action, modelID: modelID})
}

func (t *rollbackTable) Len() int { return len(t.order) }

// Logs flattens the table into rollback logs of txID.
func (t *rollbackTable) Logs(txID uuid.UUID, now time.Time) []changelog.Log {
	out := make([]changelog.Log, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, changelog.Log{
			Action:         k.action,
			TransactionID:  txID,
			ModelID:        k.modelID,
			ModelState:     t.entries[k.table][k.action][k.modelID],
			CollectionName: k.table,
			CreatedAt:      now.UTC(),
		})
	}
	return out
}

func entityKeys(logs []changelog.Log) []changelog.EntityKey {
	seen := make(map[changelog.EntityKey]struct{}, len(logs))
	out := make([]changelog.EntityKey, 0, len(logs))
	for _, l := range logs {
		k := l.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
