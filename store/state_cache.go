package store

import (
	"context"
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/tikaika/crynux-node/task"
)

// StateCache is a bbolt-backed task.StateCache. Every Dump commits a bolt
// transaction before returning, satisfying the "durable before ack" ordering
// C4 relies on.
type StateCache struct {
	db *bolt.DB
}

// NewStateCache wraps db (see Open) as a task.StateCache.
func NewStateCache(db *bolt.DB) *StateCache {
	return &StateCache{db: db}
}

func taskKey(taskID uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, taskID)
	return key
}

func (c *StateCache) Load(_ context.Context, taskID uint64) (task.State, error) {
	var state task.State
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(statesBucket).Get(taskKey(taskID))
		if data == nil {
			return task.ErrNotFound
		}
		return unmarshal(data, &state)
	})
	if err != nil {
		return task.State{}, err
	}
	return state, nil
}

func (c *StateCache) Dump(_ context.Context, state task.State) error {
	data, err := marshal(state)
	if err != nil {
		return fmt.Errorf("store: marshal state for task %d: %w", state.TaskID, err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(statesBucket).Put(taskKey(state.TaskID), data)
	})
}

func (c *StateCache) Delete(_ context.Context, taskID uint64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(statesBucket).Delete(taskKey(taskID))
	})
}

func (c *StateCache) Has(_ context.Context, taskID uint64) (bool, error) {
	var has bool
	err := c.db.View(func(tx *bolt.Tx) error {
		has = tx.Bucket(statesBucket).Get(taskKey(taskID)) != nil
		return nil
	})
	return has, err
}
