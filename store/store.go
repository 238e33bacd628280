// Package store provides a durable, single-file implementation of the task
// package's StateCache and EventQueue backed by go.etcd.io/bbolt, so a
// node's in-flight tasks and pending events survive a process restart.
package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	statesBucket = []byte("task_states")
	eventsBucket = []byte("event_queue")
)

// Open opens (creating if absent) the bbolt database at path and ensures the
// buckets both StateCache and EventQueue need exist.
func Open(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{statesBucket, eventsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("store: create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
