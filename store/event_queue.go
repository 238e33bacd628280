package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/tikaika/crynux-node/task"
)

// EventQueue is a bbolt-backed task.EventQueue. Events persist to bolt as
// soon as Put returns, so an unacknowledged event survives a process crash:
// on restart nothing is leased yet, so every event still in the bucket is
// redelivered by the next Get, relying on the handler-side idempotent
// crash-recovery check (task.InferenceRunner's requirePrecondition) to make
// redelivery safe.
//
// Leases themselves (which sequence a given AckID refers to) are tracked
// in-memory only, mirroring task.MemoryEventQueue's bookkeeping; Get skips
// any sequence currently leased so two callers never receive the same
// event concurrently.
type EventQueue struct {
	db *bolt.DB

	mu     sync.Mutex
	leased map[task.AckID]uint64 // AckID -> sequence key
	wake   chan struct{}
}

// NewEventQueue wraps db (see Open) as a task.EventQueue.
func NewEventQueue(db *bolt.DB) *EventQueue {
	return &EventQueue{
		db:     db,
		leased: make(map[task.AckID]uint64),
		wake:   make(chan struct{}),
	}
}

func (q *EventQueue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// nextUnleased returns the lowest-sequence event not already leased, or
// found=false if the bucket (modulo leased entries) is empty.
func (q *EventQueue) nextUnleased() (seq uint64, event task.Event, found bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	err = q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(eventsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			key := binary.BigEndian.Uint64(k)
			if _, isLeased := leasedSeq(q.leased, key); isLeased {
				continue
			}
			if err := unmarshal(v, &event); err != nil {
				return fmt.Errorf("store: decode event seq %d: %w", key, err)
			}
			seq = key
			found = true
			return nil
		}
		return nil
	})
	if err != nil || !found {
		return 0, task.Event{}, false, err
	}

	return seq, event, true, nil
}

func leasedSeq(leased map[task.AckID]uint64, seq uint64) (task.AckID, bool) {
	for id, s := range leased {
		if s == seq {
			return id, true
		}
	}
	return 0, false
}

func (q *EventQueue) Get(ctx context.Context) (task.AckID, task.Event, error) {
	for {
		q.mu.Lock()
		wake := q.wake
		q.mu.Unlock()

		seq, event, found, err := q.nextUnleased()
		if err != nil {
			return 0, task.Event{}, err
		}
		if found {
			q.mu.Lock()
			id := task.AckID(seq)
			if _, taken := q.leased[id]; taken {
				// Another Get leased this sequence since the scan.
				q.mu.Unlock()
				continue
			}
			q.leased[id] = seq
			q.mu.Unlock()
			return id, event, nil
		}

		select {
		case <-ctx.Done():
			return 0, task.Event{}, ctx.Err()
		case <-wake:
		}
	}
}

func (q *EventQueue) Ack(_ context.Context, id task.AckID) error {
	q.mu.Lock()
	seq, ok := q.leased[id]
	if ok {
		delete(q.leased, id)
	}
	q.mu.Unlock()

	if !ok {
		return nil
	}

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(eventsBucket).Delete(key)
	})
}

func (q *EventQueue) NoAck(_ context.Context, id task.AckID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.leased[id]; !ok {
		return nil
	}
	delete(q.leased, id)
	q.broadcast()
	return nil
}

func (q *EventQueue) Put(_ context.Context, event task.Event) error {
	data, err := marshal(event)
	if err != nil {
		return fmt.Errorf("store: marshal event: %w", err)
	}

	err = q.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(eventsBucket)
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bkt.Put(key, data)
	})
	if err != nil {
		return err
	}

	q.mu.Lock()
	q.broadcast()
	q.mu.Unlock()
	return nil
}
