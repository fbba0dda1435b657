// Package locking provides advisory per-entity edit locks. The locks are
// cooperative markers checked by well-behaved callers before editing; they
// never hold database locks across user think time.
package locking

import (
	"fmt"
	"sync"

	"bitbucket.org/mmdatafocus/storefront_backend/events"
	"github.com/sirupsen/logrus"
)

// AlreadyLockedError reports the conflicting holder so the caller can show
// "Edited by X". It is never retried here; the caller decides.
type AlreadyLockedError struct {
	HolderLabel string
}

func (e *AlreadyLockedError) Error() string {
	return fmt.Sprintf("already locked by %s", e.HolderLabel)
}

type lockKey struct {
	EntityType string
	EntityId   int
}

type lockEntry struct {
	HolderToken string
	HolderLabel string
}

// LockInfo is the read-only view used for bulk UI refresh.
type LockInfo struct {
	EntityType  string `json:"entity_type"`
	EntityId    int    `json:"entity_id"`
	HolderLabel string `json:"holder_label"`
}

// Registry is the process-wide map of advisory locks. Construct one at the
// composition root and pass it by reference; there is no package singleton.
// A single mutex linearizes acquire/release; contention is low because at
// most one lock exists per entity.
type Registry struct {
	mu       sync.Mutex
	locks    map[lockKey]lockEntry
	sessions *SessionRegistry
	notifier events.Notifier
	logger   *logrus.Logger
}

func NewRegistry(sessions *SessionRegistry, notifier events.Notifier, logger *logrus.Logger) *Registry {
	return &Registry{
		locks:    make(map[lockKey]lockEntry),
		sessions: sessions,
		notifier: notifier,
		logger:   logger,
	}
}

// Acquire takes the lock for holderToken. An entry whose holder session is
// no longer open is stale and is replaced, which covers browser crashes and
// network loss without heartbeats. A live conflicting holder is reported as
// *AlreadyLockedError.
func (r *Registry) Acquire(entityType string, entityId int, holderToken string, holderLabel string) error {
	if entityId < 0 {
		return fmt.Errorf("entity id must not be negative: %d", entityId)
	}
	key := lockKey{EntityType: entityType, EntityId: entityId}

	r.mu.Lock()
	entry, exists := r.locks[key]
	if exists && entry.HolderToken != holderToken && r.sessions.IsOpen(entry.HolderToken) {
		r.mu.Unlock()
		return &AlreadyLockedError{HolderLabel: entry.HolderLabel}
	}
	reclaimed := exists && entry.HolderToken != holderToken
	r.locks[key] = lockEntry{HolderToken: holderToken, HolderLabel: holderLabel}
	r.mu.Unlock()

	if reclaimed {
		r.logger.WithFields(logrus.Fields{
			"entity_type": entityType,
			"entity_id":   entityId,
			"holder":      holderLabel,
		}).Debug("reclaimed lock from dead session")
	}
	r.logger.WithFields(logrus.Fields{
		"entity_type": entityType,
		"entity_id":   entityId,
		"holder":      holderLabel,
	}).Debugf("%s locked %s (%d)", holderLabel, entityType, entityId)

	r.notifier.Publish(events.EntityLocked{EntityType: entityType, EntityId: entityId, HolderLabel: holderLabel})
	return nil
}

// Release is idempotent and a no-op when the entry does not exist or is
// held by another token: the caller must present the handle it acquired
// with.
func (r *Registry) Release(entityType string, entityId int, holderToken string) {
	key := lockKey{EntityType: entityType, EntityId: entityId}

	r.mu.Lock()
	entry, exists := r.locks[key]
	if !exists || entry.HolderToken != holderToken {
		r.mu.Unlock()
		return
	}
	delete(r.locks, key)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"entity_type": entityType,
		"entity_id":   entityId,
		"holder":      entry.HolderLabel,
	}).Debugf("%s unlocked %s (%d)", entry.HolderLabel, entityType, entityId)

	r.notifier.Publish(events.EntityUnlocked{EntityType: entityType, EntityId: entityId})
}

// IsLocked probes without taking the lock; used to annotate UI rows.
// Stale entries found during the probe are reclaimed.
func (r *Registry) IsLocked(entityType string, entityId int) (string, bool) {
	key := lockKey{EntityType: entityType, EntityId: entityId}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, exists := r.locks[key]
	if !exists {
		return "", false
	}
	if !r.sessions.IsOpen(entry.HolderToken) {
		delete(r.locks, key)
		return "", false
	}
	return entry.HolderLabel, true
}

// Holders snapshots all live locks for bulk UI refresh, sweeping stale
// entries as it scans.
func (r *Registry) Holders() []LockInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]LockInfo, 0, len(r.locks))
	for key, entry := range r.locks {
		if !r.sessions.IsOpen(entry.HolderToken) {
			delete(r.locks, key)
			continue
		}
		infos = append(infos, LockInfo{
			EntityType:  key.EntityType,
			EntityId:    key.EntityId,
			HolderLabel: entry.HolderLabel,
		})
	}
	return infos
}

// ReleaseAllHeldBy drops every lock the token holds. Called on session
// teardown so an orderly logout does not leave entries for lazy reclaim.
func (r *Registry) ReleaseAllHeldBy(holderToken string) {
	r.mu.Lock()
	released := make([]lockKey, 0, 2)
	for key, entry := range r.locks {
		if entry.HolderToken == holderToken {
			delete(r.locks, key)
			released = append(released, key)
		}
	}
	r.mu.Unlock()

	for _, key := range released {
		r.notifier.Publish(events.EntityUnlocked{EntityType: key.EntityType, EntityId: key.EntityId})
	}
}
