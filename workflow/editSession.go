package workflow

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/storefront_backend/locking"
	"github.com/sirupsen/logrus"
)

var ErrSessionNotOpen = errors.New("edit session is not open")

// EditSessions ties the pieces of an edit's lifetime together: open a
// session, lock the record being edited, and on the way out either release
// cleanly or autosave a draft when the session dies with unsaved changes.
type EditSessions struct {
	sessions *locking.SessionRegistry
	locks    *locking.Registry
	drafts   *DraftLifecycle
	logger   *logrus.Logger
}

func NewEditSessions(sessions *locking.SessionRegistry, locks *locking.Registry, drafts *DraftLifecycle, logger *logrus.Logger) *EditSessions {
	return &EditSessions{sessions: sessions, locks: locks, drafts: drafts, logger: logger}
}

// Begin opens a session for the user and returns the opaque token the UI
// must present on every lock/unlock call.
func (s *EditSessions) Begin(userLabel string) string {
	return s.sessions.Open(userLabel)
}

// BeginEdit acquires the advisory lock for the session. A live conflicting
// holder surfaces as *locking.AlreadyLockedError for the UI to display.
func (s *EditSessions) BeginEdit(ctx context.Context, token string, entityType string, entityId int) error {
	label, open := s.sessions.Label(token)
	if !open {
		return ErrSessionNotOpen
	}
	return s.locks.Acquire(entityType, entityId, token, label)
}

// EndEdit releases the lock; idempotent.
func (s *EditSessions) EndEdit(ctx context.Context, token string, entityType string, entityId int) {
	s.locks.Release(entityType, entityId, token)
}

// End closes the session in an orderly way, dropping any locks it holds.
func (s *EditSessions) End(token string) {
	s.locks.ReleaseAllHeldBy(token)
	s.sessions.Close(token)
}

// TerminateAbnormally handles the crash/disconnect path: autosave the
// unsaved edit (when there is one), then tear the session down so its
// locks are reclaimable immediately.
func (s *EditSessions) TerminateAbnormally(ctx context.Context, token string, ownerId int, baseProductId *int, baseVersion int, fieldValues map[string]string, originalValues map[string]string) error {
	var captureErr error
	if len(fieldValues) > 0 {
		captureErr = s.drafts.CaptureOnTerminate(ctx, ownerId, baseProductId, baseVersion, fieldValues, originalValues)
		if captureErr != nil {
			s.logger.WithFields(logrus.Fields{
				"owner_id": ownerId,
			}).Errorf("draft autosave failed on abnormal termination: %v", captureErr)
		}
	}
	// Locks go away even when the autosave failed.
	s.locks.ReleaseAllHeldBy(token)
	s.sessions.Close(token)
	return captureErr
}
