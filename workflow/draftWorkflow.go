package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/storefront_backend/models"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// DraftLifecycle runs the autosave/merge protocol. Per owner the states
// are Clean (no draft row), Captured (row exists), Consumed (row read back
// and deleted). Capture happens when the session layer detects an abnormal
// end with unsaved changes; consumption happens on the owner's next visit.
type DraftLifecycle struct {
	store  DraftStore
	locker *redislock.Client // optional, best-effort cross-instance guard
	logger *logrus.Logger
}

func NewDraftLifecycle(store DraftStore, locker *redislock.Client, logger *logrus.Logger) *DraftLifecycle {
	return &DraftLifecycle{store: store, locker: locker, logger: logger}
}

// MergeResult is what the owner's next session gets back: the draft values
// replayed onto the current persisted state.
type MergeResult struct {
	// Product carries the merged field values. ID is zero when the base
	// entity was deleted while the draft slept.
	Product *models.Product
	// DirtyFields are the fields the draft changed relative to what the
	// editor originally saw, in stable order for UI highlighting.
	DirtyFields []string
	// OriginalValues maps each dirty field to the value it is overwriting
	// right now — the other editor's value when one interleaved, so the
	// divergence is visible ("was: ...").
	OriginalValues map[string]string
	BaseWasDeleted bool
	CapturedAt     time.Time
}

// CaptureOnTerminate snapshots the in-progress edit, replacing any earlier
// draft the owner had (one draft per user). originalValues are the values
// the editor started from; they anchor the three-way merge later.
func (l *DraftLifecycle) CaptureOnTerminate(ctx context.Context, ownerId int, baseProductId *int, baseVersion int, fieldValues map[string]string, originalValues map[string]string) error {
	fields, err := utils.MarshalToJSON(fieldValues)
	if err != nil {
		return err
	}
	originals, err := utils.MarshalToJSON(originalValues)
	if err != nil {
		return err
	}

	draft := models.Draft{
		OwnerId:        ownerId,
		BaseProductId:  baseProductId,
		BaseVersion:    baseVersion,
		FieldValues:    []byte(fields),
		OriginalValues: []byte(originals),
		CapturedAt:     time.Now(),
	}
	if err := l.store.UpsertDraft(ctx, &draft); err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"owner_id": ownerId,
		"fields":   len(fieldValues),
	}).Info("draft autosaved on abnormal session end")
	return nil
}

// FetchAndConsume returns (nil, nil) when the owner is Clean. Otherwise it
// re-fetches the current persisted state of the base entity, merges the
// draft on top, and deletes the draft row in the same transition — a second
// call observes Clean no matter what the first returned.
func (l *DraftLifecycle) FetchAndConsume(ctx context.Context, ownerId int) (*MergeResult, error) {
	release := l.obtainOwnerLock(ctx, ownerId)
	defer release()

	draft, err := l.store.FindDraft(ctx, ownerId)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	draftValues, err := draft.DecodeFieldValues()
	if err != nil {
		// Unreadable snapshot: consume it anyway so it cannot wedge the
		// owner's future sessions.
		_ = l.store.DeleteDraft(ctx, ownerId)
		return nil, err
	}
	originalValues, err := draft.DecodeOriginalValues()
	if err != nil {
		_ = l.store.DeleteDraft(ctx, ownerId)
		return nil, err
	}

	result := MergeResult{
		Product:        &models.Product{Availability: models.AvailabilityComing},
		OriginalValues: map[string]string{},
		CapturedAt:     draft.CapturedAt,
	}
	if draft.BaseProductId != nil {
		current, err := l.store.GetProduct(ctx, *draft.BaseProductId)
		if err == utils.ErrorRecordNotFound {
			// Deleted while the draft slept; merge onto a blank entity.
			result.BaseWasDeleted = true
		} else if err != nil {
			return nil, err
		} else {
			result.Product = current
		}
	}

	currentValues := result.Product.FieldValues()

	// Fields merge in declared order so the UI renders divergences in
	// the same order the edit form shows them. Snapshot keys outside the
	// declared set are stale leftovers and are dropped.
	for _, field := range models.ProductFieldNames() {
		draftValue, ok := draftValues[field]
		if !ok {
			continue
		}
		if draftValue == originalValues[field] {
			// The editor never touched this field; whatever is persisted
			// now (possibly someone else's edit) stands.
			continue
		}
		// The draft wins over interleaving external edits, but the value
		// shown as "was" is the current one, so divergence is visible.
		result.OriginalValues[field] = currentValues[field]
		result.DirtyFields = append(result.DirtyFields, field)
		if err := result.Product.ApplyFieldValues(map[string]string{field: draftValue}); err != nil {
			_ = l.store.DeleteDraft(ctx, ownerId)
			return nil, err
		}
	}

	if err := l.store.DeleteDraft(ctx, ownerId); err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"owner_id":     ownerId,
		"dirty_fields": len(result.DirtyFields),
		"base_deleted": result.BaseWasDeleted,
	}).Info("draft consumed")
	return &result, nil
}

// Discard deletes the draft without merging (owner declined to continue).
func (l *DraftLifecycle) Discard(ctx context.Context, ownerId int) error {
	return l.store.DeleteDraft(ctx, ownerId)
}

// HasDraft probes without consuming; used for the login-time prompt.
func (l *DraftLifecycle) HasDraft(ctx context.Context, ownerId int) (bool, error) {
	_, err := l.store.FindDraft(ctx, ownerId)
	if err == utils.ErrorRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// obtainOwnerLock serializes consumption across instances, best effort:
// when Redis is down or the lock is contended we proceed anyway and let
// the row delete settle the race.
func (l *DraftLifecycle) obtainOwnerLock(ctx context.Context, ownerId int) func() {
	if l.locker == nil {
		return func() {}
	}
	key := fmt.Sprintf("draft:%d", ownerId)
	lock, err := l.locker.Obtain(ctx, key, 10*time.Second, nil)
	if err == redislock.ErrNotObtained {
		l.logger.WithFields(logrus.Fields{"owner_id": ownerId}).
			Warn("could not obtain draft lock; proceeding without it")
		return func() {}
	} else if err != nil {
		l.logger.WithFields(logrus.Fields{"owner_id": ownerId}).
			Warn("error obtaining draft lock; proceeding without it: " + err.Error())
		return func() {}
	}
	return func() { _ = lock.Release(ctx) }
}
