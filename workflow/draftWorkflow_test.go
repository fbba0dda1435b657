package workflow

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/storefront_backend/models"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type fakeDraftStore struct {
	products map[int]*models.Product
	drafts   map[int]*models.Draft
}

func newFakeDraftStore() *fakeDraftStore {
	return &fakeDraftStore{
		products: map[int]*models.Product{},
		drafts:   map[int]*models.Draft{},
	}
}

func (s *fakeDraftStore) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeDraftStore) UpsertDraft(ctx context.Context, draft *models.Draft) error {
	cp := *draft
	s.drafts[draft.OwnerId] = &cp
	return nil
}

func (s *fakeDraftStore) FindDraft(ctx context.Context, ownerId int) (*models.Draft, error) {
	d, ok := s.drafts[ownerId]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *fakeDraftStore) DeleteDraft(ctx context.Context, ownerId int) error {
	delete(s.drafts, ownerId)
	return nil
}

func newTestLifecycle(store DraftStore) *DraftLifecycle {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewDraftLifecycle(store, nil, logger)
}

func price(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestFetchAndConsume_CleanOwnerGetsNil(t *testing.T) {
	l := newTestLifecycle(newFakeDraftStore())

	merged, err := l.FetchAndConsume(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged != nil {
		t.Fatalf("clean owner must get nil, got %+v", merged)
	}
}

func TestFetchAndConsume_SecondCallObservesClean(t *testing.T) {
	store := newFakeDraftStore()
	base := &models.Product{ID: 5, Name: "A5 Notebook", Price: price("3.20"), StockCount: 200, Availability: models.AvailabilityAvailable}
	store.products[5] = base
	l := newTestLifecycle(store)

	originals := base.FieldValues()
	draft := map[string]string{}
	for k, v := range originals {
		draft[k] = v
	}
	draft[models.FieldProductName] = "A5 Notebook (dotted)"
	if err := l.CaptureOnTerminate(context.Background(), 1, &base.ID, base.Version, draft, originals); err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	first, err := l.FetchAndConsume(context.Background(), 1)
	if err != nil || first == nil {
		t.Fatalf("first consume: merged=%v err=%v", first, err)
	}
	second, err := l.FetchAndConsume(context.Background(), 1)
	if err != nil {
		t.Fatalf("second consume errored: %v", err)
	}
	if second != nil {
		t.Fatal("consumption must delete the draft; second call saw one")
	}
}

func TestFetchAndConsume_DraftWinsAndShowsCurrentAsOriginal(t *testing.T) {
	store := newFakeDraftStore()
	// The editor saw value A.
	base := &models.Product{ID: 5, Name: "A", Price: price("10"), StockCount: 3, Availability: models.AvailabilityAvailable}
	originals := base.FieldValues()

	// They typed B, then the session died.
	draft := map[string]string{}
	for k, v := range originals {
		draft[k] = v
	}
	draft[models.FieldProductName] = "B"

	// Meanwhile another editor saved C.
	current := *base
	current.Name = "C"
	current.Version = base.Version + 1
	store.products[5] = &current

	l := newTestLifecycle(store)
	if err := l.CaptureOnTerminate(context.Background(), 1, &base.ID, base.Version, draft, originals); err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	merged, err := l.FetchAndConsume(context.Background(), 1)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if merged.Product.Name != "B" {
		t.Fatalf("draft value must win, got %q", merged.Product.Name)
	}
	if got := merged.OriginalValues[models.FieldProductName]; got != "C" {
		t.Fatalf("overwritten value must be the other editor's current one, got %q", got)
	}
	if len(merged.DirtyFields) != 1 || merged.DirtyFields[0] != models.FieldProductName {
		t.Fatalf("expected exactly the name to be dirty, got %v", merged.DirtyFields)
	}
}

func TestFetchAndConsume_DirtyFieldsFollowDeclaredOrder(t *testing.T) {
	store := newFakeDraftStore()
	base := &models.Product{ID: 5, Name: "A", Price: price("10"), StockCount: 3, Availability: models.AvailabilityAvailable}
	store.products[5] = base
	l := newTestLifecycle(store)

	originals := base.FieldValues()
	draft := map[string]string{}
	for k, v := range originals {
		draft[k] = v
	}
	// Dirty two fields whose alphabetical order is the reverse of their
	// declared order, plus a stale key from an older snapshot format.
	draft[models.FieldAvailability] = string(models.AvailabilityDiscontinued)
	draft[models.FieldPrice] = "12.50"
	draft["supplier_code"] = "orphaned"

	if err := l.CaptureOnTerminate(context.Background(), 1, &base.ID, base.Version, draft, originals); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	merged, err := l.FetchAndConsume(context.Background(), 1)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(merged.DirtyFields) != 2 || merged.DirtyFields[0] != models.FieldPrice || merged.DirtyFields[1] != models.FieldAvailability {
		t.Fatalf("dirty fields must come out in declared order without stale keys, got %v", merged.DirtyFields)
	}
	if _, ok := merged.OriginalValues["supplier_code"]; ok {
		t.Fatal("stale snapshot keys must be dropped from the merge")
	}
}

func TestFetchAndConsume_UntouchedFieldKeepsConcurrentEdit(t *testing.T) {
	store := newFakeDraftStore()
	base := &models.Product{ID: 5, Name: "A5 Notebook", Price: price("3.20"), StockCount: 200, Availability: models.AvailabilityAvailable}
	originals := base.FieldValues()

	// Draft only changes the price; the name is untouched.
	draft := map[string]string{}
	for k, v := range originals {
		draft[k] = v
	}
	draft[models.FieldPrice] = "3.50"

	// Someone else renamed the product in the meantime.
	current := *base
	current.Name = "A5 Notebook (2nd ed.)"
	current.Version = base.Version + 1
	store.products[5] = &current

	l := newTestLifecycle(store)
	if err := l.CaptureOnTerminate(context.Background(), 1, &base.ID, base.Version, draft, originals); err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	merged, err := l.FetchAndConsume(context.Background(), 1)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if merged.Product.Name != "A5 Notebook (2nd ed.)" {
		t.Fatalf("untouched field must keep the concurrent edit, got %q", merged.Product.Name)
	}
	if !merged.Product.Price.Equal(price("3.50")) {
		t.Fatalf("draft price must win, got %s", merged.Product.Price)
	}
	if len(merged.DirtyFields) != 1 || merged.DirtyFields[0] != models.FieldPrice {
		t.Fatalf("only the price should be dirty, got %v", merged.DirtyFields)
	}
}

func TestFetchAndConsume_DeletedBaseMergesOntoBlank(t *testing.T) {
	store := newFakeDraftStore()
	base := &models.Product{ID: 5, Name: "A5 Notebook", Price: price("3.20"), StockCount: 200, Availability: models.AvailabilityAvailable}
	originals := base.FieldValues()
	draft := map[string]string{}
	for k, v := range originals {
		draft[k] = v
	}
	draft[models.FieldProductName] = "A5 Notebook (dotted)"

	// Product 5 was deleted while the draft slept; the store has no row.
	l := newTestLifecycle(store)
	if err := l.CaptureOnTerminate(context.Background(), 1, &base.ID, base.Version, draft, originals); err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	merged, err := l.FetchAndConsume(context.Background(), 1)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if !merged.BaseWasDeleted {
		t.Fatal("expected BaseWasDeleted")
	}
	if merged.Product.ID != 0 {
		t.Fatalf("merge target must be a blank entity, got id %d", merged.Product.ID)
	}
	if merged.Product.Name != "A5 Notebook (dotted)" {
		t.Fatalf("draft value must survive onto the blank entity, got %q", merged.Product.Name)
	}
}

func TestFetchAndConsume_CorruptSnapshotIsConsumedAndReported(t *testing.T) {
	store := newFakeDraftStore()
	store.drafts[1] = &models.Draft{
		OwnerId:        1,
		FieldValues:    []byte("{not json"),
		OriginalValues: []byte("{}"),
		CapturedAt:     time.Now(),
	}
	l := newTestLifecycle(store)

	if _, err := l.FetchAndConsume(context.Background(), 1); err == nil {
		t.Fatal("corrupt snapshot must surface an error")
	}
	if _, ok := store.drafts[1]; ok {
		t.Fatal("corrupt snapshot must still be consumed")
	}
}

func TestCaptureOnTerminate_ReplacesEarlierDraft(t *testing.T) {
	store := newFakeDraftStore()
	base := &models.Product{ID: 5, Name: "A5 Notebook", Price: price("3.20"), StockCount: 200, Availability: models.AvailabilityAvailable}
	store.products[5] = base
	originals := base.FieldValues()
	l := newTestLifecycle(store)

	firstDraft := map[string]string{models.FieldProductName: "first"}
	if err := l.CaptureOnTerminate(context.Background(), 1, &base.ID, base.Version, firstDraft, originals); err != nil {
		t.Fatalf("first capture failed: %v", err)
	}
	secondDraft := map[string]string{models.FieldProductName: "second"}
	if err := l.CaptureOnTerminate(context.Background(), 1, &base.ID, base.Version, secondDraft, originals); err != nil {
		t.Fatalf("second capture failed: %v", err)
	}

	merged, err := l.FetchAndConsume(context.Background(), 1)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if merged.Product.Name != "second" {
		t.Fatalf("latest capture must win, got %q", merged.Product.Name)
	}
}

func TestDiscard_DropsTheDraftUnmerged(t *testing.T) {
	store := newFakeDraftStore()
	base := &models.Product{ID: 5, Name: "A5 Notebook", Price: price("3.20")}
	store.products[5] = base
	l := newTestLifecycle(store)

	originals := base.FieldValues()
	draft := map[string]string{models.FieldProductName: "never seen"}
	if err := l.CaptureOnTerminate(context.Background(), 1, &base.ID, base.Version, draft, originals); err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	if err := l.Discard(context.Background(), 1); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	has, err := l.HasDraft(context.Background(), 1)
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if has {
		t.Fatal("discard must leave the owner clean")
	}
}

func TestHasDraft_ProbesWithoutConsuming(t *testing.T) {
	store := newFakeDraftStore()
	base := &models.Product{ID: 5, Name: "A5 Notebook"}
	store.products[5] = base
	l := newTestLifecycle(store)

	has, err := l.HasDraft(context.Background(), 1)
	if err != nil || has {
		t.Fatalf("clean owner: has=%v err=%v", has, err)
	}

	originals := base.FieldValues()
	draft := map[string]string{models.FieldProductName: "draft"}
	if err := l.CaptureOnTerminate(context.Background(), 1, &base.ID, base.Version, draft, originals); err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		has, err = l.HasDraft(context.Background(), 1)
		if err != nil || !has {
			t.Fatalf("probe %d: has=%v err=%v", i, has, err)
		}
	}
}
