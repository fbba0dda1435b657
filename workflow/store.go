package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/models"
)

// ApprovalStore is the narrow persistence surface the approval workflow
// needs: versioned reads plus one atomic decision commit. Reads return
// utils.ErrorRecordNotFound for missing rows; CommitDecision returns
// utils.ErrorVersionConflict when any guarded row moved underneath us.
type ApprovalStore interface {
	GetPurchase(ctx context.Context, id int) (*models.Purchase, error)
	GetProduct(ctx context.Context, id int) (*models.Product, error)
	CommitDecision(ctx context.Context, decision *Decision) error
}

// DraftStore persists one pending-edit snapshot per owner.
type DraftStore interface {
	GetProduct(ctx context.Context, id int) (*models.Product, error)
	UpsertDraft(ctx context.Context, draft *models.Draft) error
	FindDraft(ctx context.Context, ownerId int) (*models.Draft, error)
	DeleteDraft(ctx context.Context, ownerId int) error
}

// Decision is a terminal purchase transition plus the stock writes it
// implies, all guarded by the versions read while deciding.
type Decision struct {
	PurchaseId      int
	PurchaseVersion int
	Status          models.PurchaseStatus
	DecidedAt       time.Time
	DecisionReason  *string
	StockWrites     []StockWrite
}

// StockWrite sets the product's stock to the computed count if the product
// version is still the one the decision was based on.
type StockWrite struct {
	ProductId      int
	ProductVersion int
	NewStockCount  int
}

// GormStore backs the workflows with the shared GORM connection.
type GormStore struct{}

func NewGormStore() *GormStore { return &GormStore{} }

func (s *GormStore) GetPurchase(ctx context.Context, id int) (*models.Purchase, error) {
	return models.GetPurchase(ctx, id)
}

func (s *GormStore) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	return models.GetProduct(ctx, id)
}

// CommitDecision applies the purchase transition and the stock writes in
// one transaction. Every UPDATE is compare-and-swap on version; the first
// stale row rolls the whole decision back.
func (s *GormStore) CommitDecision(ctx context.Context, decision *Decision) error {
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	err := models.UpdateIfVersion[models.Purchase](tx, decision.PurchaseId, decision.PurchaseVersion, map[string]interface{}{
		"Status":         decision.Status,
		"DecidedAt":      decision.DecidedAt,
		"DecisionReason": decision.DecisionReason,
	})
	if err != nil {
		tx.Rollback()
		return err
	}

	for _, write := range decision.StockWrites {
		err = models.UpdateIfVersion[models.Product](tx, write.ProductId, write.ProductVersion, map[string]interface{}{
			"StockCount": write.NewStockCount,
		})
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

func (s *GormStore) UpsertDraft(ctx context.Context, draft *models.Draft) error {
	return models.UpsertDraftByOwner(ctx, draft)
}

func (s *GormStore) FindDraft(ctx context.Context, ownerId int) (*models.Draft, error) {
	return models.FindDraftByOwner(ctx, ownerId)
}

func (s *GormStore) DeleteDraft(ctx context.Context, ownerId int) error {
	return models.DeleteDraftByOwner(ctx, ownerId)
}
