package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/storefront_backend/events"
	"bitbucket.org/mmdatafocus/storefront_backend/models"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
	"github.com/sirupsen/logrus"
)

type ApproveOutcome string

const (
	OutcomeCompleted ApproveOutcome = "Completed"
	OutcomeCancelled ApproveOutcome = "Cancelled"
)

// ApproveResult is the terminal decision an approval produced. An approver
// action always ends in one: insufficient stock degrades to Cancelled
// instead of blocking the approver with a retryable error.
type ApproveResult struct {
	Outcome  ApproveOutcome
	Purchase *models.Purchase
}

// ApprovalWorkflow applies purchase decisions exactly once under concurrent
// approval attempts. Contention is resolved by compare-and-swap on the rows'
// versions with a single retry; a second conflict propagates to the caller.
type ApprovalWorkflow struct {
	store    ApprovalStore
	notifier events.Notifier
	logger   *logrus.Logger
}

func NewApprovalWorkflow(store ApprovalStore, notifier events.Notifier, logger *logrus.Logger) *ApprovalWorkflow {
	return &ApprovalWorkflow{store: store, notifier: notifier, logger: logger}
}

// Approve reads the PENDING purchase, checks every line against current
// stock, and commits either COMPLETED (stock decremented) or CANCELLED
// (stock untouched, shortage recorded). On a version conflict the whole
// sequence is retried exactly once from a fresh read; the retry may find
// a concurrent approver already decided, in which case that outcome is
// reported without another write.
func (w *ApprovalWorkflow) Approve(ctx context.Context, purchaseId int, approverId int, comment string) (*ApproveResult, error) {
	result, wrote, err := w.approveOnce(ctx, purchaseId, approverId, comment, false)
	if errors.Is(err, utils.ErrorVersionConflict) {
		w.logger.WithFields(logrus.Fields{
			"purchase_id": purchaseId,
			"approver_id": approverId,
		}).Info("approve hit a version conflict; retrying once")
		result, wrote, err = w.approveOnce(ctx, purchaseId, approverId, comment, true)
	}
	if err != nil {
		return nil, err
	}
	if wrote {
		w.notifier.Publish(events.PurchaseStatusChanged{PurchaseId: purchaseId})
	}
	return result, nil
}

func (w *ApprovalWorkflow) approveOnce(ctx context.Context, purchaseId int, approverId int, comment string, isRetry bool) (*ApproveResult, bool, error) {
	purchase, err := w.store.GetPurchase(ctx, purchaseId)
	if err != nil {
		return nil, false, err
	}

	if purchase.Status != models.PurchaseStatusPending {
		// On retry a lost race is not an error: a concurrent approver won
		// and the decision already stands; report what they produced.
		if isRetry {
			switch purchase.Status {
			case models.PurchaseStatusCompleted:
				return &ApproveResult{Outcome: OutcomeCompleted, Purchase: purchase}, false, nil
			case models.PurchaseStatusCancelled:
				return &ApproveResult{Outcome: OutcomeCancelled, Purchase: purchase}, false, nil
			}
		}
		return nil, false, utils.ErrorNotPending
	}
	if purchase.ApproverId == nil || *purchase.ApproverId != approverId {
		return nil, false, utils.ErrorWrongApprover
	}

	decision := Decision{
		PurchaseId:      purchase.ID,
		PurchaseVersion: purchase.Version,
		DecidedAt:       time.Now(),
	}

	var insufficient []string
	var stockWrites []StockWrite
	for i := range purchase.Lines {
		line := &purchase.Lines[i]
		product, err := w.store.GetProduct(ctx, line.ProductId)
		if err != nil {
			return nil, false, err
		}
		if product.StockCount < line.Quantity {
			insufficient = append(insufficient,
				fmt.Sprintf("%s: needs %d, has %d", product.Name, line.Quantity, product.StockCount))
			continue
		}
		stockWrites = append(stockWrites, StockWrite{
			ProductId:      product.ID,
			ProductVersion: product.Version,
			NewStockCount:  product.StockCount - line.Quantity,
		})
	}

	outcome := OutcomeCompleted
	if len(insufficient) > 0 {
		// No stock mutation on the cancel branch.
		outcome = OutcomeCancelled
		reason := "Insufficient stock: " + strings.Join(insufficient, ", ")
		decision.Status = models.PurchaseStatusCancelled
		decision.DecisionReason = &reason
	} else {
		decision.Status = models.PurchaseStatusCompleted
		decision.StockWrites = stockWrites
		if strings.TrimSpace(comment) != "" {
			decision.DecisionReason = &comment
		}
	}

	if err := w.store.CommitDecision(ctx, &decision); err != nil {
		return nil, false, err
	}

	updated, err := w.store.GetPurchase(ctx, purchaseId)
	if err != nil {
		return nil, false, err
	}

	w.logger.WithFields(logrus.Fields{
		"purchase_id": purchaseId,
		"approver_id": approverId,
		"status":      updated.Status,
	}).Info("purchase decided")

	return &ApproveResult{Outcome: outcome, Purchase: updated}, true, nil
}

// Reject marks the purchase REJECTED with a mandatory reason. No stock is
// touched, so contention is not expected: a single write, no retry, and a
// conflict still surfaces as an error instead of being swallowed.
func (w *ApprovalWorkflow) Reject(ctx context.Context, purchaseId int, userId int, reason string) (*models.Purchase, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, utils.ErrorEmptyReason
	}

	purchase, err := w.store.GetPurchase(ctx, purchaseId)
	if err != nil {
		return nil, err
	}
	if purchase.Status != models.PurchaseStatusPending {
		return nil, utils.ErrorNotPending
	}

	decision := Decision{
		PurchaseId:      purchase.ID,
		PurchaseVersion: purchase.Version,
		Status:          models.PurchaseStatusRejected,
		DecidedAt:       time.Now(),
		DecisionReason:  &reason,
	}
	if err := w.store.CommitDecision(ctx, &decision); err != nil {
		return nil, err
	}

	updated, err := w.store.GetPurchase(ctx, purchaseId)
	if err != nil {
		return nil, err
	}

	w.logger.WithFields(logrus.Fields{
		"purchase_id": purchaseId,
		"user_id":     userId,
	}).Info("purchase rejected")

	w.notifier.Publish(events.PurchaseStatusChanged{PurchaseId: purchaseId})
	return updated, nil
}
