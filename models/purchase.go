package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
	"github.com/shopspring/decimal"
)

type Purchase struct {
	ID             int            `gorm:"primary_key" json:"id"`
	Version        int            `gorm:"not null;default:0" json:"version"`
	RequesterId    int            `gorm:"index;not null" json:"requester_id"`
	Requester      *User          `gorm:"foreignKey:RequesterId" json:"requester,omitempty"`
	ApproverId     *int           `gorm:"index;default:null" json:"approver_id"`
	Approver       *User          `gorm:"foreignKey:ApproverId" json:"approver,omitempty"`
	Status         PurchaseStatus `gorm:"type:enum('Pending','Completed','Rejected','Cancelled');not null;default:'Pending'" json:"status"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	DecidedAt      *time.Time     `gorm:"default:null" json:"decided_at"`
	DecisionReason *string        `gorm:"size:500;default:null" json:"decision_reason"`
	Lines          []PurchaseLine `gorm:"foreignKey:PurchaseId" json:"lines"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// PurchaseLine snapshots the unit price at creation time and is immutable
// afterward, so later price changes never rewrite purchase history.
type PurchaseLine struct {
	ID          int             `gorm:"primary_key" json:"id"`
	PurchaseId  int             `gorm:"index;not null" json:"purchase_id"`
	ProductId   int             `gorm:"index;not null" json:"product_id"`
	ProductName string          `gorm:"size:255;not null" json:"product_name"`
	Quantity    int             `gorm:"not null" json:"quantity" binding:"required"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
}

type NewPurchase struct {
	ApproverId *int              `json:"approver_id"`
	Lines      []NewPurchaseLine `json:"lines" binding:"required,dive"`
}

type NewPurchaseLine struct {
	ProductId int `json:"product_id" binding:"required"`
	Quantity  int `json:"quantity" binding:"required,gt=0"`
}

// LineTotal is quantity times the snapshotted unit price.
func (l *PurchaseLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (p *Purchase) Total() decimal.Decimal {
	total := decimal.Zero
	for i := range p.Lines {
		total = total.Add(p.Lines[i].LineTotal())
	}
	return total
}

// CreatePendingPurchase persists a PENDING purchase for the requester,
// snapshotting each line's unit price from the current product row.
func CreatePendingPurchase(ctx context.Context, requesterId int, input *NewPurchase) (*Purchase, error) {
	if len(input.Lines) == 0 {
		return nil, utils.ErrorEmptyCart
	}
	if err := utils.ValidateResourceId[User](ctx, requesterId); err != nil {
		return nil, err
	}
	if input.ApproverId != nil {
		if err := utils.ValidateResourceId[User](ctx, *input.ApproverId); err != nil {
			return nil, err
		}
	}

	purchase := Purchase{
		RequesterId: requesterId,
		ApproverId:  input.ApproverId,
		Status:      PurchaseStatusPending,
		CreatedAt:   time.Now(),
	}
	for _, line := range input.Lines {
		product, err := GetProduct(ctx, line.ProductId)
		if err != nil {
			return nil, err
		}
		purchase.Lines = append(purchase.Lines, PurchaseLine{
			ProductId:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   product.Price,
		})
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&purchase).Error
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

func GetPurchase(ctx context.Context, id int) (*Purchase, error) {
	return utils.FetchSingleModel[Purchase](ctx, id, "Lines")
}

func FindPurchasesByRequester(ctx context.Context, requesterId int, offset int, limit int) ([]*Purchase, error) {
	db := config.GetDB()
	var purchases []*Purchase
	err := db.WithContext(ctx).Preload("Lines").
		Where("requester_id = ?", requesterId).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&purchases).Error
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

func FindPendingByApprover(ctx context.Context, approverId int, offset int, limit int) ([]*Purchase, error) {
	db := config.GetDB()
	var purchases []*Purchase
	err := db.WithContext(ctx).Preload("Lines").
		Where("approver_id = ? AND status = ?", approverId, PurchaseStatusPending).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&purchases).Error
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

func FindAllPurchases(ctx context.Context, offset int, limit int) ([]*Purchase, error) {
	db := config.GetDB()
	var purchases []*Purchase
	err := db.WithContext(ctx).Preload("Lines").
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&purchases).Error
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

// FindRecentlyDecidedByRequester returns terminal purchases decided after
// since, newest decision first. Used for login-time "your purchase was
// decided while you were away" notices.
func FindRecentlyDecidedByRequester(ctx context.Context, requesterId int, since time.Time) ([]*Purchase, error) {
	db := config.GetDB()
	var purchases []*Purchase
	err := db.WithContext(ctx).Preload("Lines").
		Where("requester_id = ? AND status IN ? AND decided_at > ?",
			requesterId,
			[]PurchaseStatus{PurchaseStatusCompleted, PurchaseStatusRejected, PurchaseStatusCancelled},
			since).
		Order("decided_at DESC").
		Find(&purchases).Error
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

func FindPurchasesByStatus(ctx context.Context, status PurchaseStatus, offset int, limit int) ([]*Purchase, error) {
	db := config.GetDB()
	var purchases []*Purchase
	err := db.WithContext(ctx).Preload("Lines").
		Where("status = ?", status).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&purchases).Error
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

func CountPurchasesByStatus(ctx context.Context, status PurchaseStatus) (int64, error) {
	return utils.ResourceCountWhere[Purchase](ctx, "status = ?", status)
}

func CountPurchasesByRequester(ctx context.Context, requesterId int) (int64, error) {
	return utils.ResourceCountWhere[Purchase](ctx, "requester_id = ?", requesterId)
}

func CountPendingByApprover(ctx context.Context, approverId int) (int64, error) {
	return utils.ResourceCountWhere[Purchase](ctx, "approver_id = ? AND status = ?", approverId, PurchaseStatusPending)
}

func CountAllPurchases(ctx context.Context) (int64, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&Purchase{}).Count(&count).Error
	return count, err
}

type ProductPurchaseStat struct {
	ProductId   int    `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int64  `json:"quantity"`
}

// TopProductsByQuantity aggregates completed purchase lines.
func TopProductsByQuantity(ctx context.Context, limit int) ([]*ProductPurchaseStat, error) {
	db := config.GetDB()
	var stats []*ProductPurchaseStat
	err := db.WithContext(ctx).Model(&PurchaseLine{}).
		Select("purchase_lines.product_id AS product_id, purchase_lines.product_name AS product_name, SUM(purchase_lines.quantity) AS quantity").
		Joins("JOIN purchases ON purchases.id = purchase_lines.purchase_id").
		Where("purchases.status = ?", PurchaseStatusCompleted).
		Group("purchase_lines.product_id, purchase_lines.product_name").
		Order("quantity DESC").
		Limit(limit).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

type MonthlyPurchaseStat struct {
	Month string          `json:"month"`
	Total decimal.Decimal `json:"total"`
}

// MonthlyCompletedTotals sums completed purchase lines per calendar month
// over the trailing window, zero-filling months with no purchases.
func MonthlyCompletedTotals(ctx context.Context, months int) ([]*MonthlyPurchaseStat, error) {
	now := time.Now()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.Local).
		AddDate(0, -(months - 1), 0)

	db := config.GetDB()
	type row struct {
		Quantity  int64
		UnitPrice decimal.Decimal
		DecidedAt time.Time
	}
	var rows []row
	err := db.WithContext(ctx).Model(&PurchaseLine{}).
		Select("purchase_lines.quantity AS quantity, purchase_lines.unit_price AS unit_price, purchases.decided_at AS decided_at").
		Joins("JOIN purchases ON purchases.id = purchase_lines.purchase_id").
		Where("purchases.status = ? AND purchases.decided_at >= ?", PurchaseStatusCompleted, since).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[string]decimal.Decimal, months)
	order := make([]string, 0, months)
	for i := months - 1; i >= 0; i-- {
		key := since.AddDate(0, months-1-i, 0).Format("2006-01")
		totals[key] = decimal.Zero
		order = append(order, key)
	}
	for _, r := range rows {
		key := r.DecidedAt.Format("2006-01")
		if prev, ok := totals[key]; ok {
			totals[key] = prev.Add(r.UnitPrice.Mul(decimal.NewFromInt(r.Quantity)))
		}
	}

	stats := make([]*MonthlyPurchaseStat, 0, months)
	for _, key := range order {
		stats = append(stats, &MonthlyPurchaseStat{Month: key, Total: totals[key]})
	}
	return stats, nil
}
