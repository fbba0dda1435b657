package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Draft is an autosaved snapshot of an in-progress product edit, captured
// when the owner's session ended without an explicit save. Exactly one row
// per owner: a new capture replaces the previous one.
type Draft struct {
	ID             int        `gorm:"primary_key" json:"id"`
	OwnerId        int        `gorm:"uniqueIndex;not null" json:"owner_id"`
	BaseProductId  *int       `gorm:"default:null" json:"base_product_id"`
	BaseVersion    int        `gorm:"not null;default:0" json:"base_version"`
	FieldValues    []byte     `gorm:"type:json" json:"field_values"`
	OriginalValues []byte     `gorm:"type:json" json:"original_values"`
	CapturedAt     time.Time  `gorm:"not null" json:"captured_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (d *Draft) DecodeFieldValues() (map[string]string, error) {
	values := map[string]string{}
	if len(d.FieldValues) == 0 {
		return values, nil
	}
	err := utils.UnmarshalFromJSON(d.FieldValues, &values)
	return values, err
}

func (d *Draft) DecodeOriginalValues() (map[string]string, error) {
	values := map[string]string{}
	if len(d.OriginalValues) == 0 {
		return values, nil
	}
	err := utils.UnmarshalFromJSON(d.OriginalValues, &values)
	return values, err
}

// UpsertDraftByOwner replaces the owner's draft (one draft per user).
func UpsertDraftByOwner(ctx context.Context, draft *Draft) error {
	db := config.GetDB()
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"base_product_id", "base_version", "field_values", "original_values", "captured_at",
		}),
	}).Create(draft).Error
}

// FindDraftByOwner returns ErrorRecordNotFound when the owner is Clean.
func FindDraftByOwner(ctx context.Context, ownerId int) (*Draft, error) {
	db := config.GetDB()
	var draft Draft
	err := db.WithContext(ctx).Where("owner_id = ?", ownerId).First(&draft).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &draft, nil
}

// DeleteDraftByOwner is idempotent.
func DeleteDraftByOwner(ctx context.Context, ownerId int) error {
	db := config.GetDB()
	return db.WithContext(ctx).Where("owner_id = ?", ownerId).Delete(&Draft{}).Error
}
