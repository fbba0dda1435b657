package models

import (
	"context"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
	"gorm.io/gorm"
)

// Every mutable entity carries an integer version column. A write must
// supply the version it read; the row is updated only when the stored
// version still matches, and the version is bumped by exactly one.
// A stale version is reported as ErrorVersionConflict, never applied.

// UpdateIfVersion performs the compare-and-swap UPDATE on tx. The updates
// map must not contain the version key; it is set here.
func UpdateIfVersion[T any](tx *gorm.DB, id int, version int, updates map[string]interface{}) error {
	var model T
	updates["version"] = version + 1
	res := tx.Model(&model).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Row gone or version moved; distinguish for the caller.
		var count int64
		if err := tx.Model(&model).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return utils.ErrorRecordNotFound
		}
		return utils.ErrorVersionConflict
	}
	return nil
}

// UpdateEntityIfVersion is UpdateIfVersion on the default connection.
func UpdateEntityIfVersion[T any](ctx context.Context, id int, version int, updates map[string]interface{}) error {
	db := config.GetDB()
	return UpdateIfVersion[T](db.WithContext(ctx), id, version, updates)
}
