package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
)

type Category struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Version   int       `gorm:"not null;default:0" json:"version"`
	Name      string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCategory struct {
	Name string `json:"name" binding:"required"`
}

func CreateCategory(ctx context.Context, input *NewCategory) (*Category, error) {
	if err := utils.ValidateUnique[Category](ctx, "name", input.Name, 0); err != nil {
		return nil, err
	}

	category := Category{
		Name: input.Name,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&category).Error
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// UpdateCategory renames a category; version guards concurrent edits.
func UpdateCategory(ctx context.Context, id int, version int, input *NewCategory) (*Category, error) {
	if err := utils.ValidateUnique[Category](ctx, "name", input.Name, id); err != nil {
		return nil, err
	}

	err := UpdateEntityIfVersion[Category](ctx, id, version, map[string]interface{}{
		"Name": input.Name,
	})
	if err != nil {
		return nil, err
	}
	return utils.FetchSingleModel[Category](ctx, id)
}

func GetCategory(ctx context.Context, id int) (*Category, error) {
	return utils.FetchSingleModel[Category](ctx, id)
}

func ListCategories(ctx context.Context) ([]*Category, error) {
	return utils.FetchAllModels[Category](ctx)
}

func DeleteCategory(ctx context.Context, id int) (*Category, error) {
	category, err := utils.FetchSingleModel[Category](ctx, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Delete(category).Error
	if err != nil {
		return nil, err
	}
	return category, nil
}
