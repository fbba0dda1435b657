// seed-dev populates a development database with a small catalog and a few
// users so the locking, draft, and approval flows can be exercised by hand.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-dev
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var userNames = []string{"alice", "bob", "carol"}

var categoryNames = []string{"Books", "Stationery", "Electronics"}

type seedProduct struct {
	name     string
	price    string
	stock    int
	category string
}

var seedProducts = []seedProduct{
	{"The Go Programming Language", "38.50", 12, "Books"},
	{"Refactoring", "44.00", 5, "Books"},
	{"A5 Notebook", "3.20", 200, "Stationery"},
	{"Gel Pen (black)", "1.10", 500, "Stationery"},
	{"USB-C Cable 1m", "7.90", 40, "Electronics"},
	{"Mechanical Keyboard", "89.00", 3, "Electronics"},
}

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	for _, name := range userNames {
		if err := ensureUser(ctx, db, name); err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed user %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	categoryIds := map[string]int{}
	for _, name := range categoryNames {
		id, err := ensureCategory(ctx, db, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed category %s: %v\n", name, err)
			os.Exit(1)
		}
		categoryIds[name] = id
	}

	for _, p := range seedProducts {
		if err := ensureProduct(ctx, db, p, categoryIds[p.category]); err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed product %s: %v\n", p.name, err)
			os.Exit(1)
		}
	}

	fmt.Printf("seeded %d users, %d categories, %d products\n", len(userNames), len(categoryNames), len(seedProducts))
}

func ensureUser(ctx context.Context, db *gorm.DB, name string) error {
	var existing models.User
	err := db.WithContext(ctx).Where("name = ?", name).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return db.WithContext(ctx).Create(&models.User{Name: name}).Error
}

func ensureCategory(ctx context.Context, db *gorm.DB, name string) (int, error) {
	var existing models.Category
	err := db.WithContext(ctx).Where("name = ?", name).First(&existing).Error
	if err == nil {
		return existing.ID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return 0, err
	}
	category := models.Category{Name: name}
	if err := db.WithContext(ctx).Create(&category).Error; err != nil {
		return 0, err
	}
	return category.ID, nil
}

func ensureProduct(ctx context.Context, db *gorm.DB, p seedProduct, categoryId int) error {
	var existing models.Product
	err := db.WithContext(ctx).Where("name = ?", p.name).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	price, err := decimal.NewFromString(p.price)
	if err != nil {
		return err
	}
	product := models.Product{
		Name:         p.name,
		Price:        price,
		StockCount:   p.stock,
		Availability: models.AvailabilityAvailable,
		CategoryId:   categoryId,
	}
	return db.WithContext(ctx).Create(&product).Error
}
