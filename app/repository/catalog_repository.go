package repository

import (
	"github.com/paycycle/paycycle/app/models"
	"gorm.io/gorm"
)

// catalogRepository implements the CatalogRepository interface
type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a new catalog repository instance
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

// CategoryExists reports whether a category row exists
func (r *catalogRepository) CategoryExists(id uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.Category{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// VendorExists reports whether a vendor row exists
func (r *catalogRepository) VendorExists(id uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.Vendor{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// GetProduct retrieves a product by its ID
func (r *catalogRepository) GetProduct(id uint) (*models.Product, error) {
	var product models.Product
	err := r.db.First(&product, id).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// DecrementStock reduces stock with a conditional UPDATE so stock never goes
// negative under concurrent sales. Returns false on insufficient stock.
func (r *catalogRepository) DecrementStock(productID uint, quantity int) (bool, error) {
	tx := r.db.Model(&models.Product{}).
		Where("id = ? AND stock_quantity >= ?", productID, quantity).
		Update("stock_quantity", gorm.Expr("stock_quantity - ?", quantity))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
