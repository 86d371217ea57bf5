package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mercy294/Mayondo/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateUser      = errors.New("duplicate user")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
)

// ValidationError reports the first missing or invalid field of a request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InsufficientStockError carries the available-versus-requested counts for a
// rejected sale. Stock is left unchanged when it is returned.
type InsufficientStockError struct {
	StockName string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock available for %s: available %d, requested %d",
		e.StockName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ValidateStockRow is the implementation-shared write guard for stock rows.
// It names the offending field so callers can surface it directly.
func ValidateStockRow(item domain.StockItem) error {
	switch {
	case item.Name == "":
		return &ValidationError{Field: "name"}
	case item.Quantity < 0:
		return &ValidationError{Field: "quantity", Reason: "must not be negative"}
	case item.CostPrice < 0:
		return &ValidationError{Field: "cost_price", Reason: "must not be negative"}
	case item.SellingPrice < 0:
		return &ValidationError{Field: "selling_price", Reason: "must not be negative"}
	}
	return nil
}

func ValidateSaleRow(sale domain.Sale) error {
	switch {
	case sale.StockItemID == "":
		return &ValidationError{Field: "stock_item_id"}
	case sale.QuantitySold < 1:
		return &ValidationError{Field: "quantity_sold", Reason: "must be at least 1"}
	}
	return nil
}

func ValidateUserRow(user domain.User) error {
	switch {
	case user.Username == "":
		return &ValidationError{Field: "username"}
	case user.Email == "":
		return &ValidationError{Field: "email"}
	}
	return nil
}

// Repository is the persistence surface the service layer depends on.
// The postgres implementation backs production; the memory implementation
// backs dev mode and unit tests.
type Repository interface {
	// Stock ledger.
	ListStockItems(ctx context.Context, limit int, offset int) ([]domain.StockItem, int, error)
	GetStockItem(ctx context.Context, id string) (*domain.StockItem, error)
	CreateStockItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error)
	UpdateStockItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error)
	DeleteStockItem(ctx context.Context, id string) error
	// DeductStock validates and decrements quantity as one atomic step.
	// It fails with *InsufficientStockError without touching the row when
	// the requested quantity exceeds what is on hand.
	DeductStock(ctx context.Context, id string, qty int) (*domain.StockItem, error)

	// Sales.
	ListSales(ctx context.Context, limit int, offset int) ([]domain.Sale, int, error)
	ListSalesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id string) error

	// User directory.
	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) error
}
