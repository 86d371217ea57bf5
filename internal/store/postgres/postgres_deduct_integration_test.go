package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Mercy294/Mayondo/internal/store"
)

func TestDeductStockDecrementsAndRejects(t *testing.T) {
	databaseURL := os.Getenv("MAYONDO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MAYONDO_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	stockID := fmt.Sprintf("stk-deduct-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_items WHERE id = $1`, stockID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_items (id, name, type, quantity, category, color, cost_price, selling_price, supplier, date_added, updated_at)
		VALUES ($1, 'Deduct IT Plank', 'Wood', 10, 'Hardwood', 'Brown', 40.0, 65.0, 'IT Supplier', now(), now())
	`, stockID); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	item, err := s.DeductStock(ctx, stockID, 3)
	if err != nil {
		t.Fatalf("deduct stock: %v", err)
	}
	if item.Quantity != 7 {
		t.Fatalf("expected quantity 7 after deduct, got %d", item.Quantity)
	}

	var qty int
	if err := s.db.QueryRowContext(ctx, `
		SELECT quantity
		FROM stock_items
		WHERE id = $1
	`, stockID).Scan(&qty); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if qty != 7 {
		t.Fatalf("expected stored quantity 7, got %d", qty)
	}

	_, err = s.DeductStock(ctx, stockID, 50)
	var insufficient *store.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if insufficient.Available != 7 || insufficient.Requested != 50 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT quantity
		FROM stock_items
		WHERE id = $1
	`, stockID).Scan(&qty); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if qty != 7 {
		t.Fatalf("rejected sale must not change quantity, got %d", qty)
	}
}
