package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Mercy294/Mayondo/internal/domain"
	"github.com/Mercy294/Mayondo/internal/pricing"
	"github.com/Mercy294/Mayondo/internal/store"
	"github.com/Mercy294/Mayondo/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListStockItems(ctx context.Context, limit int, offset int) ([]domain.StockItem, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_items`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, quantity, category, color, cost_price, selling_price, supplier, date_added
		FROM stock_items
		ORDER BY name, id
		LIMIT $1 OFFSET $2
	`, normalizeLimit(limit), maxOffset(offset))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]domain.StockItem, 0, limit)
	for rows.Next() {
		var item domain.StockItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Type, &item.Quantity, &item.Category, &item.Color, &item.CostPrice, &item.SellingPrice, &item.Supplier, &item.DateAdded); err != nil {
			return nil, 0, err
		}
		item.DateAdded = item.DateAdded.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

func (s *Store) GetStockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	var item domain.StockItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, quantity, category, color, cost_price, selling_price, supplier, date_added
		FROM stock_items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &item.Type, &item.Quantity, &item.Category, &item.Color, &item.CostPrice, &item.SellingPrice, &item.Supplier, &item.DateAdded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.DateAdded = item.DateAdded.UTC()
	return &item, nil
}

func (s *Store) CreateStockItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	if err := store.ValidateStockRow(item); err != nil {
		return nil, err
	}
	if item.ID == "" {
		item.ID = xid.New("stk")
	}
	if item.DateAdded.IsZero() {
		item.DateAdded = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_items (id, name, type, quantity, category, color, cost_price, selling_price, supplier, date_added, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, item.ID, item.Name, item.Type, item.Quantity, item.Category, item.Color, item.CostPrice, item.SellingPrice, item.Supplier, item.DateAdded)
	if err != nil {
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) UpdateStockItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_items
		SET name = $2, type = $3, quantity = $4, category = $5, color = $6,
			cost_price = $7, selling_price = $8, supplier = $9, updated_at = now()
		WHERE id = $1
	`, item.ID, item.Name, item.Type, item.Quantity, item.Category, item.Color, item.CostPrice, item.SellingPrice, item.Supplier)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := item
	return &updated, nil
}

func (s *Store) DeleteStockItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stock_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeductStock validates availability and decrements quantity in one
// serializable transaction. The row lock prevents two concurrent sales of the
// same item from both passing validation against a stale quantity.
func (s *Store) DeductStock(ctx context.Context, id string, qty int) (*domain.StockItem, error) {
	if qty < 1 {
		return nil, &store.ValidationError{Field: "quantity_sold", Reason: "must be positive"}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var item domain.StockItem
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, type, quantity, category, color, cost_price, selling_price, supplier, date_added
		FROM stock_items
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&item.ID, &item.Name, &item.Type, &item.Quantity, &item.Category, &item.Color, &item.CostPrice, &item.SellingPrice, &item.Supplier, &item.DateAdded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if qty > item.Quantity {
		return nil, &store.InsufficientStockError{
			StockName: item.Name,
			Available: item.Quantity,
			Requested: qty,
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE stock_items
		SET quantity = quantity - $2, updated_at = now()
		WHERE id = $1
	`, id, qty)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	item.Quantity -= qty
	item.DateAdded = item.DateAdded.UTC()
	return &item, nil
}

func (s *Store) ListSales(ctx context.Context, limit int, offset int) ([]domain.Sale, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.stock_item_id, COALESCE(st.name, s.stock_name), s.quantity_sold, s.sale_price,
			s.transport, s.total_price, s.customer_name, s.payment_method, s.sale_date,
			s.agent_id, s.agent_name, s.status
		FROM sales s
		LEFT JOIN stock_items st ON st.id = s.stock_item_id
		ORDER BY s.sale_date DESC, s.id DESC
		LIMIT $1 OFFSET $2
	`, normalizeLimit(limit), maxOffset(offset))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sales, err := scanSales(rows)
	if err != nil {
		return nil, 0, err
	}
	return sales, total, nil
}

func (s *Store) ListSalesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.stock_item_id, COALESCE(st.name, s.stock_name), s.quantity_sold, s.sale_price,
			s.transport, s.total_price, s.customer_name, s.payment_method, s.sale_date,
			s.agent_id, s.agent_name, s.status
		FROM sales s
		LEFT JOIN stock_items st ON st.id = s.stock_item_id
		WHERE s.sale_date >= $1 AND s.sale_date < $2
		ORDER BY s.sale_date DESC, s.id DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSales(rows)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.stock_item_id, COALESCE(st.name, s.stock_name), s.quantity_sold, s.sale_price,
			s.transport, s.total_price, s.customer_name, s.payment_method, s.sale_date,
			s.agent_id, s.agent_name, s.status
		FROM sales s
		LEFT JOIN stock_items st ON st.id = s.stock_item_id
		WHERE s.id = $1
	`, id).Scan(
		&sale.ID, &sale.StockItemID, &sale.StockName, &sale.QuantitySold, &sale.SalePrice,
		&sale.Transport, &sale.TotalPrice, &sale.CustomerName, &sale.PaymentMethod, &sale.Date,
		&sale.AgentID, &sale.AgentName, &sale.Status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.Date = sale.Date.UTC()
	return &sale, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if err := store.ValidateSaleRow(sale); err != nil {
		return nil, err
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Transport == 0 {
		sale.Transport = pricing.Transport(sale.SalePrice)
		sale.TotalPrice = pricing.Round1(sale.SalePrice + sale.Transport)
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusTotal
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (
			id, stock_item_id, stock_name, quantity_sold, sale_price, transport, total_price,
			customer_name, payment_method, sale_date, agent_id, agent_name, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
	`, sale.ID, sale.StockItemID, sale.StockName, sale.QuantitySold, sale.SalePrice, sale.Transport,
		sale.TotalPrice, sale.CustomerName, sale.PaymentMethod, sale.Date, sale.AgentID, sale.AgentName, sale.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET stock_item_id = $2, stock_name = $3, quantity_sold = $4, sale_price = $5,
			transport = $6, total_price = $7, customer_name = $8, payment_method = $9,
			sale_date = $10, agent_id = $11, agent_name = $12, status = $13
		WHERE id = $1
	`, sale.ID, sale.StockItemID, sale.StockName, sale.QuantitySold, sale.SalePrice,
		sale.Transport, sale.TotalPrice, sale.CustomerName, sale.PaymentMethod,
		sale.Date, sale.AgentID, sale.AgentName, sale.Status)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := sale
	return &updated, nil
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	// The stock row is left untouched on purpose.
	res, err := s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, first_name, last_name, email, phone, role, password_hash, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Username, &user.FirstName, &user.LastName, &user.Email, &user.Phone, &user.Role, &user.PasswordHash, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.findUser(ctx, "id", id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findUser(ctx, "username", username)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findUser(ctx, "email", email)
}

func (s *Store) findUser(ctx context.Context, column string, value string) (*domain.User, error) {
	query := `
		SELECT id, username, first_name, last_name, email, phone, role, password_hash, created_at
		FROM app_users
		WHERE `
	switch column {
	case "id":
		query += `id = $1`
	case "username":
		query += `username = $1`
	case "email":
		query += `email = $1`
	default:
		return nil, errors.New("unsupported lookup column")
	}

	var user domain.User
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID, &user.Username, &user.FirstName, &user.LastName, &user.Email,
		&user.Phone, &user.Role, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	if err := store.ValidateUserRow(user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, username, first_name, last_name, email, phone, role, password_hash, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, user.ID, user.Username, user.FirstName, user.LastName, user.Email, user.Phone, user.Role, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateUser
		}
		return nil, err
	}

	created := user
	return &created, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET first_name = $2, last_name = $3, email = $4, phone = $5, role = $6,
			password_hash = $7, updated_at = now()
		WHERE id = $1
	`, user.ID, user.FirstName, user.LastName, user.Email, user.Phone, user.Role, user.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateUser
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := user
	return &updated, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM app_users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanSales(rows *sql.Rows) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(
			&sale.ID, &sale.StockItemID, &sale.StockName, &sale.QuantitySold, &sale.SalePrice,
			&sale.Transport, &sale.TotalPrice, &sale.CustomerName, &sale.PaymentMethod, &sale.Date,
			&sale.AgentID, &sale.AgentName, &sale.Status,
		); err != nil {
			return nil, err
		}
		sale.Date = sale.Date.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func normalizeLimit(limit int) int {
	if limit < 1 {
		return 1000
	}
	return limit
}

func maxOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
