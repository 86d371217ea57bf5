package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Mercy294/Mayondo/internal/domain"
	"github.com/Mercy294/Mayondo/internal/pricing"
	"github.com/Mercy294/Mayondo/internal/store"
	"github.com/Mercy294/Mayondo/internal/xid"
)

// Store is the in-memory Repository used in dev mode and by unit tests.
// All maps are guarded by a single mutex; DeductStock performs its
// validate-and-decrement under the write lock so concurrent sales against
// the same item cannot both pass validation on stale quantity.
type Store struct {
	mu     sync.RWMutex
	stocks map[string]domain.StockItem
	sales  map[string]domain.Sale
	users  map[string]domain.User
}

func New() *Store {
	return &Store{
		stocks: make(map[string]domain.StockItem),
		sales:  make(map[string]domain.Sale),
		users:  make(map[string]domain.User),
	}
}

// NewSeeded returns a store primed with dev stock and an admin account.
// The admin password comes from SEED_ADMIN_PASSWORD, defaulting to a dev
// value with a warning. Seeded data is never used when DATABASE_URL is set.
func NewSeeded() *Store {
	s := New()

	adminPwd := os.Getenv("SEED_ADMIN_PASSWORD")
	if adminPwd == "" {
		adminPwd = "admin123"
		log.Println("[memory-store] WARNING: using default dev admin credentials. Set SEED_ADMIN_PASSWORD to override.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPwd), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}

	now := time.Now().UTC()
	admin := domain.User{
		ID:           xid.New("usr"),
		Username:     "systemadmin",
		FirstName:    "System",
		LastName:     "Admin",
		Email:        "admin@mayondo.local",
		Phone:        "0700000000",
		Role:         domain.RoleAdmin,
		CreatedAt:    now,
		PasswordHash: string(hash),
	}
	s.users[admin.ID] = admin

	seedStocks := []domain.StockItem{
		{Name: "Mahogany Plank", Type: "Wood", Quantity: 120, Category: "Hardwood", Color: "Brown", CostPrice: 40.0, SellingPrice: 65.0, Supplier: "Kampala Timber Works"},
		{Name: "Pine Pole", Type: "Wood", Quantity: 200, Category: "Poles", Color: "Cream", CostPrice: 8.5, SellingPrice: 15.0, Supplier: "Mukono Growers"},
		{Name: "Office Desk", Type: "Furniture", Quantity: 25, Category: "Office Furniture", Color: "Black", CostPrice: 180.0, SellingPrice: 260.0, Supplier: "Mayondo Workshop"},
		{Name: "Garden Bench", Type: "Furniture", Quantity: 18, Category: "Garden Furniture", Color: "Teak", CostPrice: 95.0, SellingPrice: 150.0, Supplier: "Mayondo Workshop"},
		{Name: "Eucalyptus Timber", Type: "Wood", Quantity: 140, Category: "Timber", Color: "Pale", CostPrice: 22.0, SellingPrice: 38.5, Supplier: "Jinja Sawmill"},
	}
	for _, item := range seedStocks {
		item.ID = xid.New("stk")
		item.DateAdded = now
		s.stocks[item.ID] = item
	}

	return s
}

func (s *Store) ListStockItems(_ context.Context, limit int, offset int) ([]domain.StockItem, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.StockItem, 0, len(s.stocks))
	for _, item := range s.stocks {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.StockItem) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})

	total := len(items)
	return paginate(items, limit, offset), total, nil
}

func (s *Store) GetStockItem(_ context.Context, id string) (*domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.stocks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := item
	return &found, nil
}

func (s *Store) CreateStockItem(_ context.Context, item domain.StockItem) (*domain.StockItem, error) {
	if err := store.ValidateStockRow(item); err != nil {
		return nil, err
	}
	if item.ID == "" {
		item.ID = xid.New("stk")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stocks[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) UpdateStockItem(_ context.Context, item domain.StockItem) (*domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stocks[item.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.stocks[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) DeleteStockItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stocks[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.stocks, id)
	return nil
}

func (s *Store) DeductStock(_ context.Context, id string, qty int) (*domain.StockItem, error) {
	if qty < 1 {
		return nil, &store.ValidationError{Field: "quantity_sold", Reason: "must be positive"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.stocks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if qty > item.Quantity {
		return nil, &store.InsufficientStockError{
			StockName: item.Name,
			Available: item.Quantity,
			Requested: qty,
		}
	}

	item.Quantity -= qty
	s.stocks[id] = item
	updated := item
	return &updated, nil
}

func (s *Store) ListSales(_ context.Context, limit int, offset int) ([]domain.Sale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := sortedSales(s.sales)
	total := len(sales)
	return paginate(sales, limit, offset), total, nil
}

func (s *Store) ListSalesBetween(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if sale.Date.Before(from) || !sale.Date.Before(to) {
			continue
		}
		result = append(result, sale)
	}
	slices.SortFunc(result, compareSalesNewestFirst)
	return result, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := sale
	return &found, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if err := store.ValidateSaleRow(sale); err != nil {
		return nil, err
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	// Derivations the relational layer applies on insert.
	if sale.Transport == 0 {
		sale.Transport = pricing.Transport(sale.SalePrice)
		sale.TotalPrice = pricing.Round1(sale.SalePrice + sale.Transport)
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusTotal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.stocks[sale.StockItemID]; ok && sale.StockName == "" {
		sale.StockName = item.Name
	}
	s.sales[sale.ID] = sale
	created := sale
	return &created, nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sales[sale.ID]; !ok {
		return nil, store.ErrNotFound
	}
	if item, ok := s.stocks[sale.StockItemID]; ok {
		sale.StockName = item.Name
	}
	s.sales[sale.ID] = sale
	updated := sale
	return &updated, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sales[id]; !ok {
		return store.ErrNotFound
	}
	// Deliberately no restock of the referenced item.
	delete(s.sales, id)
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := user
	return &found, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findUser(func(u domain.User) bool { return u.Username == username })
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findUser(func(u domain.User) bool { return u.Email == email })
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	if err := store.ValidateUserRow(user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username || existing.Email == user.Email ||
			(user.Phone != "" && existing.Phone == user.Phone) {
			return nil, store.ErrDuplicateUser
		}
	}

	s.users[user.ID] = user
	created := user
	return &created, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.users {
		if existing.ID == user.ID {
			continue
		}
		if existing.Email == user.Email || (user.Phone != "" && existing.Phone == user.Phone) {
			return nil, store.ErrDuplicateUser
		}
	}

	s.users[user.ID] = user
	updated := user
	return &updated, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

// findUser must be called with the read lock held.
func (s *Store) findUser(match func(domain.User) bool) (*domain.User, error) {
	for _, u := range s.users {
		if match(u) {
			found := u
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func sortedSales(m map[string]domain.Sale) []domain.Sale {
	sales := make([]domain.Sale, 0, len(m))
	for _, sale := range m {
		sales = append(sales, sale)
	}
	slices.SortFunc(sales, compareSalesNewestFirst)
	return sales
}

func compareSalesNewestFirst(a, b domain.Sale) int {
	if a.Date.Equal(b.Date) {
		return strings.Compare(b.ID, a.ID)
	}
	if a.Date.After(b.Date) {
		return -1
	}
	return 1
}

func paginate[T any](items []T, limit int, offset int) []T {
	if limit <= 0 {
		return items
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
