package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Mercy294/Mayondo/internal/cache"
	"github.com/Mercy294/Mayondo/internal/domain"
	"github.com/Mercy294/Mayondo/internal/metrics"
	"github.com/Mercy294/Mayondo/internal/pricing"
	"github.com/Mercy294/Mayondo/internal/report"
	"github.com/Mercy294/Mayondo/internal/store"
)

// PageSize is the fixed page length for stock and sale listings.
const PageSize = 10

// chartMonths is the trailing window length of the dashboard sales chart.
const chartMonths = 6

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	dashboards   cache.DashboardCache
	log          *zap.Logger
	dashboardTTL time.Duration
}

func New(repo store.Repository, dashboards cache.DashboardCache, log *zap.Logger, dashboardTTL time.Duration) *Service {
	if dashboards == nil {
		dashboards = cache.NoopDashboardCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if dashboardTTL <= 0 {
		dashboardTTL = 60 * time.Second
	}

	return &Service{
		repo:         repo,
		dashboards:   dashboards,
		log:          log,
		dashboardTTL: dashboardTTL,
	}
}

// ---- stock ledger ----

func (s *Service) ListStocks(ctx context.Context, page int) (domain.Page[domain.StockItem], error) {
	page = normalizePage(page)
	items, total, err := s.repo.ListStockItems(ctx, PageSize, (page-1)*PageSize)
	if err != nil {
		return domain.Page[domain.StockItem]{}, err
	}
	return buildPage(items, page, total), nil
}

func (s *Service) GetStock(ctx context.Context, id string) (domain.StockItem, error) {
	item, err := s.repo.GetStockItem(ctx, id)
	if err != nil {
		return domain.StockItem{}, err
	}
	return *item, nil
}

// RecordStock validates the request field by field and creates the stock row.
// Validation reports only the first missing or invalid field.
func (s *Service) RecordStock(ctx context.Context, req domain.StockCreateRequest, refDate time.Time) (domain.StockItem, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Type = strings.TrimSpace(req.Type)
	req.Category = strings.TrimSpace(req.Category)
	req.Color = strings.TrimSpace(req.Color)
	req.Supplier = strings.TrimSpace(req.Supplier)

	if req.Name == "" {
		return domain.StockItem{}, &store.ValidationError{Field: "name"}
	}
	if req.Type == "" {
		return domain.StockItem{}, &store.ValidationError{Field: "type"}
	}
	if req.Quantity < 1 {
		return domain.StockItem{}, &store.ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	if req.Category == "" {
		return domain.StockItem{}, &store.ValidationError{Field: "category"}
	}
	if !slices.Contains(domain.Categories, req.Category) {
		return domain.StockItem{}, &store.ValidationError{Field: "category", Reason: "unknown category"}
	}
	if req.Color == "" {
		return domain.StockItem{}, &store.ValidationError{Field: "color"}
	}
	if req.CostPrice <= 0 {
		return domain.StockItem{}, &store.ValidationError{Field: "cost_price", Reason: "must be positive"}
	}
	if req.SellingPrice <= 0 {
		return domain.StockItem{}, &store.ValidationError{Field: "selling_price", Reason: "must be positive"}
	}
	if req.Supplier == "" {
		return domain.StockItem{}, &store.ValidationError{Field: "supplier"}
	}
	date, vErr := resolveEntryDate(req.Date, refDate)
	if vErr != nil {
		return domain.StockItem{}, vErr
	}

	item := domain.StockItem{
		Name:         req.Name,
		Type:         req.Type,
		Quantity:     req.Quantity,
		Category:     req.Category,
		Color:        req.Color,
		CostPrice:    pricing.Round1(req.CostPrice),
		SellingPrice: pricing.Round1(req.SellingPrice),
		Supplier:     req.Supplier,
		DateAdded:    date,
	}

	created, err := s.repo.CreateStockItem(ctx, item)
	if err != nil {
		return domain.StockItem{}, err
	}

	s.log.Info("stock recorded",
		zap.String("stock_id", created.ID),
		zap.String("name", created.Name),
		zap.Int("quantity", created.Quantity),
	)
	return *created, nil
}

func (s *Service) EditStock(ctx context.Context, id string, req domain.StockUpdateRequest) (domain.StockItem, error) {
	existing, err := s.repo.GetStockItem(ctx, id)
	if err != nil {
		return domain.StockItem{}, err
	}

	item := *existing
	if req.Name != nil {
		item.Name = strings.TrimSpace(*req.Name)
	}
	if req.Type != nil {
		item.Type = strings.TrimSpace(*req.Type)
	}
	if req.Quantity != nil {
		item.Quantity = *req.Quantity
	}
	if req.Category != nil {
		item.Category = strings.TrimSpace(*req.Category)
	}
	if req.Color != nil {
		item.Color = strings.TrimSpace(*req.Color)
	}
	if req.CostPrice != nil {
		item.CostPrice = pricing.Round1(*req.CostPrice)
	}
	if req.SellingPrice != nil {
		item.SellingPrice = pricing.Round1(*req.SellingPrice)
	}
	if req.Supplier != nil {
		item.Supplier = strings.TrimSpace(*req.Supplier)
	}

	if item.Name == "" {
		return domain.StockItem{}, &store.ValidationError{Field: "name"}
	}
	if item.Quantity < 0 {
		return domain.StockItem{}, &store.ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	if item.Category != "" && !slices.Contains(domain.Categories, item.Category) {
		return domain.StockItem{}, &store.ValidationError{Field: "category", Reason: "unknown category"}
	}
	if item.CostPrice <= 0 {
		return domain.StockItem{}, &store.ValidationError{Field: "cost_price", Reason: "must be positive"}
	}
	if item.SellingPrice <= 0 {
		return domain.StockItem{}, &store.ValidationError{Field: "selling_price", Reason: "must be positive"}
	}

	updated, err := s.repo.UpdateStockItem(ctx, item)
	if err != nil {
		return domain.StockItem{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteStock(ctx context.Context, id string) error {
	return s.repo.DeleteStockItem(ctx, id)
}

// ---- sales ----

func (s *Service) ListSales(ctx context.Context, page int) (domain.Page[domain.Sale], error) {
	page = normalizePage(page)
	sales, total, err := s.repo.ListSales(ctx, PageSize, (page-1)*PageSize)
	if err != nil {
		return domain.Page[domain.Sale]{}, err
	}
	return buildPage(sales, page, total), nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// SaleDetail returns the abbreviated shape used by same-page detail lookups.
func (s *Service) SaleDetail(ctx context.Context, id string) (domain.SaleModal, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.SaleModal{}, err
	}
	return domain.SaleModal{
		ID:           sale.ID,
		StockName:    sale.StockName,
		QuantitySold: sale.QuantitySold,
		SalePrice:    sale.SalePrice,
		Transport:    sale.Transport,
		TotalPrice:   sale.TotalPrice,
		CustomerName: sale.CustomerName,
		Date:         sale.Date.Format(domain.DateLayout),
	}, nil
}

// RecordSale validates the request, atomically reserves stock, derives the
// transport surcharge and writes the sale. The acting user becomes the agent
// of record. When stock cannot cover the requested quantity the sale is
// rejected and no quantity changes.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest, refDate time.Time) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, fmt.Errorf("authenticated agent required: %w", store.ErrForbidden)
	}

	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.StockItemID == "" {
		return domain.Sale{}, &store.ValidationError{Field: "stock_item_id"}
	}
	if req.QuantitySold < 1 {
		return domain.Sale{}, &store.ValidationError{Field: "quantity_sold", Reason: "must be at least 1"}
	}
	if req.SalePrice <= 0 {
		return domain.Sale{}, &store.ValidationError{Field: "sale_price", Reason: "must be positive"}
	}
	if req.CustomerName == "" {
		return domain.Sale{}, &store.ValidationError{Field: "customer_name"}
	}
	if !validPayment(req.PaymentMethod) {
		return domain.Sale{}, &store.ValidationError{Field: "payment_method", Reason: "unknown payment method"}
	}
	date, vErr := resolveEntryDate(req.Date, refDate)
	if vErr != nil {
		return domain.Sale{}, vErr
	}
	status := req.Status
	if status == "" {
		status = domain.SaleStatusTotal
	}
	if status != domain.SaleStatusTotal && status != domain.SaleStatusCompleted && status != domain.SaleStatusCancelled {
		return domain.Sale{}, &store.ValidationError{Field: "status", Reason: "unknown status"}
	}

	item, err := s.repo.DeductStock(ctx, req.StockItemID, req.QuantitySold)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.InsufficientStockCounter.Inc()
		}
		return domain.Sale{}, err
	}

	salePrice := pricing.Round1(req.SalePrice)
	transport, total := pricing.Resolve(salePrice, 0)

	sale := domain.Sale{
		StockItemID:   item.ID,
		StockName:     item.Name,
		QuantitySold:  req.QuantitySold,
		SalePrice:     salePrice,
		Transport:     transport,
		TotalPrice:    total,
		CustomerName:  req.CustomerName,
		PaymentMethod: req.PaymentMethod,
		Date:          date,
		AgentID:       actor.ID,
		AgentName:     actor.Username,
		Status:        status,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	metrics.SalesRecordedCounter.Inc()
	s.log.Info("sale recorded",
		zap.String("sale_id", created.ID),
		zap.String("stock", created.StockName),
		zap.Int("quantity", created.QuantitySold),
		zap.Float64("total", created.TotalPrice),
		zap.String("agent", created.AgentName),
	)
	return *created, nil
}

// EditSale rewrites an existing sale in place. The transport surcharge is
// recomputed from the (possibly updated) sale price; only an explicit "no"
// flag removes it. The agent of record becomes the acting user, and stock
// quantities are left exactly as they were at recording time.
func (s *Service) EditSale(ctx context.Context, id string, req domain.SaleUpdateRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, fmt.Errorf("authenticated agent required: %w", store.ErrForbidden)
	}

	existing, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}

	sale := *existing
	if req.StockItemID != nil && *req.StockItemID != sale.StockItemID {
		item, err := s.repo.GetStockItem(ctx, *req.StockItemID)
		if err != nil {
			return domain.Sale{}, err
		}
		sale.StockItemID = item.ID
		sale.StockName = item.Name
	}
	if req.QuantitySold != nil {
		if *req.QuantitySold < 1 {
			return domain.Sale{}, &store.ValidationError{Field: "quantity_sold", Reason: "must be at least 1"}
		}
		sale.QuantitySold = *req.QuantitySold
	}
	if req.SalePrice != nil {
		if *req.SalePrice <= 0 {
			return domain.Sale{}, &store.ValidationError{Field: "sale_price", Reason: "must be positive"}
		}
		sale.SalePrice = pricing.Round1(*req.SalePrice)
	}
	if req.CustomerName != nil {
		sale.CustomerName = strings.TrimSpace(*req.CustomerName)
	}
	if req.PaymentMethod != nil {
		if !validPayment(*req.PaymentMethod) {
			return domain.Sale{}, &store.ValidationError{Field: "payment_method", Reason: "unknown payment method"}
		}
		sale.PaymentMethod = *req.PaymentMethod
	}
	if req.Status != nil {
		if *req.Status != domain.SaleStatusTotal && *req.Status != domain.SaleStatusCompleted && *req.Status != domain.SaleStatusCancelled {
			return domain.Sale{}, &store.ValidationError{Field: "status", Reason: "unknown status"}
		}
		sale.Status = *req.Status
	}

	if strings.EqualFold(strings.TrimSpace(req.Transport), "no") {
		sale.Transport = 0
		sale.TotalPrice = sale.SalePrice
	} else {
		sale.Transport, sale.TotalPrice = pricing.Resolve(sale.SalePrice, 0)
	}

	sale.AgentID = actor.ID
	sale.AgentName = actor.Username

	updated, err := s.repo.UpdateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}
	return *updated, nil
}

// DeleteSale removes the sale row. The referenced stock quantity is not
// restored.
func (s *Service) DeleteSale(ctx context.Context, id string) error {
	return s.repo.DeleteSale(ctx, id)
}

// Receipt produces the printable breakdown for a recorded sale.
func (s *Service) Receipt(ctx context.Context, id string) (domain.Receipt, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Receipt{}, err
	}

	unit := sale.SalePrice
	if sale.QuantitySold > 0 {
		unit = pricing.Round1(sale.SalePrice / float64(sale.QuantitySold))
	}
	return domain.Receipt{
		Sale:      *sale,
		UnitPrice: unit,
		LineTotal: sale.SalePrice,
		TotalPaid: sale.TotalPrice,
	}, nil
}

// ---- dashboards and reports ----

// Dashboard assembles the role-specific landing page figures for the
// reference date. Results are cached per date and role.
func (s *Service) Dashboard(ctx context.Context, refDate time.Time) (domain.Dashboard, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Dashboard{}, fmt.Errorf("authenticated user required: %w", store.ErrForbidden)
	}

	key := dashboardCacheKey(refDate, actor)
	if cached, hit, err := s.dashboards.Get(ctx, key); err != nil {
		s.log.Warn("dashboard cache read failed", zap.Error(err))
	} else if hit {
		return *cached, nil
	}

	window := trailingMonthsWindow(refDate, chartMonths)
	sales, err := s.repo.ListSalesBetween(ctx, window, refDate.AddDate(0, 0, 1))
	if err != nil {
		return domain.Dashboard{}, err
	}

	latest, totalSales, err := s.repo.ListSales(ctx, 10, 0)
	if err != nil {
		return domain.Dashboard{}, err
	}

	dashboard := domain.Dashboard{
		Role:         actor.Role,
		TotalSales:   totalSales,
		DailyTotal:   report.DailyTotal(sales, refDate),
		MonthlyTotal: report.MonthlyTotal(sales, refDate),
		LatestSales:  latest,
	}

	switch actor.Role {
	case domain.RoleAdmin, domain.RoleManager:
		stocks, totalStock, err := s.repo.ListStockItems(ctx, 0, 0)
		if err != nil {
			return domain.Dashboard{}, err
		}
		dashboard.TotalStock = totalStock
		dashboard.MonthlySeries = report.MonthlySeries(sales, refDate, chartMonths)
		dashboard.CategorySeries = report.CategoryBreakdown(stocks)
	default:
		// Sales agents see only their own trading figures, no stock analytics.
		own := make([]domain.Sale, 0, len(sales))
		for _, sale := range sales {
			if sale.AgentID == actor.ID {
				own = append(own, sale)
			}
		}
		dashboard.DailyTotal = report.DailyTotal(own, refDate)
		dashboard.MonthlyTotal = report.MonthlyTotal(own, refDate)
		dashboard.MonthlySeries = report.MonthlySeries(own, refDate, chartMonths)
	}

	if err := s.dashboards.Set(ctx, key, &dashboard, s.dashboardTTL); err != nil {
		s.log.Warn("dashboard cache write failed", zap.Error(err))
	}
	return dashboard, nil
}

// SalesReport sums sale amounts for the reference day and month and pages
// through the full sale listing.
func (s *Service) SalesReport(ctx context.Context, refDate time.Time, page int) (domain.SalesReport, error) {
	monthStart := time.Date(refDate.UTC().Year(), refDate.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	monthSales, err := s.repo.ListSalesBetween(ctx, monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		return domain.SalesReport{}, err
	}

	page = normalizePage(page)
	sales, total, err := s.repo.ListSales(ctx, PageSize, (page-1)*PageSize)
	if err != nil {
		return domain.SalesReport{}, err
	}

	return domain.SalesReport{
		DailyTotal:   report.DailyAmount(monthSales, refDate),
		MonthlyTotal: report.MonthlyAmount(monthSales, refDate),
		Sales:        buildPage(sales, page, total),
	}, nil
}

// ExportSales returns every sale of the reference month, newest first, for
// report downloads.
func (s *Service) ExportSales(ctx context.Context, refDate time.Time) ([]domain.Sale, error) {
	monthStart := time.Date(refDate.UTC().Year(), refDate.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.repo.ListSalesBetween(ctx, monthStart, monthStart.AddDate(0, 1, 0))
}

// ExportStocks returns the full stock listing for report downloads.
func (s *Service) ExportStocks(ctx context.Context) ([]domain.StockItem, error) {
	items, _, err := s.repo.ListStockItems(ctx, 0, 0)
	return items, err
}

// StocksReport values the whole inventory and pages through the stock list.
func (s *Service) StocksReport(ctx context.Context, page int) (domain.StocksReport, error) {
	all, _, err := s.repo.ListStockItems(ctx, 0, 0)
	if err != nil {
		return domain.StocksReport{}, err
	}

	page = normalizePage(page)
	items, total, err := s.repo.ListStockItems(ctx, PageSize, (page-1)*PageSize)
	if err != nil {
		return domain.StocksReport{}, err
	}

	return domain.StocksReport{
		TotalValue: report.StockValue(all),
		Stocks:     buildPage(items, page, total),
	}, nil
}

// ---- user directory ----

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.repo.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, id string) (domain.User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	return *user, nil
}

// EditUser applies a partial profile update. Users may edit their own
// profile; editing anyone else, or changing a role, takes an admin.
func (s *Service) EditUser(ctx context.Context, id string, req domain.UserUpdateRequest) (domain.User, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.User{}, fmt.Errorf("authenticated user required: %w", store.ErrForbidden)
	}
	if actor.Role != domain.RoleAdmin {
		if actor.ID != id {
			return domain.User{}, fmt.Errorf("admin role required: %w", store.ErrForbidden)
		}
		if req.Role != nil {
			return domain.User{}, fmt.Errorf("admin role required to change roles: %w", store.ErrForbidden)
		}
	}

	existing, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}

	user := *existing
	if req.FirstName != nil {
		user.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		user.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Email != nil {
		user.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.Phone != nil {
		user.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Role != nil {
		role := strings.ToUpper(strings.TrimSpace(*req.Role))
		if role != domain.RoleAdmin && role != domain.RoleManager && role != domain.RoleSalesAgent {
			return domain.User{}, &store.ValidationError{Field: "role", Reason: "unknown role"}
		}
		user.Role = role
	}
	if user.Email == "" {
		return domain.User{}, &store.ValidationError{Field: "email"}
	}

	updated, err := s.repo.UpdateUser(ctx, user)
	if err != nil {
		return domain.User{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required: %w", store.ErrForbidden)
	}
	if actor.ID == id {
		return &store.ValidationError{Field: "id", Reason: "cannot delete own account"}
	}
	return s.repo.DeleteUser(ctx, id)
}

// ---- helpers ----

// resolveEntryDate parses the request date and enforces the entry window:
// records may be dated the reference day or the day before, nothing else.
// An empty date defaults to the reference day.
func resolveEntryDate(raw string, refDate time.Time) (time.Time, *store.ValidationError) {
	ref := time.Date(refDate.UTC().Year(), refDate.UTC().Month(), refDate.UTC().Day(), 0, 0, 0, 0, time.UTC)
	if strings.TrimSpace(raw) == "" {
		return ref, nil
	}

	date, err := time.ParseInLocation(domain.DateLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, &store.ValidationError{Field: "date", Reason: "must be formatted YYYY-MM-DD"}
	}
	if !date.Equal(ref) && !date.Equal(ref.AddDate(0, 0, -1)) {
		return time.Time{}, &store.ValidationError{Field: "date", Reason: "must be today or yesterday"}
	}
	return date, nil
}

// dashboardCacheKey scopes admin and manager dashboards by date and role.
// Agent dashboards are personal, so their entries carry the actor id too.
func dashboardCacheKey(refDate time.Time, actor domain.Actor) string {
	date := refDate.Format(domain.DateLayout)
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleManager:
		return fmt.Sprintf("dashboard:%s:%s", date, actor.Role)
	default:
		return fmt.Sprintf("dashboard:%s:%s:%s", date, actor.Role, actor.ID)
	}
}

func trailingMonthsWindow(ref time.Time, n int) time.Time {
	anchor := time.Date(ref.UTC().Year(), ref.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	return anchor.AddDate(0, -(n - 1), 0)
}

func validPayment(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentMobileMoney, domain.PaymentCheque, domain.PaymentBankTransfer:
		return true
	}
	return false
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func buildPage[T any](items []T, page int, total int) domain.Page[T] {
	totalPages := (total + PageSize - 1) / PageSize
	if totalPages < 1 {
		totalPages = 1
	}
	return domain.Page[T]{
		Items:      items,
		Page:       page,
		PageSize:   PageSize,
		TotalItems: total,
		TotalPages: totalPages,
	}
}
