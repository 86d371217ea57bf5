package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Mercy294/Mayondo/internal/cache"
	"github.com/Mercy294/Mayondo/internal/domain"
	"github.com/Mercy294/Mayondo/internal/service"
	"github.com/Mercy294/Mayondo/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()

	repo := memory.New()
	svc := service.New(repo, cache.NoopDashboardCache{}, nil, time.Minute)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	seedTestUser(t, repo, "systemadmin", "admin@mayondo.local", "admin123", domain.RoleAdmin)
	seedTestUser(t, repo, "graceachieng", "grace@mayondo.local", "agent123", domain.RoleSalesAgent)
	seedTestUser(t, repo, "joelmukasa", "joel@mayondo.local", "manager123", domain.RoleManager)

	return New(svc, auth, nil, "*"), repo
}

func seedTestUser(t *testing.T, repo *memory.Store, username, email, password, role string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if _, err := repo.CreateUser(context.Background(), domain.User{
		Username:     username,
		Email:        email,
		Role:         role,
		PasswordHash: string(hash),
	}); err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
}

func seedTestStock(t *testing.T, repo *memory.Store, name string, qty int) domain.StockItem {
	t.Helper()
	item, err := repo.CreateStockItem(context.Background(), domain.StockItem{
		Name:         name,
		Type:         "Wood",
		Quantity:     qty,
		Category:     "Hardwood",
		Color:        "Brown",
		CostPrice:    40.0,
		SellingPrice: 65.0,
		Supplier:     "Kampala Timber Works",
		DateAdded:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return *item
}

func loginAs(t *testing.T, handler http.Handler, identifier, password string) string {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", identifier, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_UsernameOrEmail(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	if token := loginAs(t, handler, "systemadmin", "admin123"); token == "" {
		t.Fatalf("expected token for username login")
	}
	if token := loginAs(t, handler, "admin@mayondo.local", "admin123"); token == "" {
		t.Fatalf("expected token for email login")
	}
}

func TestHandleLogin_UniformRejection(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	wrongPassword := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"identifier": "systemadmin",
		"password":   "wrongpassword",
	})
	unknownUser := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"identifier": "nobody",
		"password":   "whatever",
	})

	if wrongPassword.Code != http.StatusUnauthorized || unknownUser.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for both, got %d and %d", wrongPassword.Code, unknownUser.Code)
	}
	if wrongPassword.Body.String() != unknownUser.Body.String() {
		t.Fatalf("rejection bodies must be indistinguishable: %s vs %s",
			wrongPassword.Body.String(), unknownUser.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"identifier": "systemadmin",
		"password":   "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestAttemptLimiterEvictsIdleClients(t *testing.T) {
	limiter := newAttemptLimiter(1, 10*time.Millisecond)
	if !limiter.Allow("198.51.100.7") {
		t.Fatalf("first attempt must pass")
	}

	time.Sleep(25 * time.Millisecond)
	if !limiter.Allow("198.51.100.8") {
		t.Fatalf("attempt from a fresh client must pass")
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, stale := limiter.entries["198.51.100.7"]; stale {
		t.Fatalf("expired client entry must be evicted")
	}
	if len(limiter.entries) != 1 {
		t.Fatalf("expected 1 live entry, got %d", len(limiter.entries))
	}
}

func TestHandleStocks_RequiresAuth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stocks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleStocks_CreateRoleGated(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	body := map[string]any{
		"name": "Mahogany Plank", "type": "Wood", "quantity": 12, "category": "Hardwood",
		"color": "Brown", "cost_price": 40.0, "selling_price": 65.0, "supplier": "Kampala Timber Works",
	}

	agentToken := loginAs(t, handler, "graceachieng", "agent123")
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/stocks", agentToken, body); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for sales agent, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	managerToken := loginAs(t, handler, "joelmukasa", "manager123")
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stocks", managerToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for manager, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleStocks_ValidationReportsField(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	managerToken := loginAs(t, handler, "joelmukasa", "manager123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stocks", managerToken, map[string]any{
		"name": "Plank", "type": "Wood", "quantity": 5,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	msg, _ := body["error"].(string)
	if msg != "category is required" {
		t.Fatalf("expected first missing field in error, got %q", msg)
	}
}

func TestHandleSales_RecordAndReceipt(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	item := seedTestStock(t, repo, "Office Desk", 10)

	agentToken := loginAs(t, handler, "graceachieng", "agent123")
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", agentToken, map[string]any{
		"stock_item_id":  item.ID,
		"quantity_sold":  3,
		"sale_price":     100.0,
		"customer_name":  "Okello Ronald",
		"payment_method": "Cash",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if created.Sale.Transport != 5.0 || created.Sale.TotalPrice != 105.0 {
		t.Fatalf("expected derived transport 5.0 and total 105.0, got %v and %v",
			created.Sale.Transport, created.Sale.TotalPrice)
	}
	if created.Sale.AgentName != "graceachieng" {
		t.Fatalf("expected acting agent on sale, got %s", created.Sale.AgentName)
	}

	receiptRec := doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+created.Sale.ID+"/receipt", agentToken, nil)
	if receiptRec.Code != http.StatusOK {
		t.Fatalf("expected 200 receipt, got %d (body: %s)", receiptRec.Code, receiptRec.Body.String())
	}
	var receipt domain.Receipt
	if err := json.NewDecoder(receiptRec.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.TotalPaid != 105.0 {
		t.Fatalf("expected total paid 105.0, got %v", receipt.TotalPaid)
	}
}

func TestHandleSales_InsufficientStockConflict(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	item := seedTestStock(t, repo, "Garden Bench", 2)

	agentToken := loginAs(t, handler, "graceachieng", "agent123")
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", agentToken, map[string]any{
		"stock_item_id":  item.ID,
		"quantity_sold":  5,
		"sale_price":     150.0,
		"customer_name":  "Namukasa Irene",
		"payment_method": "Mobile Money",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	after, err := repo.GetStockItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if after.Quantity != 2 {
		t.Fatalf("rejected sale must not change stock, got %d", after.Quantity)
	}
}

func TestHandleSaleDetail_ModalShape(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	item := seedTestStock(t, repo, "Pine Pole", 10)

	agentToken := loginAs(t, handler, "graceachieng", "agent123")
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", agentToken, map[string]any{
		"stock_item_id":  item.ID,
		"quantity_sold":  1,
		"sale_price":     15.0,
		"customer_name":  "Walk-in",
		"payment_method": "Cash",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("record sale failed: %d", rec.Code)
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales/"+created.Sale.ID, nil)
	req.Header.Set("Authorization", "Bearer "+agentToken)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	modalRec := httptest.NewRecorder()
	handler.ServeHTTP(modalRec, req)

	if modalRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", modalRec.Code)
	}
	var modal domain.SaleModal
	if err := json.NewDecoder(modalRec.Body).Decode(&modal); err != nil {
		t.Fatalf("decode modal: %v", err)
	}
	if modal.StockName != "Pine Pole" || modal.Date == "" {
		t.Fatalf("unexpected modal payload: %+v", modal)
	}
}

func TestHandleRegister_AdminOnlyAndDerivedUsername(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	body := map[string]string{
		"first_name": "Brian",
		"last_name":  "Ssentongo",
		"email":      "brian@mayondo.local",
		"password1":  "secret123",
		"password2":  "secret123",
		"role":       domain.RoleSalesAgent,
	}

	agentToken := loginAs(t, handler, "graceachieng", "agent123")
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/register", agentToken, body); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	adminToken := loginAs(t, handler, "systemadmin", "admin123")
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/register", adminToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		User domain.User `json:"user"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if created.User.Username != "brianssentongo" {
		t.Fatalf("expected derived username brianssentongo, got %s", created.User.Username)
	}

	if dup := doJSON(t, handler, http.MethodPost, "/api/v1/auth/register", adminToken, body); dup.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate registration, got %d", dup.Code)
	}
}

func TestHandleUsers_AdminOnly(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	agentToken := loginAs(t, handler, "graceachieng", "agent123")
	if rec := doJSON(t, handler, http.MethodGet, "/api/v1/users", agentToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for agent, got %d", rec.Code)
	}

	adminToken := loginAs(t, handler, "systemadmin", "admin123")
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/users", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
	var body struct {
		Users []domain.User `json:"users"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Users) != 3 {
		t.Fatalf("expected 3 seeded users, got %d", len(body.Users))
	}
}

func TestHandleReports_CSVExport(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	item := seedTestStock(t, repo, "Softwood Plank", 30)

	agentToken := loginAs(t, handler, "graceachieng", "agent123")
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", agentToken, map[string]any{
		"stock_item_id":  item.ID,
		"quantity_sold":  4,
		"sale_price":     200.0,
		"customer_name":  "Kintu Moses",
		"payment_method": "Bank Transfer",
	}); rec.Code != http.StatusCreated {
		t.Fatalf("record sale failed: %d", rec.Code)
	}

	managerToken := loginAs(t, handler, "joelmukasa", "manager123")
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sales/report?format=csv", managerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv" {
		t.Fatalf("expected text/csv, got %q", got)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "Kintu Moses") || !strings.Contains(lines[1], "210.0") {
		t.Fatalf("unexpected CSV row: %s", lines[1])
	}

	stockRec := doJSON(t, handler, http.MethodGet, "/api/v1/stocks/report?format=csv", managerToken, nil)
	if stockRec.Code != http.StatusOK || stockRec.Header().Get("Content-Type") != "text/csv" {
		t.Fatalf("expected CSV stocks report, got %d %q", stockRec.Code, stockRec.Header().Get("Content-Type"))
	}
	if !strings.Contains(stockRec.Body.String(), "Softwood Plank") {
		t.Fatalf("expected stock row in CSV, got: %s", stockRec.Body.String())
	}
}

func TestHandleDashboard_RequiresToken(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	adminToken := loginAs(t, handler, "systemadmin", "admin123")
	okRec := doJSON(t, handler, http.MethodGet, "/api/v1/dashboard?date=2025-09-15", adminToken, nil)
	if okRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", okRec.Code, okRec.Body.String())
	}
	var dashboard domain.Dashboard
	if err := json.NewDecoder(okRec.Body).Decode(&dashboard); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if dashboard.Role != domain.RoleAdmin {
		t.Fatalf("expected admin dashboard, got role %s", dashboard.Role)
	}
}
