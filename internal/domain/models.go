package domain

import "time"

// DateLayout is the ISO calendar date format used everywhere a date crosses
// the API boundary or is bucketed for reporting.
const DateLayout = "2006-01-02"

const (
	RoleAdmin      = "ADMIN"
	RoleManager    = "MANAGER"
	RoleSalesAgent = "SALES_AGENT"
)

const (
	PaymentCash         = "Cash"
	PaymentMobileMoney  = "Mobile Money"
	PaymentCheque       = "Cheque"
	PaymentBankTransfer = "Bank Transfer"
)

const (
	SaleStatusTotal     = "TOTAL"
	SaleStatusCompleted = "COMPLETED"
	SaleStatusCancelled = "CANCELLED"
)

// Categories is the fixed wood-furniture category list offered when
// recording stock. New stock rows are validated against it.
var Categories = []string{
	"Poles",
	"Hardwood",
	"Home Furniture",
	"Office Furniture",
	"Softwood",
	"Timber",
	"Garden Furniture",
}

type StockItem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Quantity     int       `json:"quantity"`
	Category     string    `json:"category"`
	Color        string    `json:"color"`
	CostPrice    float64   `json:"cost_price"`
	SellingPrice float64   `json:"selling_price"`
	Supplier     string    `json:"supplier"`
	DateAdded    time.Time `json:"date_added"`
}

type StockCreateRequest struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Quantity     int     `json:"quantity"`
	Category     string  `json:"category"`
	Color        string  `json:"color"`
	CostPrice    float64 `json:"cost_price"`
	SellingPrice float64 `json:"selling_price"`
	Supplier     string  `json:"supplier"`
	Date         string  `json:"date"`
}

type StockUpdateRequest struct {
	Name         *string  `json:"name,omitempty"`
	Type         *string  `json:"type,omitempty"`
	Quantity     *int     `json:"quantity,omitempty"`
	Category     *string  `json:"category,omitempty"`
	Color        *string  `json:"color,omitempty"`
	CostPrice    *float64 `json:"cost_price,omitempty"`
	SellingPrice *float64 `json:"selling_price,omitempty"`
	Supplier     *string  `json:"supplier,omitempty"`
}

type Sale struct {
	ID            string    `json:"id"`
	StockItemID   string    `json:"stock_item_id"`
	StockName     string    `json:"stock_name"`
	QuantitySold  int       `json:"quantity_sold"`
	SalePrice     float64   `json:"sale_price"`
	Transport     float64   `json:"transport"`
	TotalPrice    float64   `json:"total_price"`
	CustomerName  string    `json:"customer_name"`
	PaymentMethod string    `json:"payment_method"`
	Date          time.Time `json:"date"`
	AgentID       string    `json:"agent_id"`
	AgentName     string    `json:"agent_name"`
	Status        string    `json:"status"`
}

// Amount is the reported value of the sale: line total plus transport.
// The sales report sums this, not TotalPrice.
func (s Sale) Amount() float64 {
	return s.SalePrice*float64(s.QuantitySold) + s.Transport
}

type SaleCreateRequest struct {
	StockItemID   string  `json:"stock_item_id"`
	QuantitySold  int     `json:"quantity_sold"`
	SalePrice     float64 `json:"sale_price"`
	CustomerName  string  `json:"customer_name"`
	PaymentMethod string  `json:"payment_method"`
	Date          string  `json:"date,omitempty"`
	Status        string  `json:"status,omitempty"`
}

type SaleUpdateRequest struct {
	StockItemID   *string  `json:"stock_item_id,omitempty"`
	QuantitySold  *int     `json:"quantity_sold,omitempty"`
	SalePrice     *float64 `json:"sale_price,omitempty"`
	CustomerName  *string  `json:"customer_name,omitempty"`
	PaymentMethod *string  `json:"payment_method,omitempty"`
	Status        *string  `json:"status,omitempty"`
	// Transport is a yes/no flag. "no" removes the surcharge; any other
	// value, including omission, recomputes the 5% from the (possibly
	// updated) sale price.
	Transport string `json:"transport,omitempty"`
}

// SaleModal is the abbreviated sale shape returned for same-page
// (XMLHttpRequest) detail lookups.
type SaleModal struct {
	ID           string  `json:"id"`
	StockName    string  `json:"stock_name"`
	QuantitySold int     `json:"quantity_sold"`
	SalePrice    float64 `json:"sale_price"`
	Transport    float64 `json:"transport"`
	TotalPrice   float64 `json:"total_price"`
	CustomerName string  `json:"customer_name"`
	Date         string  `json:"date"`
}

type Receipt struct {
	Sale      Sale    `json:"sale"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
	TotalPaid float64 `json:"total_paid"`
}

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	// PasswordHash never crosses the API boundary.
	PasswordHash string `json:"-"`
}

type RegisterRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password1 string `json:"password1"`
	Password2 string `json:"password2"`
	Role      string `json:"role"`
}

type UserUpdateRequest struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Role      *string `json:"role,omitempty"`
}

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor identifies the authenticated user performing an operation.
type Actor struct {
	ID       string
	Username string
	Role     string
}

type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

type ChartSeries struct {
	Labels []string  `json:"labels"`
	Totals []float64 `json:"totals"`
}

type Dashboard struct {
	Role           string      `json:"role"`
	TotalSales     int         `json:"total_sales"`
	DailyTotal     float64     `json:"daily_total"`
	MonthlyTotal   float64     `json:"monthly_total"`
	TotalStock     int         `json:"total_stock"`
	LatestSales    []Sale      `json:"latest_sales"`
	MonthlySeries  ChartSeries `json:"monthly_series"`
	CategorySeries ChartSeries `json:"category_series"`
}

type SalesReport struct {
	DailyTotal   float64    `json:"daily_total"`
	MonthlyTotal float64    `json:"monthly_total"`
	Sales        Page[Sale] `json:"sales"`
}

type StocksReport struct {
	TotalValue float64         `json:"total_value"`
	Stocks     Page[StockItem] `json:"stocks"`
}
