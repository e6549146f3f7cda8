package receipt

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/budget-buddy/internal/scanning"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Transaction is one persisted expense, normalized into the accounting currency
type Transaction struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	Amount           decimal.Decimal `json:"amount"`   // in Currency, rounded to cents
	Currency         string          `json:"currency"` // accounting currency
	OriginalAmount   decimal.Decimal `json:"originalAmount"`
	OriginalCurrency string          `json:"originalCurrency"`
	Description      string          `json:"description"`
	Date             string          `json:"date"` // DD-MM-YYYY
	CategoryName     string          `json:"categoryName"`
	CategoryColor    string          `json:"categoryColor,omitempty"`
	ReceiptImageURL  string          `json:"receiptImageUrl,omitempty"`
	ReceiptFile      string          `json:"receiptFile,omitempty"`
	ReceiptType      string          `json:"receiptContentType,omitempty"`
	RawText          string          `json:"rawText,omitempty"`
	Source           scanning.Source `json:"source,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Category is a named spending bucket owned by a user
type Category struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// DefaultCategories are seeded for every user on first access
var DefaultCategories = []Category{
	{Name: "Food & Dining", Color: "#FF6B6B"},
	{Name: "Transportation", Color: "#4ECDC4"},
	{Name: "Shopping", Color: "#45B7D1"},
	{Name: "Entertainment", Color: "#FFA07A"},
	{Name: "Healthcare", Color: "#98D8C8"},
	{Name: "Housing", Color: "#6C5CE7"},
	{Name: "Utilities", Color: "#FDCB6E"},
	{Name: "Education", Color: "#E17055"},
	{Name: "Travel", Color: "#A29BFE"},
	{Name: "Personal Care", Color: "#00B894"},
	{Name: "Gifts & Donations", Color: "#E84393"},
	{Name: scanning.FallbackCategory, Color: "#636E72"},
}

// Upload is a receipt file submitted by the user
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
}

// TransactionInput carries the user's explicit values. Empty fields are
// filled from the processed receipt when one is attached.
type TransactionInput struct {
	Amount       decimal.NullDecimal `json:"amount"`
	Currency     string              `json:"currency"`
	Description  string              `json:"description"`
	Date         string              `json:"date"`
	CategoryName string              `json:"categoryName"`
	ImageURL     string              `json:"receiptImageUrl"`
	Upload       *Upload             `json:"-"`
}
