package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/budget-buddy/internal/currency"
	"github.com/zombor/budget-buddy/internal/scanning"
)

// ReceiptProcessor extracts structured fields from a receipt image
type ReceiptProcessor interface {
	Process(ctx context.Context, img scanning.Image, categories []string) (scanning.Extraction, error)
}

// Converter converts amounts between currencies without failing
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal
}

// RateRefresher refreshes every stored exchange rate
type RateRefresher interface {
	RefreshAll(ctx context.Context) currency.RefreshSummary
}

// IDGenerator generates unique IDs for transactions and stored files
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

var (
	filenameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces = regexp.MustCompile(`\s+`)
)

// Service assembles transactions from user input and processed receipts
type Service struct {
	db                 DB
	processor          ReceiptProcessor
	converter          Converter
	refresher          RateRefresher
	storage            Storage
	accountingCurrency string
	idGenerator        IDGenerator
	timeSource         TimeSource
}

// NewService creates a new Service with UUID ids and the system clock
func NewService(db DB, processor ReceiptProcessor, converter Converter, refresher RateRefresher, storage Storage, accountingCurrency string) *Service {
	return NewServiceWithDeps(db, processor, converter, refresher, storage, accountingCurrency, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, processor ReceiptProcessor, converter Converter, refresher RateRefresher, storage Storage, accountingCurrency string, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:                 db,
		processor:          processor,
		converter:          converter,
		refresher:          refresher,
		storage:            storage,
		accountingCurrency: currency.Normalize(accountingCurrency),
		idGenerator:        idGen,
		timeSource:         timeSrc,
	}
}

// sanitizeFilename cleans up phone-generated file names
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = filenameUnsafe.ReplaceAllString(base, "")
	base = strings.TrimSpace(filenameSpaces.ReplaceAllString(base, " "))
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	if ext = filenameUnsafe.ReplaceAllString(strings.TrimPrefix(ext, "."), ""); ext != "" {
		ext = "." + ext
	}
	return base + ext
}

// Categories returns the user's categories, seeding the defaults on first access
func (s *Service) Categories(userID string) ([]Category, error) {
	categories, err := s.db.GetCategories(userID)
	if errors.Is(err, ErrNotFound) {
		categories = append([]Category(nil), DefaultCategories...)
		if err := s.db.SaveCategories(userID, categories); err != nil {
			return nil, fmt.Errorf("seeding categories: %w", err)
		}
		slog.Info("Seeded default categories", "user", userID, "count", len(categories))
		return categories, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting categories: %w", err)
	}
	return categories, nil
}

// ReplaceCategories stores a new category list. Names must be unique
// ignoring case, and the fallback category is always kept.
func (s *Service) ReplaceCategories(userID string, categories []Category) ([]Category, error) {
	seen := make(map[string]bool, len(categories))
	cleaned := make([]Category, 0, len(categories)+1)
	for _, c := range categories {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return nil, fmt.Errorf("%w: category name is required", ErrInvalidInput)
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrInvalidInput, c.Name)
		}
		seen[key] = true
		cleaned = append(cleaned, c)
	}
	if !seen[strings.ToLower(scanning.FallbackCategory)] {
		cleaned = append(cleaned, DefaultCategories[len(DefaultCategories)-1])
	}

	if err := s.db.SaveCategories(userID, cleaned); err != nil {
		return nil, fmt.Errorf("saving categories: %w", err)
	}
	return cleaned, nil
}

func (s *Service) categoryNames(userID string) ([]Category, []string, error) {
	categories, err := s.Categories(userID)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = c.Name
	}
	return categories, names, nil
}

// ProcessReceiptURL runs the receipt pipeline on an http(s) URL or data URI
func (s *Service) ProcessReceiptURL(ctx context.Context, userID, url string) (scanning.Extraction, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return scanning.Extraction{}, fmt.Errorf("%w: image url is required", ErrInvalidInput)
	}
	_, names, err := s.categoryNames(userID)
	if err != nil {
		return scanning.Extraction{}, err
	}
	return s.processor.Process(ctx, scanning.Image{URL: url}, names)
}

// ProcessReceiptUpload validates and stores an uploaded receipt, then runs
// the pipeline on it. The stored file name becomes the image reference.
func (s *Service) ProcessReceiptUpload(ctx context.Context, userID string, upload Upload) (scanning.Extraction, string, error) {
	data, contentType, err := scanning.PrepareUpload(upload.Data, upload.ContentType)
	if err != nil {
		slog.Error("Rejected receipt upload",
			"filename", upload.Filename,
			"content_type", upload.ContentType,
			"file_size", len(upload.Data),
			"error", err,
		)
		return scanning.Extraction{}, "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	_, names, err := s.categoryNames(userID)
	if err != nil {
		return scanning.Extraction{}, "", err
	}

	name := fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(upload.Filename))
	if contentType == "image/png" && !strings.HasSuffix(name, ".png") {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
	}
	saved, err := s.storage.Save(name, data)
	if err != nil {
		return scanning.Extraction{}, "", fmt.Errorf("saving file: %w", err)
	}

	result, err := s.processor.Process(ctx, scanning.Image{Data: data, ContentType: contentType, Filename: saved}, names)
	if err != nil {
		if delErr := s.storage.Delete(saved); delErr != nil {
			slog.Warn("Failed to delete file", "filename", saved, "error", delErr)
		}
		return scanning.Extraction{}, "", fmt.Errorf("processing upload: %w", err)
	}
	return result, contentType, nil
}

// resolveCategory matches name against the user's categories: exact first,
// then ignoring case, then the fallback category.
func resolveCategory(categories []Category, name string) Category {
	name = strings.TrimSpace(name)
	for _, c := range categories {
		if c.Name == name {
			return c
		}
	}
	for _, c := range categories {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	for _, c := range categories {
		if c.Name == scanning.FallbackCategory {
			return c
		}
	}
	return Category{Name: scanning.FallbackCategory}
}

// CreateTransaction assembles and persists a transaction. A receipt URL or
// upload, when present, is processed first and its fields fill whatever the
// user left empty.
func (s *Service) CreateTransaction(ctx context.Context, userID string, input TransactionInput) (*Transaction, error) {
	categories, _, err := s.categoryNames(userID)
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	t := &Transaction{
		ID:        s.idGenerator.Generate(),
		UserID:    userID,
		Currency:  s.accountingCurrency,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var extraction scanning.Extraction
	switch {
	case input.Upload != nil:
		var contentType string
		extraction, contentType, err = s.ProcessReceiptUpload(ctx, userID, *input.Upload)
		if err != nil {
			return nil, err
		}
		t.ReceiptFile = extraction.ImageReference
		t.ReceiptType = contentType
	case strings.TrimSpace(input.ImageURL) != "":
		extraction, err = s.ProcessReceiptURL(ctx, userID, input.ImageURL)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(extraction.ImageReference, "data:") {
			t.ReceiptImageURL = extraction.ImageReference
		}
	}
	t.RawText = extraction.RawText
	t.Source = extraction.Source

	switch {
	case input.Amount.Valid:
		t.OriginalAmount = input.Amount.Decimal
	case extraction.Amount.Valid:
		t.OriginalAmount = extraction.Amount.Decimal
	}
	t.OriginalCurrency = firstNonEmpty(currency.Normalize(input.Currency), currency.Normalize(extraction.Currency), s.accountingCurrency)
	t.Description = firstNonEmpty(strings.TrimSpace(input.Description), extraction.Description, scanning.DefaultDescription)
	t.Date = firstNonEmpty(strings.TrimSpace(input.Date), extraction.Date, now.Format(scanning.DateLayout))

	categoryName := firstNonEmpty(strings.TrimSpace(input.CategoryName), extraction.CategoryName)
	if err := s.settle(ctx, t, categories, categoryName); err != nil {
		return nil, s.rejectCreate(t, err)
	}

	if err := s.db.SaveTransaction(t); err != nil {
		return nil, s.rejectCreate(t, fmt.Errorf("saving transaction: %w", err))
	}

	slog.Info("Created transaction",
		"id", t.ID,
		"user", userID,
		"amount", t.OriginalAmount.String(),
		"currency", t.OriginalCurrency,
		"converted", t.Amount.String(),
		"category", t.CategoryName,
	)
	return t, nil
}

// settle validates the amount, currency and date of t, resolves its category
// and converts the amount into the accounting currency.
func (s *Service) settle(ctx context.Context, t *Transaction, categories []Category, categoryName string) error {
	if t.OriginalAmount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}
	if !currency.IsSupported(t.OriginalCurrency) {
		return fmt.Errorf("%w: %s (supported: %s)",
			currency.ErrUnsupportedCurrency, t.OriginalCurrency, strings.Join(currency.Supported, ", "))
	}
	if _, err := time.Parse(scanning.DateLayout, t.Date); err != nil {
		return fmt.Errorf("%w: invalid date %q, use DD-MM-YYYY", ErrInvalidInput, t.Date)
	}

	category := resolveCategory(categories, categoryName)
	t.CategoryName = category.Name
	t.CategoryColor = category.Color

	t.Currency = s.accountingCurrency
	t.Amount = s.converter.Convert(ctx, t.OriginalAmount, t.OriginalCurrency, s.accountingCurrency).Round(2)
	return nil
}

// UpdateTransaction edits an existing transaction. Fields left empty in input
// keep their stored values; the amount is converted again in every case.
// Receipts are not reprocessed.
func (s *Service) UpdateTransaction(ctx context.Context, userID, id string, input TransactionInput) (*Transaction, error) {
	stored, err := s.db.GetTransaction(userID, id)
	if err != nil {
		return nil, fmt.Errorf("getting transaction for update: %w", err)
	}
	categories, _, err := s.categoryNames(userID)
	if err != nil {
		return nil, err
	}
	updated := *stored
	t := &updated

	if input.Amount.Valid {
		t.OriginalAmount = input.Amount.Decimal
	}
	t.OriginalCurrency = firstNonEmpty(currency.Normalize(input.Currency), t.OriginalCurrency)
	t.Description = firstNonEmpty(strings.TrimSpace(input.Description), t.Description)
	t.Date = firstNonEmpty(strings.TrimSpace(input.Date), t.Date)
	if url := strings.TrimSpace(input.ImageURL); url != "" && !strings.HasPrefix(url, "data:") {
		t.ReceiptImageURL = url
	}

	if err := s.settle(ctx, t, categories, firstNonEmpty(strings.TrimSpace(input.CategoryName), t.CategoryName)); err != nil {
		return nil, err
	}
	t.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveTransaction(t); err != nil {
		return nil, fmt.Errorf("saving transaction: %w", err)
	}

	slog.Info("Updated transaction",
		"id", t.ID,
		"user", userID,
		"amount", t.OriginalAmount.String(),
		"currency", t.OriginalCurrency,
		"converted", t.Amount.String(),
	)
	return t, nil
}

// rejectCreate removes a receipt file stored for a transaction that will not
// be persisted.
func (s *Service) rejectCreate(t *Transaction, err error) error {
	if t.ReceiptFile != "" {
		if delErr := s.storage.Delete(t.ReceiptFile); delErr != nil {
			slog.Warn("Failed to delete file", "filename", t.ReceiptFile, "error", delErr)
		}
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GetTransaction retrieves a transaction by ID
func (s *Service) GetTransaction(userID, id string) (*Transaction, error) {
	t, err := s.db.GetTransaction(userID, id)
	if err != nil {
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	return t, nil
}

// ListTransactions returns a user's transactions, newest date first
func (s *Service) ListTransactions(userID string) ([]*Transaction, error) {
	transactions, err := s.db.ListTransactions(userID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}

	sortKey := func(t *Transaction) time.Time {
		d, err := time.Parse(scanning.DateLayout, t.Date)
		if err != nil {
			return t.CreatedAt
		}
		return d
	}
	sort.SliceStable(transactions, func(i, j int) bool {
		di, dj := sortKey(transactions[i]), sortKey(transactions[j])
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return transactions[i].CreatedAt.After(transactions[j].CreatedAt)
	})
	return transactions, nil
}

// ListTransactionsByMonth returns the user's transactions dated in the given
// month, newest date first.
func (s *Service) ListTransactionsByMonth(userID string, year, month int) ([]*Transaction, error) {
	if year < 2000 || year > 2100 {
		return nil, fmt.Errorf("%w: invalid year %d", ErrInvalidInput, year)
	}
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: invalid month %d", ErrInvalidInput, month)
	}

	transactions, err := s.ListTransactions(userID)
	if err != nil {
		return nil, err
	}
	inMonth := make([]*Transaction, 0, len(transactions))
	for _, t := range transactions {
		d, err := time.Parse(scanning.DateLayout, t.Date)
		if err != nil {
			continue
		}
		if d.Year() == year && d.Month() == time.Month(month) {
			inMonth = append(inMonth, t)
		}
	}
	return inMonth, nil
}

// DeleteTransaction removes a transaction and its stored receipt file
func (s *Service) DeleteTransaction(userID, id string) error {
	t, err := s.db.GetTransaction(userID, id)
	if err != nil {
		return fmt.Errorf("getting transaction for deletion: %w", err)
	}

	if t.ReceiptFile != "" {
		if err := s.storage.Delete(t.ReceiptFile); err != nil {
			slog.Warn("Failed to delete file", "filename", t.ReceiptFile, "error", err)
		}
	}

	if err := s.db.DeleteTransaction(userID, id); err != nil {
		return fmt.Errorf("deleting transaction from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the stored receipt of a transaction
func (s *Service) GetReceiptFile(userID, id string) ([]byte, string, error) {
	t, err := s.db.GetTransaction(userID, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting transaction: %w", err)
	}
	if t.ReceiptFile == "" {
		return nil, "", fmt.Errorf("receipt file for %s: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(t.ReceiptFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, t.ReceiptType, nil
}

// Convert converts amount between currencies. Unsupported codes and missing
// rates return the amount unchanged.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	if to == "" {
		to = s.accountingCurrency
	}
	return s.converter.Convert(ctx, amount, from, to)
}

// RefreshRates re-fetches every exchange rate
func (s *Service) RefreshRates(ctx context.Context) currency.RefreshSummary {
	return s.refresher.RefreshAll(ctx)
}
