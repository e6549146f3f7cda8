package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/budget-buddy/internal/currency"
)

// maxFormSize bounds multipart bodies; HEIC photos may exceed the 5MB OCR
// limit before they are converted.
const maxFormSize = int64(20 << 20)

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, currency.ErrUnsupportedCurrency):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail logs err and writes the matching error response. Internal errors are
// not echoed to the client.
func fail(w http.ResponseWriter, action string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("Error "+action, "error", err)
		writeError(w, "Internal server error", code)
		return
	}
	slog.Warn("Rejected request", "action", action, "error", err)
	writeError(w, err.Error(), code)
}

// contentTypeFor guesses a MIME type from the file extension
func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// readUpload reads the optional "file" part of a parsed multipart form
func readUpload(r *http.Request) (*Upload, error) {
	f, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading file: %w", ErrInvalidInput, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading file data: %w", err)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(header.Filename)
	}
	return &Upload{Filename: header.Filename, Data: data, ContentType: contentType}, nil
}

func parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: file is too large, maximum size is 20MB", ErrInvalidInput)
		}
		return fmt.Errorf("%w: parsing form: %w", ErrInvalidInput, err)
	}
	return nil
}

// handleProcessReceipt runs the pipeline on an image URL or data URI
func (s *Server) handleProcessReceipt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.service.ProcessReceiptURL(r.Context(), userID(r), req.ImageURL)
	if err != nil {
		fail(w, "processing receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleUploadReceipt stores an uploaded receipt and runs the pipeline on it
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r); err != nil {
		fail(w, "parsing upload", err)
		return
	}
	upload, err := readUpload(r)
	if err != nil {
		fail(w, "reading upload", err)
		return
	}
	if upload == nil {
		writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}

	result, _, err := s.service.ProcessReceiptUpload(r.Context(), userID(r), *upload)
	if err != nil {
		fail(w, "processing upload", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// transactionInputFromForm reads a multipart transaction with an optional file
func transactionInputFromForm(w http.ResponseWriter, r *http.Request) (TransactionInput, error) {
	var input TransactionInput
	if err := parseMultipart(w, r); err != nil {
		return input, err
	}
	if raw := strings.TrimSpace(r.FormValue("amount")); raw != "" {
		amount, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
		if err != nil {
			return input, fmt.Errorf("%w: invalid amount %q", ErrInvalidInput, raw)
		}
		input.Amount = decimal.NewNullDecimal(amount)
	}
	input.Currency = r.FormValue("currency")
	input.Description = r.FormValue("description")
	input.Date = r.FormValue("date")
	input.CategoryName = r.FormValue("categoryName")
	input.ImageURL = r.FormValue("receiptImageUrl")

	upload, err := readUpload(r)
	if err != nil {
		return input, err
	}
	input.Upload = upload
	return input, nil
}

// transactionInput reads a JSON body or a multipart form. It writes the error
// response itself and reports false when the request is unusable.
func transactionInput(w http.ResponseWriter, r *http.Request) (TransactionInput, bool) {
	var input TransactionInput
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var err error
		if input, err = transactionInputFromForm(w, r); err != nil {
			fail(w, "reading transaction form", err)
			return input, false
		}
	} else if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return input, false
	}
	return input, true
}

// handleCreateTransaction accepts JSON or a multipart form with a receipt file
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	input, ok := transactionInput(w, r)
	if !ok {
		return
	}

	t, err := s.service.CreateTransaction(r.Context(), userID(r), input)
	if err != nil {
		fail(w, "creating transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleListTransactions returns the user's transactions
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	transactions, err := s.service.ListTransactions(userID(r))
	if err != nil {
		fail(w, "listing transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

// handleUpdateTransaction edits a transaction; uploads are ignored
func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var input TransactionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	t, err := s.service.UpdateTransaction(r.Context(), userID(r), r.PathValue("id"), input)
	if err != nil {
		fail(w, "updating transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleListTransactionsByMonth returns the user's transactions of one month
func (s *Server) handleListTransactionsByMonth(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil {
		writeError(w, "Invalid year", http.StatusBadRequest)
		return
	}
	month, err := strconv.Atoi(r.PathValue("month"))
	if err != nil {
		writeError(w, "Invalid month", http.StatusBadRequest)
		return
	}

	transactions, err := s.service.ListTransactionsByMonth(userID(r), year, month)
	if err != nil {
		fail(w, "listing transactions by month", err)
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

// handleGetTransaction returns a single transaction
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.GetTransaction(userID(r), r.PathValue("id"))
	if err != nil {
		fail(w, "getting transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTransaction deletes a transaction and its receipt file
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTransaction(userID(r), r.PathValue("id")); err != nil {
		fail(w, "deleting transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetReceiptFile returns the stored receipt of a transaction
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(userID(r), r.PathValue("id"))
	if err != nil {
		fail(w, "getting receipt file", err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleListCategories returns the user's categories
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.Categories(userID(r))
	if err != nil {
		fail(w, "listing categories", err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// handleReplaceCategories replaces the user's categories
func (s *Server) handleReplaceCategories(w http.ResponseWriter, r *http.Request) {
	var categories []Category
	if err := json.NewDecoder(r.Body).Decode(&categories); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	saved, err := s.service.ReplaceCategories(userID(r), categories)
	if err != nil {
		fail(w, "replacing categories", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// handleConvert converts an amount; unsupported codes return it unchanged
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(q.Get("amount")), ",", "."))
	if err != nil {
		writeError(w, "Invalid amount", http.StatusBadRequest)
		return
	}
	from := currency.Normalize(q.Get("from"))
	if from == "" {
		writeError(w, "Source currency required", http.StatusBadRequest)
		return
	}
	to := currency.Normalize(q.Get("to"))

	converted := s.service.Convert(r.Context(), amount, from, to)
	if to == "" {
		to = s.service.accountingCurrency
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"amount":    amount,
		"from":      from,
		"to":        to,
		"converted": converted,
	})
}

// handleRefreshRates re-fetches every exchange rate
func (s *Server) handleRefreshRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.RefreshRates(r.Context()))
}
