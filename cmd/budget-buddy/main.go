package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/budget-buddy/internal/currency"
	"github.com/zombor/budget-buddy/internal/receipt"
	"github.com/zombor/budget-buddy/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// inferenceBackend is a StructuredExtractor holding a client that must be closed
type inferenceBackend interface {
	scanning.StructuredExtractor
	Close() error
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// .env only seeds the environment; real variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env file: %v\n", err)
	}

	flags := ff.NewFlagSet("budget-buddy")
	var (
		port            = flags.IntLong("port", 8080, "HTTP server port")
		dbPath          = flags.StringLong("db", "budget-buddy.db", "Transaction database file path")
		ratesDBPath     = flags.StringLong("rates-db", "exchange-rates.db", "Exchange rate database file path")
		storagePath     = flags.StringLong("storage", "./receipts", "Receipt storage directory path")
		ocrURL          = flags.StringLong("ocr-url", scanning.DefaultOCRURL, "OCR.space endpoint")
		ocrKey          = flags.StringLong("ocr-key", "", "OCR.space API key")
		ocrLanguage     = flags.StringLong("ocr-language", "eng", "OCR language hint")
		extractor       = flags.StringLong("extractor", "ollama", "Structured extractor: 'ollama' or 'gemini'")
		ollamaURL       = flags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = flags.StringLong("ollama-model", "gpt-oss:120b-cloud", "Ollama model name")
		geminiKey       = flags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = flags.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ratesURL        = flags.StringLong("rates-url", currency.DefaultRatesURL, "Exchange rate API base URL")
		accounting      = flags.StringLong("accounting-currency", "PHP", "Currency every transaction is converted into")
		refreshInterval = flags.DurationLong("refresh-interval", time.Hour, "Periodic exchange rate refresh interval (0 disables)")
		providerTimeout = flags.DurationLong("provider-timeout", 60*time.Second, "Timeout for each external provider call")
		authUser        = flags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = flags.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel        = flags.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		_               = flags.StringLong("config", "", "Config file (flag-per-line format)")
		showVersion     = flags.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(flags, os.Args[1:],
		ff.WithEnvVarPrefix("BUDGET_BUDDY"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flags))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})))

	if !currency.IsSupported(*accounting) {
		slog.Error("Unsupported accounting currency", "currency", *accounting, "supported", strings.Join(currency.Supported, ", "))
		os.Exit(1)
	}

	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("Initializing exchange rate cache...", "rates_url", *ratesURL)
	rateStore, err := currency.NewBoltStore(*ratesDBPath)
	if err != nil {
		slog.Error("Failed to initialize exchange rate store", "error", err)
		os.Exit(1)
	}
	rates := currency.NewRates(rateStore, currency.NewExchangeRateAPI(*ratesURL, *providerTimeout))
	defer rates.Close()

	slog.Info("Initializing OCR...", "url", *ocrURL, "language", *ocrLanguage)
	ocr, err := scanning.NewOCRSpace(*ocrURL, *ocrKey, *ocrLanguage, *providerTimeout)
	if err != nil {
		slog.Error("Failed to initialize OCR. Set --ocr-key or BUDGET_BUDDY_OCR_KEY", "error", err)
		os.Exit(1)
	}

	var structured inferenceBackend
	switch *extractor {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		structured, err = scanning.NewGemini(apiKey, *geminiModel, *providerTimeout)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		structured, err = scanning.NewOllama(*ollamaURL, *ollamaModel, *providerTimeout)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid extractor type", "type", *extractor, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer structured.Close()

	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	pipeline := scanning.NewPipeline(ocr, structured)
	service := receipt.NewService(db, pipeline, currency.NewConverter(rates), rates, store, currency.Normalize(*accounting))
	server := receipt.NewServer(service, receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go rates.Run(ctx, *refreshInterval)

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "accounting_currency", currency.Normalize(*accounting))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutting down...")
}
