// Photo remix backend entry point. Wires configuration, logging, the
// history database, the generation provider, and the dispatcher, then
// runs until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"remix_backend/core"
	"remix_backend/core/validation"
	"remix_backend/db"
	"remix_backend/dispatcher"
	"remix_backend/genai"
	"remix_backend/ledger"
	"remix_backend/logging"
	"remix_backend/pipeline"
	"remix_backend/results"
	"remix_backend/shutdown"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Windows service commands (install, uninstall, ...) short-circuit
	// the normal startup path.
	if HandleServiceCommand(os.Args[1:]) {
		return
	}
	if handled, err := RunAsService(); handled {
		if err != nil {
			fmt.Printf("Service error: %v\n", err)
			os.Exit(core.ExitCodeError)
		}
		return
	}

	os.Exit(run())
}

// run contains the whole application lifecycle and returns the process
// exit code. Split from main so deferred cleanup runs before os.Exit.
func run() int {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Use fmt here since logger isn't initialized yet
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	isDevelopment := os.Getenv("DEV_MODE") == "true"

	logger, err := logging.NewLogger(isDevelopment, core.GetEnvOrDefault("LOG_FILE", "remix.log"))
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Printf("Failed to sync logger: %v\n", syncErr)
		}
	}()

	if exitCode := runStartupValidation(logger); exitCode != core.ExitCodeSuccess {
		return exitCode
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		return core.ExitCodeError
	}

	logger.Info("Configuration loaded",
		zap.String("base_llm_url", cfg.BaseLLMURL),
		zap.String("vision_model", cfg.VisionModel),
		zap.String("image_model", cfg.ImageModel),
		zap.Int64("initial_credits", cfg.InitialCredits),
		zap.Duration("pacing_interval", cfg.PacingInterval),
		zap.Duration("ai_timeout", cfg.AITimeout),
		zap.Duration("run_timeout", cfg.RunTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.String("history_db", cfg.HistoryDBPath),
		zap.String("downloads_dir", cfg.DownloadsDir),
		zap.Bool("allow_self_signed_certs", cfg.AllowSelfSignedCerts),
		zap.Bool("dev_mode", isDevelopment),
	)

	manager := shutdown.NewManager(logger.Zap())
	manager.Register("logger", 5, func(ctx context.Context) error {
		return logger.Sync()
	})

	// History persistence is optional; without it the ledger and results
	// live in memory only.
	var journal ledger.JournalSink
	var resultSink results.Sink
	if cfg.HistoryDBPath != "" {
		repo, err := openHistory(cfg, logger, manager)
		if err != nil {
			logger.Error("Failed to open history database", zap.Error(err))
			return core.ExitCodeError
		}
		journal = func(txn ledger.Transaction) {
			if !repo.QueueTransaction(db.NewTransactionRecord(txn)) {
				logger.Warn("History write queue full, dropping transaction",
					zap.String("transaction_id", txn.ID))
			}
		}
		resultSink = func(res results.GeneratedResult) {
			if !repo.QueueResult(db.NewResultRecord(res)) {
				logger.Warn("History write queue full, dropping result",
					zap.String("result_id", res.ID))
			}
		}
	}

	imageStore, err := genai.NewPersistentImageStore(cfg.DownloadsDir)
	if err != nil {
		logger.Error("Failed to create image store", zap.Error(err))
		return core.ExitCodeError
	}
	manager.Register("cleanup-images", 45, shutdown.CleanupStagedImages(logger.Zap(), cfg.DownloadsDir))

	provider, err := genai.NewOpenAIProvider(cfg, imageStore, logger)
	if err != nil {
		logger.Error("Failed to create generation provider", zap.Error(err))
		return core.ExitCodeError
	}

	creditLedger := ledger.NewWithJournal(cfg.InitialCredits, journal)
	recorder := results.NewRecorderWithSink(resultSink)

	session := core.NewRemixSession(uuid.NewString())
	manager.Register("session", 10, func(ctx context.Context) error {
		session.Teardown()
		return nil
	})

	store, err := dispatcher.NewStore(session, creditLedger, recorder, logger)
	if err != nil {
		logger.Error("Failed to create message store", zap.Error(err))
		return core.ExitCodeError
	}

	runner, err := pipeline.NewRunner(provider, imageStore, pipeline.NewIntervalPacer(cfg.PacingInterval), logger)
	if err != nil {
		logger.Error("Failed to create pipeline runner", zap.Error(err))
		return core.ExitCodeError
	}

	disp, err := dispatcher.NewDispatcher(session, store, runner, provider, cfg.Pricing, logger)
	if err != nil {
		logger.Error("Failed to create dispatcher", zap.Error(err))
		return core.ExitCodeError
	}
	// Charged runs refuse to start once shutdown begins, and shutdown
	// waits for a debit in flight to reach its success record or refund.
	// The embedding host calls the dispatcher's operations; this binary
	// owns the wiring and lifecycle.
	disp.WithRunGuard(manager.WrapOperation).WithRunTimeout(cfg.RunTimeout)

	manager.Start()

	logger.Info("Photo remix backend ready",
		zap.String("session_id", session.ID),
		zap.Int64("credit_balance", creditLedger.Balance()),
	)

	manager.Wait()

	if err := manager.Shutdown(); err != nil {
		logger.Error("Shutdown completed with errors", zap.Error(err))
		if manager.ExitCode() == core.ExitCodeSuccess {
			return core.ExitCodeError
		}
	}

	exitCode := manager.ExitCode()
	logger.Info("Goodbye!", zap.String("exit", core.ExitCodeName(exitCode)))
	return exitCode
}

// openHistory opens and migrates the history database, starts the async
// writer, surfaces any deductions stranded by a previous crash, and
// registers the teardown handlers.
func openHistory(cfg *core.Config, logger *logging.Logger, manager *shutdown.Manager) (*db.Repository, error) {
	database, err := db.NewDatabaseWithConfig(db.DatabaseConfig{
		Path:           cfg.HistoryDBPath,
		MigrationsPath: cfg.MigrationsPath,
	})
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}

	repo := db.NewRepository(database.DB(), nil)

	// A deduction with neither a refund nor a successful result means a
	// previous process died mid-run. Surface them for the operator; the
	// ledger itself starts fresh.
	orphans, err := repo.UnpairedDeductions(context.Background())
	if err != nil {
		logger.Warn("Could not check for unpaired deductions", zap.Error(err))
	}
	for _, orphan := range orphans {
		logger.Warn("Found deduction without outcome from previous run",
			zap.String("transaction_id", orphan.TransactionID),
			zap.String("run_id", orphan.RunID),
			zap.Int64("amount", orphan.Amount),
			zap.Time("created_at", orphan.CreatedAt),
		)
	}

	writer := db.NewAsyncWriter(repo.CreateAsyncWriteHandler())
	writer.Start()
	repo = db.NewRepository(database.DB(), writer)

	retentionDays := core.ParseIntEnv("HISTORY_RETENTION_DAYS", 30)
	database.StartCleanupSchedulerWithConfig(manager.Context(), db.CleanupSchedulerConfig{
		RetentionDays: retentionDays,
		Interval:      db.DefaultCleanupSchedulerConfig().Interval,
		OnCleanup: func(result db.CleanupResult, err error) {
			if err != nil {
				logger.Warn("History cleanup failed", zap.Error(err))
				return
			}
			if result.TotalDeleted > 0 {
				logger.Info("History cleanup complete",
					zap.Int64("deleted", result.TotalDeleted),
					zap.Duration("duration", result.Duration),
				)
			}
		},
	})

	manager.Register("history-writer", 20, func(ctx context.Context) error {
		if !writer.StopWithTimeout(10 * time.Second) {
			return fmt.Errorf("history writer did not drain in time")
		}
		return nil
	})
	manager.Register("database", 30, func(ctx context.Context) error {
		return database.Close()
	})

	return repo, nil
}

// runStartupValidation performs the startup validation suite. Set
// VALIDATE_CONNECTIVITY=false to skip the network check, useful for
// air-gapped test environments.
//
// Returns ExitCodeSuccess if all validations pass, ExitCodeError otherwise.
func runStartupValidation(logger *logging.Logger) int {
	logger.Info("Starting startup validation...")

	allowSelfSigned := os.Getenv("ALLOW_SELF_SIGNED_CERTS") == "true"

	suite := validation.NewValidationSuite().
		WithAllowSelfSignedCerts(allowSelfSigned).
		WithShowProgress(true)

	var result validation.SuiteResult
	if core.ParseBoolEnv("VALIDATE_CONNECTIVITY", true) {
		result = suite.Validate()
	} else {
		result = suite.ValidateQuick()
	}

	if !result.Success {
		logger.Error("Configuration validation failed",
			zap.Int("passed", result.PassedSteps),
			zap.Int("failed", result.FailedSteps),
			zap.Duration("duration", result.Duration),
		)

		for _, step := range result.Steps {
			if step.Status == validation.StepFailed {
				logger.Error("Validation step failed",
					zap.String("step", step.Name),
					zap.String("message", step.Message),
					zap.Error(step.Error),
				)
			}
		}

		return core.ExitCodeError
	}

	logger.Info("Configuration validation passed",
		zap.Int("checks_passed", result.PassedSteps),
		zap.Duration("duration", result.Duration),
	)

	return core.ExitCodeSuccess
}
