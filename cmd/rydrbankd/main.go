package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nunster3000/rydr-app-sub000/internal/authgate"
	"github.com/nunster3000/rydr-app-sub000/internal/bankapi"
	"github.com/nunster3000/rydr-app-sub000/internal/events"
	"github.com/nunster3000/rydr-app-sub000/internal/notify"
	"github.com/nunster3000/rydr-app-sub000/internal/oplog"
	"github.com/nunster3000/rydr-app-sub000/internal/store/gormstore"
	"github.com/nunster3000/rydr-app-sub000/internal/store/memstore"
	"github.com/nunster3000/rydr-app-sub000/pkg/bank"
)

const (
	flagDatabaseURL     = "database-url"
	flagListenAddr      = "listen-addr"
	flagAllowedOrigins  = "allowed-origins"
	flagTokenSigningKey = "token-signing-key"
	flagTokenIssuer     = "token-issuer"
	flagDirectoryURL    = "directory-url"
	flagDirectoryToken  = "directory-token"
	flagAMQPURL         = "amqp-url"
	flagAMQPQueue       = "amqp-queue"
	flagSMTPHost        = "smtp-host"
	flagSMTPPort        = "smtp-port"
	flagSMTPUsername    = "smtp-username"
	flagSMTPPassword    = "smtp-password"
	flagSMTPFrom        = "smtp-from"
	flagRedeemBaseURL   = "redeem-base-url"

	defaultDatabaseURL = "sqlite:///tmp/rydrbank.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL     string
	ListenAddr      string
	AllowedOrigins  string
	TokenSigningKey string
	TokenIssuer     string
	DirectoryURL    string
	DirectoryToken  string
	AMQPURL         string
	AMQPQueue       string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	RedeemBaseURL   string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rydrbankd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "rydrbankd",
		Short:         "RydrBank voucher ledger server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (postgres://, sqlite://, or \"memory\")")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma separated CORS origins")
	cmd.Flags().String(flagTokenSigningKey, "", "HS256 signing key for session tokens")
	cmd.Flags().String(flagTokenIssuer, "", "expected token issuer")
	cmd.Flags().String(flagDirectoryURL, "", "account directory base URL; empty treats every recipient as external")
	cmd.Flags().String(flagDirectoryToken, "", "bearer token for directory lookups")
	cmd.Flags().String(flagAMQPURL, "", "AMQP broker URL for ride-completion events; empty disables the consumer")
	cmd.Flags().String(flagAMQPQueue, events.DefaultQueue, "AMQP queue name")
	cmd.Flags().String(flagSMTPHost, "", "SMTP host for gift notices; empty logs notices instead")
	cmd.Flags().Int(flagSMTPPort, 587, "SMTP port")
	cmd.Flags().String(flagSMTPUsername, "", "SMTP username")
	cmd.Flags().String(flagSMTPPassword, "", "SMTP password")
	cmd.Flags().String(flagSMTPFrom, "", "gift notice sender address")
	cmd.Flags().String(flagRedeemBaseURL, "", "base URL embedded in gift notices")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		flagDatabaseURL:     "DATABASE_URL",
		flagListenAddr:      "BANK_LISTEN_ADDR",
		flagAllowedOrigins:  "ALLOWED_ORIGINS",
		flagTokenSigningKey: "TOKEN_SIGNING_KEY",
		flagTokenIssuer:     "TOKEN_ISSUER",
		flagDirectoryURL:    "DIRECTORY_URL",
		flagDirectoryToken:  "DIRECTORY_TOKEN",
		flagAMQPURL:         "AMQP_URL",
		flagAMQPQueue:       "AMQP_QUEUE",
		flagSMTPHost:        "SMTP_HOST",
		flagSMTPPort:        "SMTP_PORT",
		flagSMTPUsername:    "SMTP_USERNAME",
		flagSMTPPassword:    "SMTP_PASSWORD",
		flagSMTPFrom:        "SMTP_FROM",
		flagRedeemBaseURL:   "REDEEM_BASE_URL",
	}
	for flagName, envName := range bindings {
		configKey := strings.ReplaceAll(flagName, "-", "_")
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString("database_url")
	cfg.ListenAddr = viper.GetString("listen_addr")
	cfg.AllowedOrigins = viper.GetString("allowed_origins")
	cfg.TokenSigningKey = viper.GetString("token_signing_key")
	cfg.TokenIssuer = viper.GetString("token_issuer")
	cfg.DirectoryURL = viper.GetString("directory_url")
	cfg.DirectoryToken = viper.GetString("directory_token")
	cfg.AMQPURL = viper.GetString("amqp_url")
	cfg.AMQPQueue = viper.GetString("amqp_queue")
	cfg.SMTPHost = viper.GetString("smtp_host")
	cfg.SMTPPort = viper.GetInt("smtp_port")
	cfg.SMTPUsername = viper.GetString("smtp_username")
	cfg.SMTPPassword = viper.GetString("smtp_password")
	cfg.SMTPFrom = viper.GetString("smtp_from")
	cfg.RedeemBaseURL = viper.GetString("redeem_base_url")

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.TokenSigningKey == "" {
		return fmt.Errorf("token signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer func() { _ = cleanup() }()

	directory, err := buildDirectory(cfg)
	if err != nil {
		return fmt.Errorf("directory init: %w", err)
	}
	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("notifier init: %w", err)
	}

	operationLogger := oplog.NewZapOperationLogger(logger)
	clock := func() int64 { return time.Now().UTC().Unix() }

	lifecycle, err := bank.NewCodeLifecycle(store, clock, bank.WithLifecycleLogger(operationLogger))
	if err != nil {
		return fmt.Errorf("lifecycle init: %w", err)
	}
	accrual, err := bank.NewAccrualEngine(store, lifecycle, clock, bank.WithAccrualLogger(operationLogger))
	if err != nil {
		return fmt.Errorf("accrual init: %w", err)
	}
	transfer, err := bank.NewTransferService(store, directory, notifier, clock, bank.WithTransferLogger(operationLogger))
	if err != nil {
		return fmt.Errorf("transfer init: %w", err)
	}

	verifier, err := authgate.NewTokenVerifier(cfg.TokenSigningKey, cfg.TokenIssuer)
	if err != nil {
		return fmt.Errorf("token verifier init: %w", err)
	}

	apiConfig := bankapi.Config{
		ListenAddr:       cfg.ListenAddr,
		AllowedOrigins:   bankapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		TokenSigningKey:  cfg.TokenSigningKey,
		TokenIssuer:      cfg.TokenIssuer,
		DirectoryBaseURL: cfg.DirectoryURL,
	}
	if err := apiConfig.Validate(); err != nil {
		return fmt.Errorf("api config: %w", err)
	}

	server, err := bankapi.NewServer(apiConfig, bankapi.Components{
		Accrual:   accrual,
		Lifecycle: lifecycle,
		Transfer:  transfer,
	}, verifier, logger)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	consumerErrCh := make(chan error, 1)
	if cfg.AMQPURL != "" {
		consumer, consumerErr := events.NewConsumer(cfg.AMQPURL, cfg.AMQPQueue, accrual, logger)
		if consumerErr != nil {
			return fmt.Errorf("events consumer init: %w", consumerErr)
		}
		go func() {
			consumerErrCh <- consumer.Run(ctx)
		}()
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Run(ctx)
	}()

	select {
	case err := <-serverErrCh:
		return err
	case err := <-consumerErrCh:
		if err != nil {
			logger.Error("events consumer stopped", zap.Error(err))
		}
		return <-serverErrCh
	}
}

func openStore(ctx context.Context, dsn string) (bank.Store, func() error, error) {
	if dsn == "memory" || dsn == "mem" {
		return memstore.New(), func() error { return nil }, nil
	}

	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
		if err := gormstore.AutoMigrate(db); err != nil {
			_ = sqlDB.Close()
			return nil, nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	return gormstore.New(db.WithContext(ctx)), sqlDB.Close, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "rydrbank.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func buildDirectory(cfg *runtimeConfig) (bank.Directory, error) {
	if cfg.DirectoryURL == "" {
		return authgate.NewStaticDirectory(nil), nil
	}
	return authgate.NewHTTPDirectory(cfg.DirectoryURL, cfg.DirectoryToken)
}

func buildNotifier(cfg *runtimeConfig, logger *zap.Logger) (bank.Notifier, error) {
	if cfg.SMTPHost == "" {
		return notify.NewLogDispatcher(logger), nil
	}
	return notify.NewSMTPDispatcher(notify.SMTPConfig{
		Host:          cfg.SMTPHost,
		Port:          cfg.SMTPPort,
		Username:      cfg.SMTPUsername,
		Password:      cfg.SMTPPassword,
		FromEmail:     cfg.SMTPFrom,
		UseSTARTTLS:   true,
		RedeemBaseURL: cfg.RedeemBaseURL,
	})
}
