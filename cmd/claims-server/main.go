package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/claims/internal/config"
	"github.com/ehr/claims/internal/domain/claims"
	"github.com/ehr/claims/internal/domain/ingestion"
	"github.com/ehr/claims/internal/domain/payerperf"
	"github.com/ehr/claims/internal/domain/reconciliation"
	"github.com/ehr/claims/internal/domain/timeline"
	"github.com/ehr/claims/internal/domain/verification"
	"github.com/ehr/claims/internal/platform/auth"
	"github.com/ehr/claims/internal/platform/cache"
	"github.com/ehr/claims/internal/platform/db"
	"github.com/ehr/claims/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "claims-server",
		Short: "Claim financial reconciliation engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(rollupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// app holds the wired services shared by the server and the CLI commands.
type app struct {
	claims   *claims.Service
	recon    *reconciliation.Service
	timeline *timeline.Service
	engine   *verification.Engine
	verify   *verification.Service
	payers   *payerperf.Service
	ingest   *ingestion.Service
	logger   zerolog.Logger
}

func newApp(pool *pgxpool.Pool, c *cache.Cache, cfg *config.Config, logger zerolog.Logger) *app {
	var tx db.Transactor = db.PoolTransactor{}
	if pool != nil {
		tx = db.PoolTransactor{Fallback: pool}
	}

	events := claims.NewRepoPG(pool)
	recon := reconciliation.NewService(events, reconciliation.NewRepoPG(pool), tx, c, cfg.CacheTTL,
		logger.With().Str("component", "reconciliation").Logger())
	proj := timeline.NewService(events, recon, timeline.NewRepoPG(pool), tx, c, cfg.CacheTTL,
		logger.With().Str("component", "timeline").Logger())

	verifyRepo := verification.NewRepoPG(pool)
	engine := verification.NewEngine(verifyRepo, cfg.VerificationSampleLimit,
		logger.With().Str("component", "verification").Logger())

	return &app{
		claims:   claims.NewService(events),
		recon:    recon,
		timeline: proj,
		engine:   engine,
		verify:   verification.NewService(engine, verifyRepo),
		payers: payerperf.NewService(payerperf.NewRepoPG(pool), tx,
			logger.With().Str("component", "payer_rollup").Logger()),
		ingest: ingestion.NewService(events, recon, proj, engine, tx,
			logger.With().Str("component", "ingestion").Logger()),
		logger: logger,
	}
}

func (a *app) registerRoutes(api *echo.Group) {
	ingestion.NewHandler(a.ingest).RegisterRoutes(api)
	claims.NewHandler(a.claims).RegisterRoutes(api)
	reconciliation.NewHandler(a.recon).RegisterRoutes(api)
	timeline.NewHandler(a.timeline).RegisterRoutes(api)
	verification.NewHandler(a.verify).RegisterRoutes(api)
	payerperf.NewHandler(a.payers).RegisterRoutes(api)
}

// syncCatalog loads the rule catalog and upserts it so runs see the
// configured rules.
func (a *app) syncCatalog(ctx context.Context, rulesFile string) error {
	rules, err := verification.LoadCatalog(rulesFile)
	if err != nil {
		return err
	}
	return a.engine.SyncCatalog(ctx, rules)
}

// openApp connects to the tenant's schema for a CLI command. The returned
// func releases the connections.
func openPool(ctx context.Context, cfg *config.Config, searchPath string) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolOptions{
		URL:              cfg.DatabaseURL,
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		SearchPath:       searchPath,
		AppName:          "claims-server",
		StatementTimeout: cfg.DBStatementTimeout,
	})
}

func openApp(ctx context.Context, tenant string) (*app, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if tenant == "" {
		tenant = cfg.DefaultTenant
	}
	logger := newLogger(cfg.Env)

	pool, err := openPool(ctx, cfg, db.TenantSchema(tenant))
	if err != nil {
		return nil, nil, nil, err
	}
	c, err := cache.New(ctx, cfg.RedisURL, "claims")
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	closeFn := func() {
		_ = c.Close()
		pool.Close()
	}
	return newApp(pool, c, cfg, logger), cfg, closeFn, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return db.EmbeddedMigrations()
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if schema == "" {
				schema = db.TenantSchema(cfg.DefaultTenant)
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsFS(dir))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to the default tenant's schema)")
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded migrations)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if schema == "" {
				schema = db.TenantSchema(cfg.DefaultTenant)
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
					if s.Drifted {
						status = "modified"
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to the default tenant's schema)")
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.TenantSchema(name))
			if err := db.CreateTenantSchema(ctx, pool, name, db.EmbeddedMigrations()); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List provisioned tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			tenants, err := db.ListTenants(ctx, pool)
			if err != nil {
				return err
			}
			for _, t := range tenants {
				fmt.Printf("%-30s %s\n", t, db.TenantSchema(t))
			}
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd)
	return cmd
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <batch.json>",
		Short: "Ingest a batch file in one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var b ingestion.Batch
			if err := json.Unmarshal(data, &b); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			ctx := context.Background()
			a, cfg, closeFn, err := openApp(ctx, tenant)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := a.syncCatalog(ctx, cfg.VerificationRulesFile); err != nil {
				return err
			}

			res, err := a.ingest.IngestBatch(auth.SystemContext(ctx), &b)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild aggregates from the event log",
	}

	claimCmd := &cobra.Command{
		Use:   "claim <claim-id>",
		Short: "Rebuild one claim's aggregates and status timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			ctx := context.Background()
			a, _, closeFn, err := openApp(ctx, tenant)
			if err != nil {
				return err
			}
			defer closeFn()

			sys := auth.SystemContext(ctx)
			p, err := a.recon.Reconcile(sys, args[0])
			if err != nil {
				return err
			}
			added, err := a.timeline.Rebuild(sys, p.ClaimKeyID)
			if err != nil {
				return err
			}
			if err := a.timeline.InvalidateClaim(sys, args[0]); err != nil {
				a.logger.Warn().Err(err).Str("claim_id", args[0]).Msg("status cache invalidation failed")
			}
			fmt.Printf("Claim %s: %s, %d status row(s) added.\n", args[0], p.PaymentStatus, added)
			return nil
		},
	}
	claimCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	cmd.AddCommand(claimCmd)
	return cmd
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the verification rule catalog",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute every active rule and record a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			batch, _ := cmd.Flags().GetString("batch")

			var batchID *uuid.UUID
			if batch != "" {
				id, err := uuid.Parse(batch)
				if err != nil {
					return fmt.Errorf("invalid --batch: %w", err)
				}
				batchID = &id
			}

			ctx := context.Background()
			a, cfg, closeFn, err := openApp(ctx, tenant)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := a.syncCatalog(ctx, cfg.VerificationRulesFile); err != nil {
				return err
			}

			report, err := a.verify.RunNow(auth.SystemContext(ctx), batchID)
			if err != nil {
				return err
			}
			fmt.Printf("%-36s %-9s %-6s %s\n", "RULE", "SEVERITY", "OK", "MESSAGE")
			for _, r := range report.Results {
				msg := ""
				if r.Message != nil {
					msg = *r.Message
				}
				fmt.Printf("%-36s %-9s %-6t %s\n", r.RuleCode, r.Severity, r.OK, msg)
			}
			if !*report.Run.Passed {
				return fmt.Errorf("verification failed: %d blocking rule(s)", report.Run.BlockingFailures)
			}
			return nil
		},
	}
	runCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	runCmd.Flags().String("batch", "", "Ingestion batch id for batch scoped rules")
	cmd.AddCommand(runCmd)
	return cmd
}

// monthFlag parses --month, defaulting to the current month.
func monthFlag(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return payerperf.MonthOf(now), nil
	}
	return payerperf.ParseMonth(v)
}

func rollupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Payer performance rollup",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Recompute one month's payer summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			m, _ := cmd.Flags().GetString("month")
			month, err := monthFlag(m, time.Now())
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, _, closeFn, err := openApp(ctx, tenant)
			if err != nil {
				return err
			}
			defer closeFn()

			rows, err := a.payers.RunMonth(auth.SystemContext(ctx), month)
			if err != nil {
				return err
			}
			return printJSON(rows)
		},
	}
	runCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	runCmd.Flags().String("month", "", "Month to roll up as YYYY-MM (defaults to the current month)")
	cmd.AddCommand(runCmd)
	return cmd
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	switch cfg.ResolvedAuthMode() {
	case "development":
		return auth.DevAuthMiddleware(cfg.DefaultTenant)
	case "standalone":
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		})
	default:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		})
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	pool, err := openPool(ctx, cfg, db.TenantSchema(cfg.DefaultTenant))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Cache
	redisCache, err := cache.New(ctx, cfg.RedisURL, "claims")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisCache.Close()
	logger.Info().Bool("enabled", redisCache.IsEnabled()).Msg("cache ready")

	a := newApp(pool, redisCache, cfg, logger)
	if err := a.syncCatalog(ctx, cfg.VerificationRulesFile); err != nil {
		logger.Fatal().Err(err).Msg("failed to sync verification rules")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", "64M"))
	e.Use(middleware.RequestTimeout(middleware.DefaultTimeoutConfig(30*time.Second, 5*time.Minute)))
	e.Use(authMiddleware(cfg))
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant, auth.AuthSkipper))
	e.Use(middleware.Audit(logger))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	if cfg.IngestRateLimitRPS > 0 {
		rateLimitCfg.IngestPerSecond = cfg.IngestRateLimitRPS
		rateLimitCfg.IngestBurst = cfg.IngestRateLimitBurst
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	a.registerRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, redisCache,
		db.MigrationChecker(pool, db.EmbeddedMigrations(), db.TenantSchema(cfg.DefaultTenant))))

	// Payer rollup
	if cfg.RollupEnabled {
		sched := payerperf.NewScheduler(a.payers, redisCache, cfg.RollupInterval,
			logger.With().Str("component", "payer_rollup").Logger())
		go sched.Start(ctx)
		logger.Info().Dur("interval", cfg.RollupInterval).Msg("payer rollup scheduler started")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
