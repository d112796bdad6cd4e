package app

import (
	"context"
	"fmt"
	"time"

	"github.com/finetunelab/toolgate/auth"
	"github.com/finetunelab/toolgate/config"
	"github.com/finetunelab/toolgate/middleware"
	"github.com/finetunelab/toolgate/repositories"
	"github.com/finetunelab/toolgate/repositories/postgres"
	"github.com/finetunelab/toolgate/services/metrics"
	"github.com/finetunelab/toolgate/services/ratelimit"
	"github.com/finetunelab/toolgate/services/toolexec"
	"github.com/finetunelab/toolgate/services/toollog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	DB     *postgres.DB
	Redis  *redis.Client

	// Repositories
	Executions repositories.ExecutionRepository

	// Services
	RateLimiter *ratelimit.Service
	ToolLogs    *toollog.Service
	Executor    *toolexec.Executor
	Metrics     *metrics.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initRedis(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	deps.initServices()
	deps.initAuth(cfg)

	if err := deps.registerTools(cfg); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection, schema, and repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db

	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Executions = postgres.NewExecutionRepository(db, d.Logger)

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initRedis initializes the rate limiter store client
func (d *Dependencies) initRedis(ctx context.Context, cfg *config.Config) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Admission is fail-open, so an unreachable store degrades rather
	// than blocks startup
	if err := client.Ping(pingCtx).Err(); err != nil {
		d.Logger.Warn("redis unreachable at startup, rate limiting will fail open",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err))
	}

	d.Redis = client
	return nil
}

// initServices wires the rate limiter, execution logger, metrics, and executor
func (d *Dependencies) initServices() {
	d.RateLimiter = ratelimit.NewService(d.Redis, d.Logger)
	d.ToolLogs = toollog.NewService(d.Executions, d.Logger)
	d.Metrics = metrics.NewService(d.Executions, d.Logger)
	d.Executor = toolexec.NewExecutor(d.RateLimiter, d.ToolLogs, d.Logger)

	d.Logger.Info("services initialized")
}

// initAuth wires the HS256 token validator into the auth middleware
func (d *Dependencies) initAuth(cfg *config.Config) {
	validator := auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
}

// registerTools registers the built-in tool surface with the executor.
// Every tool shares the configured default admission policy.
func (d *Dependencies) registerTools(cfg *config.Config) error {
	policy := &toolexec.RateLimitPolicy{
		Limit:  cfg.RateLimit.DefaultLimit,
		Window: cfg.RateLimit.DefaultWindow,
	}

	tools := []toolexec.Tool{
		{
			Name:      "echo",
			Handler:   echoTool,
			RateLimit: policy,
		},
		{
			Name:      "current_time",
			Handler:   currentTimeTool,
			RateLimit: policy,
		},
	}

	for _, tool := range tools {
		if err := d.Executor.Register(tool); err != nil {
			return err
		}
		d.Logger.Info("registered tool", zap.String("tool_name", tool.Name))
	}
	return nil
}

// echoTool returns its arguments unchanged. Useful for smoke-testing the
// full pipeline (auth, rate limiting, logging) without external effects.
func echoTool(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"echo": args}, nil
}

// currentTimeTool reports server time in UTC
func currentTimeTool(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"utc": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// StartSweeper launches the stale-pending sweeper when enabled. The
// goroutine exits when ctx is cancelled.
func (d *Dependencies) StartSweeper(ctx context.Context) {
	if !d.Config.Sweeper.Enabled {
		d.Logger.Info("stale execution sweeper disabled")
		return
	}

	go d.ToolLogs.StartSweeper(ctx, d.Config.Sweeper.Interval, d.Config.Sweeper.PendingTimeout)

	d.Logger.Info("stale execution sweeper started",
		zap.Duration("interval", d.Config.Sweeper.Interval),
		zap.Duration("pending_timeout", d.Config.Sweeper.PendingTimeout))
}

// Close releases all held resources
func (d *Dependencies) Close() error {
	var firstErr error

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("failed to close redis client", zap.Error(err))
			firstErr = err
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			d.Logger.Error("failed to close database", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
