package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"course-progression/config"
	"course-progression/handlers"
	"course-progression/logger"
	"course-progression/middleware"
	"course-progression/models"
	"course-progression/services"
	"course-progression/utils"
	"course-progression/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger mode comes from config; fall back to a dev logger to report the failure
		boot, _ := logger.New("dev")
		boot.Fatal("failed to load config", "error", err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}

	if err := db.AutoMigrate(
		&models.UserProgress{},
		&models.DailyXP{},
		&models.CourseEnrollment{},
		&models.CourseLessonProgress{},
		&models.Certificate{},
	); err != nil {
		log.Fatal("failed to migrate database", "error", err)
	}

	source, err := catalogSource(ctx, cfg)
	if err != nil {
		log.Fatal("failed to initialize catalog source", "error", err)
	}
	catalog := services.NewCatalog(source, cfg.Policy.DefaultLessonXP, log)
	if err := catalog.Load(ctx); err != nil {
		log.Fatal("failed to load course catalog", "source", source.String(), "error", err)
	}

	var locker services.Locker = services.NewLocalLocker()
	if cfg.RedisURL != "" {
		redisLocker, err := services.NewRedisLocker(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal("failed to connect to redis", "error", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
	}

	progressionService := services.NewProgressionService(db, catalog, locker, services.ProgressionOptions{
		PassMark:         cfg.Policy.PassMark,
		Location:         cfg.Location,
		Streak:           streakPolicy(cfg.Policy),
		Reveal:           services.RevealPolicy{Multiplier: cfg.Policy.RevealCostMultiplier, Damping: cfg.Policy.RevealLevelDamping},
		OperationTimeout: cfg.OperationTimeout,
	}, log)

	sched, err := progressionService.Streaks.StartStreakScheduler(ctx, cfg.OperationTimeout)
	if err != nil {
		log.Fatal("failed to start streak scheduler", "error", err)
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.Warn("streak scheduler shutdown", "error", err)
		}
	}()

	workers.NewCatalogSyncWorker(catalog, cfg.CatalogRefreshInterval, source.String(), log).Start(ctx)

	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: handlers.ErrorHandler(log),
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupProgressionRoutes(app, progressionService, middleware.AuthConfig{
		ServiceToken:     cfg.ServiceToken,
		SessionJWTSecret: cfg.SessionJWTSecret,
		Log:              log,
	}, log)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	log.Info("server running",
		"port", cfg.Port,
		"catalog", source.String(),
		"redis_lock", cfg.RedisURL != "",
		"timezone", cfg.Location.String(),
		"origins", cfg.AllowedOrigins,
	)

	<-ctx.Done()
	log.Info("shutting down server")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn("server shutdown", "error", err)
	}
}

type namedSource interface {
	services.CatalogSource
	String() string
}

// catalogSource reads the catalog from R2 when it is configured, otherwise from disk.
func catalogSource(ctx context.Context, cfg *config.Config) (namedSource, error) {
	if cfg.R2.Enabled() && cfg.CatalogR2Key != "" {
		client, err := utils.NewR2Client(ctx, cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.AccessKeySecret)
		if err != nil {
			return nil, err
		}
		return &utils.R2Object{Client: client, Bucket: cfg.R2.Bucket, Key: cfg.CatalogR2Key}, nil
	}
	return &utils.LocalFile{Path: cfg.CatalogPath}, nil
}

func streakPolicy(p config.PolicyConfig) services.StreakPolicy {
	tiers := make([]services.StreakBonusTier, len(p.StreakTiers))
	for i, t := range p.StreakTiers {
		tiers[i] = services.StreakBonusTier{MinStreak: t.MinStreak, Percent: t.Percent}
	}
	return services.StreakPolicy{Tiers: tiers}
}
