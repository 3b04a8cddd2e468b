package bootstrap

import (
	"log"
	"time"

	"github.com/chatspace/backend-go/app/controllers"
	"github.com/chatspace/backend-go/internal/config"
	"github.com/chatspace/backend-go/internal/database"
	"github.com/chatspace/backend-go/internal/di"
	"github.com/chatspace/backend-go/internal/kafka"
	"github.com/chatspace/backend-go/internal/logger"
	"github.com/chatspace/backend-go/internal/services"
	"github.com/chatspace/backend-go/internal/storage"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	cleanupTasks []func() error
}

// Global app instance for controllers to access
var globalApp *App

// GetApp returns the global app instance
func GetApp() *App {
	return globalApp
}

// Init bootstraps configuration, logger, database connections and other shared
// infrastructure components required by the Beego application.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize structured logger.
	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	// Load dynamic configuration.
	if err := config.LoadConfig(); err != nil {
		return nil, err
	}

	app := &App{}

	// Initialize database.
	if _, err := database.InitDB(); err != nil {
		return nil, err
	}
	app.cleanupTasks = append(app.cleanupTasks, database.CloseDB)

	// Initialize Redis (optional). Failure shouldn't block the app.
	if _, err := database.InitRedis(); err != nil {
		logger.Warn("Failed to initialize Redis, quota sums will not be cached", zap.Error(err))
	} else if database.RedisClient != nil {
		app.cleanupTasks = append(app.cleanupTasks, database.CloseRedis)
	}

	// Initialize Kafka producer for usage events (optional).
	if config.AppConfig.Kafka.Enabled {
		if err := kafka.InitProducer(config.AppConfig.Kafka.Brokers, config.AppConfig.Kafka.Topic); err != nil {
			logger.Warn("Failed to initialize Kafka producer, usage events disabled", zap.Error(err))
		} else {
			app.cleanupTasks = append(app.cleanupTasks, func() error {
				return kafka.GetProducer().Close()
			})
		}
	}

	// Initialize MinIO attachment archive (optional).
	if config.AppConfig.Minio.Enabled {
		if _, err := storage.NewAttachmentStore(); err != nil {
			logger.Warn("Failed to initialize MinIO, attachment archiving disabled", zap.Error(err))
		}
	}

	if err := registerServices(); err != nil {
		return nil, err
	}

	logger.Info("Application bootstrap complete",
		zap.String("env", config.AppConfig.Server.Env),
		zap.String("port", config.AppConfig.Server.Port))

	globalApp = app
	return app, nil
}

// registerServices 把核心服务注册进DI容器并装配对话编排器
// 控制器从这里拿到装配好的编排器，不自行拼依赖
func registerServices() error {
	di.InitContainer()

	streamTimeout := 300 * time.Second
	toolTimeout := 30 * time.Second
	if cfg := config.AppConfig; cfg != nil {
		if cfg.Chat.StreamTimeoutSeconds > 0 {
			streamTimeout = time.Duration(cfg.Chat.StreamTimeoutSeconds) * time.Second
		}
		if cfg.Chat.ToolTimeoutSeconds > 0 {
			toolTimeout = time.Duration(cfg.Chat.ToolTimeoutSeconds) * time.Second
		}
	}

	constructors := []interface{}{
		func() *gorm.DB { return database.DB },
		services.NewProviderResolver,
		services.NewAttachmentPipeline,
		services.NewTitleSynthesizer,
		services.NewChatStore,
		func(db *gorm.DB) *services.QuotaGuard {
			return services.NewQuotaGuard(services.NewGormQuotaStore(db, database.RedisClient))
		},
		func() *services.MetricsService { return services.GetMetrics() },
		func(db *gorm.DB, metrics *services.MetricsService) *services.UsageService {
			return services.NewUsageService(db, database.RedisClient, metrics)
		},
		func(db *gorm.DB) *services.ToolDispatcher {
			return services.NewToolDispatcher(db, toolTimeout)
		},
		func() *services.CompletionStreamer {
			return services.NewCompletionStreamer(streamTimeout)
		},
		services.NewTurnOrchestrator,
	}
	for _, ctor := range constructors {
		if err := di.Provide(ctor); err != nil {
			return err
		}
	}

	return di.Invoke(func(o *services.TurnOrchestrator) {
		controllers.SetOrchestrator(o)
	})
}

// Shutdown runs registered cleanup tasks in reverse order.
func (a *App) Shutdown() {
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			logger.Error("Cleanup task failed", zap.Error(err))
		}
	}
	logger.Sync()
}
