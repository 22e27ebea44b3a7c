package container

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"visitstats/internal/config"
	"visitstats/internal/repository"
	"visitstats/internal/service"
	apperrors "visitstats/pkg/errors"
	"visitstats/pkg/database"
	"visitstats/pkg/logger"
	"visitstats/pkg/redis"
)

const connectTimeout = 10 * time.Second

// closer releases one backend connection
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Container holds all application dependencies
type Container struct {
	Config         *config.Config
	Logger         *logger.Logger
	VisitStore     repository.VisitRepository
	VisitorService service.VisitorService

	closers []closer
}

// New creates a new dependency injection container, connecting to the store
// selected by cfg.StoreBackend. A backend that cannot be reached is an error.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: log,
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	store, err := c.newVisitStore(connectCtx)
	if err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}

	c.VisitStore = store
	c.VisitorService = service.NewVisitorService(store, log.Component("visitor_service"))

	log.WithFields(map[string]interface{}{
		"backend": cfg.StoreBackend,
		"table":   cfg.VisitsTable,
	}).Info("Visit store initialized")

	return c, nil
}

func (c *Container) newVisitStore(ctx context.Context) (repository.VisitRepository, error) {
	cfg := c.Config
	storeLog := c.Logger.Component("visit_store").WithField("backend", cfg.StoreBackend)

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL, cfg.DatabaseReadURL)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to connect to postgres", err)
		}
		c.addCloser("postgres", func(context.Context) error {
			db.Close()
			return nil
		})
		return repository.NewVisitRepository(db, cfg.VisitsTable), nil

	case config.BackendRedis:
		client, err := redis.NewClient(cfg.RedisURL, cfg.Environment, storeLog.Logger)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to connect to redis", err)
		}
		c.addCloser("redis", func(context.Context) error { return client.Close() })
		return repository.NewRedisVisitRepository(client, cfg.VisitsTable, storeLog), nil

	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, apperrors.NewConfigurationError("failed to load AWS configuration: "+err.Error(), nil)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		})
		return repository.NewDynamoVisitRepository(client, cfg.VisitsTable, storeLog), nil

	case config.BackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, apperrors.NewStorageError("failed to connect to mongo", err)
		}
		c.addCloser("mongo", client.Disconnect)
		if err := client.Ping(ctx, nil); err != nil {
			return nil, apperrors.NewStorageError("failed to ping mongo", err)
		}
		coll := client.Database(cfg.MongoDatabase).Collection(cfg.VisitsTable)
		return repository.NewMongoVisitRepository(coll, storeLog), nil

	case config.BackendMemory:
		storeLog.Warn("Using in-memory visit store; visits are lost on restart")
		return repository.NewMemoryVisitRepository(), nil

	default:
		return nil, apperrors.NewConfigurationError("unsupported store backend "+cfg.StoreBackend,
			map[string]interface{}{"key": "STORE_BACKEND"})
	}
}

func (c *Container) addCloser(name string, fn func(ctx context.Context) error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

// Close releases backend connections in reverse order of creation
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.fn(ctx); err != nil {
			c.Logger.WithError(err).WithField("backend", cl.name).Error("Failed to close store connection")
			errs = append(errs, fmt.Errorf("%s close: %w", cl.name, err))
			continue
		}
		c.Logger.WithField("backend", cl.name).Info("Store connection closed")
	}
	c.closers = nil

	if len(errs) > 0 {
		return fmt.Errorf("closing store connections: %v", errs)
	}
	return nil
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.Logger
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.Config
}

// GetVisitorService returns the visitor service
func (c *Container) GetVisitorService() service.VisitorService {
	return c.VisitorService
}
