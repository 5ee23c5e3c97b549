package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/lead-call-queue/internal/config"
	"github.com/acme/lead-call-queue/internal/domain"
	"github.com/acme/lead-call-queue/internal/gateway"
	"github.com/acme/lead-call-queue/internal/gateway/convai"
	gatewayMock "github.com/acme/lead-call-queue/internal/gateway/mock"
	"github.com/acme/lead-call-queue/internal/infra/db"
	"github.com/acme/lead-call-queue/internal/infra/redis"
	"github.com/acme/lead-call-queue/internal/queue"
	"github.com/acme/lead-call-queue/internal/reconciler"
	"github.com/acme/lead-call-queue/internal/repository"
	pgrepo "github.com/acme/lead-call-queue/internal/repository/postgres"
	scyllarepo "github.com/acme/lead-call-queue/internal/repository/scylla"
	"github.com/acme/lead-call-queue/internal/scheduler"
	"github.com/acme/lead-call-queue/internal/service/concurrency"
	schedulesvc "github.com/acme/lead-call-queue/internal/service/schedule"
	"github.com/acme/lead-call-queue/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		publishers   *publishers
		providers    *providers
		limiters     *limiters
		reconciler   *reconciler.Reconciler
	}
}

type repositories struct {
	Queue   repository.QueueRepository
	Leads   repository.LeadStore
	Agents  repository.AgentRegistry
	Records repository.CallRecordStore
}

type services struct {
	Schedule *schedulesvc.Service
}

type publishers struct {
	Completion *queue.CompletionPublisher
	DeadLetter *queue.DeadLetterPublisher
}

type providers struct {
	Call gateway.Provider
}

type limiters struct {
	Concurrency *concurrency.Limiter
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Queue:   pgrepo.NewQueueRepository(c.Postgres.DB()),
			Leads:   pgrepo.NewLeadRepository(c.Postgres.DB()),
			Agents:  pgrepo.NewAgentRepository(c.Postgres.DB()),
			Records: scyllarepo.NewCallRecordStore(c.Scylla.Session()),
		}

		pubs := &publishers{
			Completion: queue.NewCompletionPublisher(c.Kafka, c.Config.Kafka.CompletionTopic),
			DeadLetter: queue.NewDeadLetterPublisher(c.Kafka, c.Config.Kafka.DeadLetterTopic),
		}

		services := &services{
			Schedule: schedulesvc.NewService(
				repos.Queue,
				repos.Leads,
				repos.Agents,
				c.Config.Retry.DefaultMaxRetries,
			),
		}

		providers := &providers{}
		if c.Config.Provider.UseMock {
			providers.Call = gatewayMock.NewProvider()
		} else {
			providers.Call = convai.NewClient(c.Config.Provider)
		}

		limiters := &limiters{
			Concurrency: concurrency.NewLimiter(c.Redis.Inner(), c.Config.Throttle.PerAgentConcurrency, c.Config.Dispatch.SlotTTL),
		}

		retryPolicy := domain.RetryPolicy{
			BaseDelay: c.Config.Retry.BaseDelay,
			MaxDelay:  c.Config.Retry.MaxDelay,
			Jitter:    c.Config.Retry.Jitter,
		}
		c.components.reconciler = reconciler.New(
			repos.Queue,
			repos.Leads,
			repos.Records,
			reconciler.KeywordClassifier{},
			reconciler.DefaultScorePolicy(),
			reconciler.NewBackoff(retryPolicy),
			limiters.Concurrency,
			c.Logger,
		)

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.services = services
		c.components.providers = providers
		c.components.limiters = limiters
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Providers exposes external providers.
func (c *Container) Providers() *providers {
	c.initComponents()
	return c.components.providers
}

// Limiters exposes limiter utilities.
func (c *Container) Limiters() *limiters {
	c.initComponents()
	return c.components.limiters
}

// Reconciler exposes the completion reconciler.
func (c *Container) Reconciler() *reconciler.Reconciler {
	c.initComponents()
	return c.components.reconciler
}

// DeadLetter exposes the dead letter publisher; nil when no topic is set.
func (c *Container) DeadLetter() *queue.DeadLetterPublisher {
	c.initComponents()
	return c.components.publishers.DeadLetter
}

// Dispatcher builds the dispatch loop over the container's components.
func (c *Container) Dispatcher() *scheduler.Dispatcher {
	c.initComponents()
	return scheduler.New(
		c.components.services.Schedule,
		c.components.repositories.Leads,
		c.components.repositories.Agents,
		c.components.providers.Call,
		c.components.limiters.Concurrency,
		c.Logger,
		scheduler.Options{
			PollInterval:   c.Config.Dispatch.PollInterval,
			BatchSize:      c.Config.Dispatch.BatchSize,
			RequestTimeout: c.Config.Provider.RequestTimeout,
			PerAgentLimit:  c.Config.Throttle.PerAgentConcurrency,
		},
	)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		if p.Completion != nil {
			if err := p.Completion.Close(); err != nil {
				errs = append(errs, fmt.Errorf("completion publisher close: %w", err))
			}
		}
		if p.DeadLetter != nil {
			if err := p.DeadLetter.Close(); err != nil {
				errs = append(errs, fmt.Errorf("dead letter publisher close: %w", err))
			}
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.CompletionTopic}
	if err := c.Kafka.EnsureTopics(ctx, topics, 12, 1); err != nil {
		return err
	}

	if c.Config.Kafka.DeadLetterTopic != "" {
		if err := c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.DeadLetterTopic}, 3, 1); err != nil {
			return err
		}
	}

	return nil
}
