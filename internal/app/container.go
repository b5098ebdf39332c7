package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/voice-campaign-control/internal/config"
	"github.com/acme/voice-campaign-control/internal/engine"
	"github.com/acme/voice-campaign-control/internal/infra/db"
	"github.com/acme/voice-campaign-control/internal/infra/redis"
	"github.com/acme/voice-campaign-control/internal/queue"
	"github.com/acme/voice-campaign-control/internal/repository"
	pgrepo "github.com/acme/voice-campaign-control/internal/repository/postgres"
	scyllarepo "github.com/acme/voice-campaign-control/internal/repository/scylla"
	"github.com/acme/voice-campaign-control/internal/scheduler"
	"github.com/acme/voice-campaign-control/internal/telephony"
	"github.com/acme/voice-campaign-control/internal/telephony/plivo"
	"github.com/acme/voice-campaign-control/internal/telephony/telnyx"
	"github.com/acme/voice-campaign-control/internal/telephony/twilio"
	"github.com/acme/voice-campaign-control/pkg/logger"
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
		stores       *stores
		engineClient engine.Client
		telephony    *telephony.Registry
		publisher    *queue.CallEventPublisher
		orchestrator *scheduler.Orchestrator
	}
}

type stores struct {
	Campaigns repository.CampaignStore
	Settings  repository.UserSettingsStore
	History   repository.CallHistoryStore
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

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		c.components.stores = &stores{
			Campaigns: pgrepo.NewCampaignStore(c.Postgres.DB()),
			Settings:  pgrepo.NewUserSettingsStore(c.Postgres.DB()),
			History:   scyllarepo.NewCallHistoryStore(c.Scylla.Session()),
		}

		c.components.engineClient = engine.NewHTTPClient(
			c.Config.Engine.BaseURL,
			c.Config.Engine.APIKey,
			c.Config.Engine.RequestTimeout,
		)

		callbackBase := c.Config.Telephony.StatusCallbackBaseURL
		timeout := c.Config.Telephony.RequestTimeout
		c.components.telephony = telephony.NewRegistry(
			twilio.New(callbackBase, timeout),
			plivo.New(callbackBase, timeout),
			telnyx.New(callbackBase, timeout),
		)

		c.components.publisher = queue.NewCallEventPublisher(c.Kafka, c.Config.Kafka.CallEventsTopic)

		lease := redis.NewLease(c.Redis, c.Config.Scheduler.LeaseKey, c.Config.Scheduler.LeaseTTL)

		c.components.orchestrator = scheduler.New(scheduler.Options{
			Config:       c.Config.Scheduler,
			Engine:       c.Config.Engine,
			Telephony:    c.Config.Telephony,
			Logger:       c.Logger.Named("scheduler"),
			Campaigns:    c.components.stores.Campaigns,
			Settings:     c.components.stores.Settings,
			History:      c.components.stores.History,
			EngineClient: c.components.engineClient,
			Bridge:       c.components.telephony,
			Events:       c.components.publisher,
			Lease:        lease,
		})
	})
}

// Stores exposes initialized repositories.
func (c *Container) Stores() (repository.CampaignStore, repository.UserSettingsStore, repository.CallHistoryStore) {
	c.initComponents()
	s := c.components.stores
	return s.Campaigns, s.Settings, s.History
}

// EngineClient exposes the voice engine client.
func (c *Container) EngineClient() engine.Client {
	c.initComponents()
	return c.components.engineClient
}

// Orchestrator exposes the campaign scheduler.
func (c *Container) Orchestrator() *scheduler.Orchestrator {
	c.initComponents()
	return c.components.orchestrator
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	if c.Config.Kafka.CallEventsTopic == "" {
		return nil
	}
	return c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.CallEventsTopic}, 12, 1)
}

// RegisterEngineWebhook points the voice engine at our webhook endpoint.
// Existing registrations for other deployments are left alone; the engine
// deduplicates by URL.
func (c *Container) RegisterEngineWebhook(ctx context.Context) error {
	if c.Config.Engine.WebhookBaseURL == "" {
		c.Logger.Warn("engine webhook base url not configured, skipping registration")
		return nil
	}
	c.initComponents()

	url := c.Config.Engine.WebhookBaseURL + "/webhook/engine"
	events := []string{"call.joined", "call.ended", "call.billed"}
	id, err := c.components.engineClient.CreateWebhook(ctx, url, events, c.Config.Engine.WebhookSecret)
	if err != nil {
		return fmt.Errorf("register engine webhook: %w", err)
	}
	c.Logger.Info("engine webhook registered", zap.String("webhook_id", id), zap.String("url", url))
	return nil
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.components.publisher != nil {
		if err := c.components.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher close: %w", err))
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
