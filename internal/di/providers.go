package di

import (
	"context"
	"fmt"
	"time"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	drepo "SweepTrader/internal/domain/repository"
	dsvc "SweepTrader/internal/domain/service"
	"SweepTrader/internal/handler/api"
	"SweepTrader/internal/repository"
	"SweepTrader/internal/service/bridge"
	"SweepTrader/internal/service/ratelimit"
	"SweepTrader/internal/services/advisor"
	"SweepTrader/internal/services/calendar"
	"SweepTrader/internal/services/upstream"
	"SweepTrader/internal/usecase"
	"SweepTrader/pkg/cache"
	pkgch "SweepTrader/pkg/clickhouse"
	"SweepTrader/pkg/config"
	"SweepTrader/pkg/guard"
	xhttp "SweepTrader/pkg/http"
	pkgkafka "SweepTrader/pkg/kafka"
	"SweepTrader/pkg/logger"
	"SweepTrader/pkg/metrics"
	"SweepTrader/pkg/postgres"
	"SweepTrader/pkg/queue"
	"SweepTrader/pkg/server"
)

// Outbound rate-limit keys; the upstream base uses its service name.
const (
	limitCalendar = "calendar"
	limitAdvisor  = "advisor"
	limitBroker   = "broker"
)

// InfraSet builds storage, messaging and observability.
var InfraSet = wire.NewSet(
	ProvideRegistry,
	ProvideMetrics,
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideRedis,
	ProvideCache,
	ProvideSessionLocker,
	ProvideSessionRepository,
	ProvideClickHouse,
	ProvideAuditSink,
	ProvideLimiter,
)

// EngineSet builds the adapters and the state machine on top of InfraSet.
var EngineSet = wire.NewSet(
	ProvideQuoteStream,
	ProvideBridge,
	wire.Bind(new(drepo.MarketDataGateway), new(*bridge.Client)),
	ProvideCalendar,
	ProvideAdvisor,
	ProvideEngine,
)

func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) drepo.Metrics {
	return metrics.New(reg)
}

// ProvideKafkaProducer returns nil when kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(reg,
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(p.BatchSize, p.BatchBytes, p.Linger),
		pkgkafka.WithTimeouts(p.WriteTimeout, p.ReadTimeout),
		pkgkafka.WithMaxAttempts(p.MaxAttempts),
		pkgkafka.WithAsync(p.Async),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the app logger. With kafka enabled, repeated warnings
// and errors are also shipped in batches to the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, func(), error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	log = log.With(logger.String("env", cfg.Environment), logger.String("mode", cfg.Mode))
	if producer != nil {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval: 30 * time.Second,
			Topic:        cfg.Kafka.Topics.Logs,
			Publisher:    producer,
		})
	}
	return log, log.RemoveCollector, nil
}

// ProvideRedis returns nil when redis is disabled.
func ProvideRedis(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache backs locks and the calendar cache with redis when available,
// otherwise with process memory.
func ProvideCache(cfg *config.Config, client *redis.Client) (cache.Service, func()) {
	if client != nil {
		return cache.NewRedisCacheWithClient(client, cache.WithRedisPrefix(cfg.Redis.Prefix)), func() {}
	}
	mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(1024), cache.WithMemoryCleanup(time.Minute))
	return mc, func() { _ = mc.Close() }
}

func ProvideSessionLocker(c cache.Service) drepo.SessionLocker {
	return repository.NewCacheSessionLocker(c)
}

// ProvideSessionRepository is postgres in live mode and memory in paper mode.
// The schema is applied on startup.
func ProvideSessionRepository(cfg *config.Config) (drepo.SessionRepository, func(), error) {
	if cfg.Mode != "live" {
		return repository.NewMemorySessionRepository(), func() {}, nil
	}
	client, err := postgres.NewClient(cfg.Postgres.DSN,
		postgres.WithPool(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns, cfg.Postgres.ConnMaxLifetime),
		postgres.WithQueryTimeout(cfg.Postgres.QueryTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres client: %w", err)
	}
	repo := repository.NewPostgresSessionRepository(client)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repo.Init(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("postgres schema: %w", err)
	}
	return repo, func() { _ = client.Close() }, nil
}

// ProvideClickHouse returns nil when clickhouse is disabled.
func ProvideClickHouse(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

type schemaInitializer interface {
	Init(ctx context.Context) error
}

// ProvideAuditSink fans audit records out to every enabled downstream.
func ProvideAuditSink(cfg *config.Config, ch *pkgch.Client, producer *pkgkafka.Producer) (drepo.AuditSink, error) {
	var sinks []drepo.AuditSink
	if ch != nil {
		sink := repository.NewClickHouseAuditSink(ch)
		if i, ok := sink.(schemaInitializer); ok {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := i.Init(ctx); err != nil {
				return nil, fmt.Errorf("clickhouse schema: %w", err)
			}
		}
		sinks = append(sinks, sink)
	}
	if producer != nil {
		sinks = append(sinks, repository.NewKafkaAuditSink(producer, cfg.Kafka.Topics.Audit))
	}
	return repository.NewMultiAuditSink(sinks...), nil
}

func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	l := ratelimit.New()
	l.Configure(limitCalendar, cfg.Calendar.RatePerMinute, 1)
	l.Configure(limitAdvisor, cfg.Advisor.RatePerMinute, 2)
	l.Configure(limitBroker, 600, 20)
	l.Configure(api.LimitEvaluate, 30, 5)
	l.Configure(api.LimitReset, 6, 2)
	return l
}

// ProvideQuoteStream returns nil when no stream URL is configured.
func ProvideQuoteStream(cfg *config.Config, log *logger.Logger) (*bridge.Stream, func()) {
	if cfg.Bridge.StreamURL == "" {
		return nil, func() {}
	}
	s := bridge.NewStream(cfg.Bridge.StreamURL, cfg.Bridge.APIKey, cfg.Driver.Symbols,
		cfg.Bridge.ReconnectDelay, cfg.Bridge.PingInterval, log.With(logger.String("component", "quote_stream")))
	return s, func() { _ = s.Close() }
}

func ProvideBridge(cfg *config.Config, limiter *ratelimit.Limiter, stream *bridge.Stream, log *logger.Logger) *bridge.Client {
	b := cfg.Bridge
	client := xhttp.NewClient(xhttp.WithTimeout(b.Timeout), xhttp.WithHeader("X-API-Key", b.APIKey))
	base := upstream.NewHTTPServiceBase(limitBroker, b.BaseURL, client, limiter)

	policy := guard.OrderPolicy()
	policy.MaxAttempts = b.OrderAttempts
	policy.BaseBackoff = b.OrderBackoff
	policy.MaxBackoff = b.OrderMaxBackoff
	policy.Cooldown = b.BreakerCooldown

	blog := log.With(logger.String("component", "bridge"))
	orders := guard.New(policy, guard.WithRetryHook(func(attempt int, err error) {
		blog.Warn("order attempt failed, retrying", logger.Int("attempt", attempt), logger.Error(err))
	}))
	opts := []bridge.Option{bridge.WithLogger(blog)}
	if stream != nil {
		opts = append(opts, bridge.WithStream(stream, b.QuoteMaxAge))
	}
	return bridge.NewClient(base, orders, opts...)
}

// ProvideCalendar returns nil when the news gate has no feed.
func ProvideCalendar(cfg *config.Config, limiter *ratelimit.Limiter, c cache.Service, log *logger.Logger) dsvc.EconomicCalendar {
	if !cfg.Calendar.Enabled {
		return nil
	}
	base := upstream.NewHTTPServiceBase(limitCalendar, cfg.Calendar.URL, xhttp.NewClient(xhttp.WithTimeout(cfg.Calendar.Timeout)), limiter)
	g := guard.New(guard.Policy{
		Name:        limitCalendar,
		MaxAttempts: cfg.Calendar.Attempts,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		TripAfter:   5,
		Cooldown:    time.Minute,
	})
	return calendar.NewForexFactory(base, c, g, cfg.Calendar.CacheTTL, log.With(logger.String("component", "calendar")))
}

// ProvideAdvisor wraps the HTTP advisor so any failure proceeds with the trade.
func ProvideAdvisor(cfg *config.Config, limiter *ratelimit.Limiter, log *logger.Logger) dsvc.TradeAdvisor {
	if !cfg.Advisor.Enabled {
		return advisor.Noop{}
	}
	client := xhttp.NewClient(xhttp.WithTimeout(cfg.Advisor.Timeout), xhttp.WithHeader("Authorization", "Bearer "+cfg.Advisor.APIKey))
	base := upstream.NewHTTPServiceBase(limitAdvisor, cfg.Advisor.URL, client, limiter)
	return advisor.NewFailOpen(advisor.NewHTTPAdvisor(base), guard.New(guard.AdvisorPolicy(cfg.Advisor.Timeout)),
		log.With(logger.String("component", "advisor")))
}

func ProvideEngine(
	cfg *config.Config,
	gateway drepo.MarketDataGateway,
	repo drepo.SessionRepository,
	locker drepo.SessionLocker,
	m drepo.Metrics,
	audit drepo.AuditSink,
	cal dsvc.EconomicCalendar,
	adv dsvc.TradeAdvisor,
	log *logger.Logger,
) (*usecase.Engine, error) {
	opts := []usecase.EngineOption{
		usecase.WithEngineLogger(log.With(logger.String("component", "engine"))),
		usecase.WithMetrics(m),
		usecase.WithAuditSink(audit),
		usecase.WithAdvisor(adv),
		usecase.WithLockTTL(cfg.Driver.LockTTL),
		usecase.WithNewsHorizon(cfg.Calendar.Horizon),
	}
	if cal != nil {
		opts = append(opts, usecase.WithCalendar(cal))
	}
	return usecase.NewEngine(cfg.Strategy, gateway, repo, locker, opts...)
}

func ProvideDriver(cfg *config.Config, engine *usecase.Engine, b *bridge.Client, log *logger.Logger, m drepo.Metrics) *usecase.Driver {
	return usecase.NewDriver(engine, b, cfg.Driver, log.With(logger.String("component", "driver")), m)
}

func ProvideTradeCloseHandler(cfg *config.Config, engine *usecase.Engine, m drepo.Metrics, log *logger.Logger) *usecase.TradeCloseHandler {
	return usecase.NewTradeCloseHandler(cfg.Kafka.Topics.TradeClose, engine, m, log.With(logger.String("component", "trade_close")))
}

// ProvideKafkaConsumer returns nil when kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, h *usecase.TradeCloseHandler, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(log.With(logger.String("component", "kafka_consumer")),
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerFetch(c.MinBytes, c.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(h)
	return consumer, nil
}

// ProvideTradeCloseQueue returns nil unless the redis queue is enabled.
func ProvideTradeCloseQueue(cfg *config.Config, client *redis.Client, h *usecase.TradeCloseHandler, log *logger.Logger) *queue.RedisQueue {
	q := cfg.Redis.Queue
	if !q.Enabled || client == nil {
		return nil
	}
	rq := queue.NewRedisQueue(log.With(logger.String("component", "redis_queue")), queue.Config{
		Workers:    q.Workers,
		RetryLimit: q.RetryLimit,
		RetryDelay: q.RetryDelay,
	}, client, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	rq.RegisterJob(h)
	return rq
}

func ProvideSessionsHandler(
	log *logger.Logger,
	engine *usecase.Engine,
	repo drepo.SessionRepository,
	b *bridge.Client,
	limiter *ratelimit.Limiter,
) *api.SessionsEchoHandler {
	return api.NewSessionsEchoHandler(log.With(logger.String("component", "api")), engine, repo, b, limiter)
}

func ProvideHTTPServer(cfg *config.Config, h *api.SessionsEchoHandler, reg *prometheus.Registry, log *logger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(log.With(logger.String("component", "http"))),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, cfg.Metrics.Path))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideApp assembles the process. Nil optional components are skipped so a
// typed nil never reaches the App as a non-nil interface.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	httpServer *xhttp.Server,
	driver *usecase.Driver,
	stream *bridge.Stream,
	consumer *pkgkafka.Consumer,
	rq *queue.RedisQueue,
) *server.App {
	opts := []server.Option{
		server.WithHTTPServer(httpServer),
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		server.WithRunner("driver", driver),
	}
	if stream != nil {
		opts = append(opts, server.WithRunner("quote_stream", stream))
	}
	if consumer != nil {
		opts = append(opts, server.WithWorker("kafka_consumer", consumer))
	}
	if rq != nil {
		opts = append(opts, server.WithWorker("trade_close_queue", rq))
	}
	return server.New(log, opts...)
}
