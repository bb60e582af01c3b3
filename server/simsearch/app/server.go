package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"sim_server/server/common/auth"
	"sim_server/server/common/infra/cache"
	"sim_server/server/common/infra/db"
	"sim_server/server/common/infra/mq"
	"sim_server/server/common/infra/object"
	commonlog "sim_server/server/common/log"
	"sim_server/server/simsearch/api"
	"sim_server/server/simsearch/embedding"
	"sim_server/server/simsearch/index"
	"sim_server/server/simsearch/repository"
	"sim_server/server/simsearch/service"
)

type Server struct {
	HTTPServer *http.Server
	Consumer   *service.Consumer

	index     *index.Index
	snapshots *service.SnapshotStore
	feed      *service.AMQPFeed
	mqConn    *amqp.Connection
	pool      *pgxpool.Pool
	redis     *redis.Client
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize embedder: %w", err)
	}
	commonlog.Infof("event=startup embedder=%s dimension=%d", embedder.Name(), embedder.Dimension())

	// A persisted index that disagrees with the model dimension, or whose
	// artifacts disagree with each other, refuses to start here.
	ix, err := index.Open(cfg.IndexDir, embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	var fetcher service.ArticleFetcher = repository.NewArticleRepository(pool)
	var redisClient *redis.Client
	if cfg.CacheEnabled {
		redisClient = cache.NewClient(cfg.RedisAddr)
		if err := cache.Ping(ctx, redisClient); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		fetcher = service.NewCachedFetcher(fetcher, redisClient, cfg.CacheTTL)
	}

	mqConn, err := mq.NewConnection(cfg.LavinMQURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize lavinmq: %w", err)
	}
	feed, err := service.NewAMQPFeed(mqConn, cfg.FeedQueue, cfg.FeedPollTimeout)
	if err != nil {
		_ = mqConn.Close()
		pool.Close()
		return nil, fmt.Errorf("subscribe change feed: %w", err)
	}

	var snapshots *service.SnapshotStore
	if cfg.SnapshotEnabled {
		minioClient, err := object.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
		if err != nil {
			_ = mqConn.Close()
			pool.Close()
			return nil, fmt.Errorf("initialize minio: %w", err)
		}
		if err := object.EnsureBucket(ctx, minioClient, cfg.MinioBucket); err != nil {
			_ = mqConn.Close()
			pool.Close()
			return nil, fmt.Errorf("ensure snapshot bucket: %w", err)
		}
		snapshots = service.NewSnapshotStore(minioClient, cfg.MinioBucket, ix, cfg.SnapshotEvery)
	}

	consumer := service.NewConsumer(feed, fetcher, embedder, ix, snapshots)
	searchSvc := service.NewSearchService(embedder, ix, fetcher)

	var authSvc *auth.Service
	if cfg.AuthEnabled {
		authSvc = auth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	}

	h := api.NewHandler(searchSvc, ix, authSvc)
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTPServer: httpServer,
		Consumer:   consumer,
		index:      ix,
		snapshots:  snapshots,
		feed:       feed,
		mqConn:     mqConn,
		pool:       pool,
		redis:      redisClient,
	}, nil
}

func buildEmbedder(cfg Config) (embedding.Embedder, error) {
	switch cfg.EmbedderBackend {
	case "", "local":
		return embedding.NewLocal(cfg.EmbeddingDimension), nil
	case "openai":
		return embedding.NewOpenAI(embedding.OpenAIConfig{
			BaseURL:   cfg.OpenAIBaseURL,
			APIKeyEnv: cfg.OpenAIKeyEnv,
			Model:     cfg.OpenAIModel,
			Timeout:   cfg.OpenAITimeout,
		})
	default:
		return nil, fmt.Errorf("unknown embedder backend %q", cfg.EmbedderBackend)
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.snapshots != nil {
		if err := s.snapshots.Upload(ctx); err != nil {
			commonlog.Warnf("event=shutdown status=snapshot_failed error=%v", err)
		}
	}
	if s.feed != nil {
		_ = s.feed.Close()
	}
	if s.mqConn != nil {
		_ = s.mqConn.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return s.HTTPServer.Shutdown(ctx)
}
