package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"pdfchat/internal/ai"
	"pdfchat/internal/app"
	"pdfchat/internal/cache"
	"pdfchat/internal/chunker"
	"pdfchat/internal/config"
	"pdfchat/internal/model"
	mysqlClient "pdfchat/internal/platform/mysql"
	rabbitmqClient "pdfchat/internal/platform/rabbitmq"
	redisClient "pdfchat/internal/platform/redis"
	"pdfchat/internal/repository"
	"pdfchat/internal/vectorstore"
	"pdfchat/internal/worker"
)

// App wires the dependency graph once at startup; every component gets its
// configuration through its constructor.
type App struct {
	Config      *config.Config
	MySQL       *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	VectorStore *vectorstore.Qdrant

	DocumentRepo    *repository.DocumentRepository
	AnswerCache     *cache.AnswerCache
	IngestPublisher *rabbitmqClient.IngestPublisher
	IngestService   *app.IngestService
	QueryService    *app.QueryService
	DocumentService *app.DocumentService
	IngestWorker    *worker.IngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.Document{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	store, err := vectorstore.New(ctx, vectorstore.Config{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
		UseTLS:     cfg.Qdrant.UseTLS,
		Dimension:  uint64(cfg.Qdrant.Dimension),
	})
	if err != nil {
		return nil, err
	}

	textChunker, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	aiClient := ai.NewClient()
	embedder := ai.NewEmbeddingService(aiClient, ai.EmbeddingConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbeddingModel,
	})
	chat := ai.NewChatService(aiClient, ai.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	})

	docRepo := repository.NewDocumentRepository(mysqlDB)
	answerCache := cache.NewAnswerCache(redisCli, time.Duration(cfg.RAG.AnswerTTLSeconds)*time.Second)

	ingestService := app.NewIngestService(textChunker, embedder, store, cfg.RAG.BatchSize,
		app.WithRetry(3, time.Second),
		app.WithRetryClassifier(func(err error) bool {
			return vectorstore.IsTransient(err) || ai.IsTransient(err)
		}),
		app.WithTimeout(time.Duration(cfg.RAG.IngestTimeoutSeconds)*time.Second),
	)
	queryService := app.NewQueryService(embedder, store, chat, cfg.RAG.DefaultTopK, cfg.RAG.MaxTopK).
		WithCache(answerCache)
	documentService := app.NewDocumentService(docRepo, store, answerCache)

	ingestWorker := worker.NewIngestWorker(mqConn, ingestService, docRepo, answerCache, cfg.RabbitMQ.IngestQueue)
	if err := ingestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}

	return &App{
		Config:          cfg,
		MySQL:           mysqlDB,
		Redis:           redisCli,
		MQConn:          mqConn,
		VectorStore:     store,
		DocumentRepo:    docRepo,
		AnswerCache:     answerCache,
		IngestPublisher: rabbitmqClient.NewIngestPublisher(mqConn, cfg.RabbitMQ.IngestQueue),
		IngestService:   ingestService,
		QueryService:    queryService,
		DocumentService: documentService,
		IngestWorker:    ingestWorker,
		StartedAt:       time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.VectorStore != nil {
		if err := a.VectorStore.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
