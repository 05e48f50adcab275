// Package platform builds the pooled-client Registry shared by cmd/ragapi
// and cmd/ragworker: one Postgres pool, one Redis client, one Qdrant
// client, one S3 client, and one LLM provider registry, each constructed
// exactly once and injected into the per-request/per-job components built
// on top of them (repositories, the retriever, the document processor, the
// chat orchestrator, the evaluation pipeline). No package-level globals or
// sync.Once singletons, so every component stays swappable for tests.
package platform

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ragctl/ragctl/common"
	"github.com/ragctl/ragctl/config"
	"github.com/ragctl/ragctl/db"
	"github.com/ragctl/ragctl/db/repository"
	"github.com/ragctl/ragctl/evaluation"
	"github.com/ragctl/ragctl/index"
	"github.com/ragctl/ragctl/index/lexical"
	"github.com/ragctl/ragctl/index/qdrant"
	"github.com/ragctl/ragctl/ingest"
	"github.com/ragctl/ragctl/llm"
	"github.com/ragctl/ragctl/llm/anthropic"
	"github.com/ragctl/ragctl/llm/openai"
	"github.com/ragctl/ragctl/quota"
	"github.com/ragctl/ragctl/queue"
	"github.com/ragctl/ragctl/rag"
	"github.com/ragctl/ragctl/retrieval"
	"github.com/ragctl/ragctl/retrieval/rerank"
	"github.com/ragctl/ragctl/security"
	"github.com/ragctl/ragctl/storage"
)

// Registry holds every pooled client plus the components wired on top of
// them. Fields are exported so cmd/* binaries and the api package can reach
// in directly rather than re-deriving wiring logic.
type Registry struct {
	Config config.Settings

	DB    *db.PostgresDB
	Redis *redis.Client
	Queue *queue.Queue
	Quota *quota.Ledger
	Blobs storage.Store
	Dense index.Dense
	Lex   index.Lexical
	LLM   *llm.Registry
	JWT   *security.JWTService

	Users       repository.UserRepository
	Knowledge   repository.KnowledgeRepository
	Memberships repository.MembershipRepository
	Documents   repository.DocumentRepository
	Chunks      repository.ChunkIndexRepository
	Sessions    repository.SessionRepository
	Messages    repository.MessageRepository
	TestSets    repository.TestSetRepository
	Experiments repository.ExperimentRepository

	Retriever    *retrieval.Retriever
	Processor    *ingest.Processor
	Orchestrator *rag.Orchestrator
	Generator    *evaluation.Generator
	Runner       *evaluation.Runner

	log *common.ContextLogger
}

// NewRegistry dials every pooled backend, verifies connectivity where the
// underlying client supports it, and wires the full component graph. An
// error here should fail cmd/* startup rather than degrade silently — a
// broken pooled client never recovers on its own.
func NewRegistry(ctx context.Context, cfg config.Settings) (*Registry, error) {
	common.Logger = common.NewLogger(common.LoggerConfig{Level: cfg.Service.LogLevel, Format: cfg.Service.LogFormat})
	log := common.ComponentLogger("platform")

	pdb, err := db.NewPostgresDB(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}

	redisClient, err := newRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	blobs, err := newBlobStore(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("failed to build blob store: %w", err)
	}

	dense, lex, err := newIndexes(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to build index backends: %w", err)
	}

	llmRegistry := newLLMRegistry(cfg.LLM)
	provider, err := llmRegistry.Provider(llm.Name(cfg.LLM.DefaultProvider))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default llm provider %q: %w", cfg.LLM.DefaultProvider, err)
	}
	rawEmbedder, err := llmRegistry.Embedder(llm.ProviderOpenAI)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve embedder: %w", err)
	}
	embedder := newEmbedderAdapter(rawEmbedder, cfg.LLM.EmbedModel)

	var reranker retrieval.Reranker
	if cfg.LLM.RerankURL != "" {
		reranker = rerank.NewClient(cfg.LLM.RerankURL)
	}

	r := &Registry{
		Config: cfg,
		DB:     pdb,
		Redis:  redisClient,
		Queue:  queue.NewQueueWithClient(redisClient, cfg.Redis.Prefix),
		Quota:  quota.NewLedger(redisClient, cfg.Redis.Prefix),
		Blobs:  blobs,
		Dense:  dense,
		Lex:    lex,
		LLM:    llmRegistry,
		JWT:    security.NewJWTService(cfg.Auth.JWTSecret),
		log:    log,
	}

	r.Users = repository.NewPostgresUserRepository(pdb)
	r.Knowledge = repository.NewPostgresKnowledgeRepository(pdb)
	r.Memberships = repository.NewPostgresMembershipRepository(pdb)
	r.Documents = repository.NewPostgresDocumentRepository(pdb)
	r.Chunks = repository.NewPostgresChunkIndexRepository(pdb)
	r.Sessions = repository.NewPostgresSessionRepository(pdb)
	r.Messages = repository.NewPostgresMessageRepository(pdb)
	r.TestSets = repository.NewPostgresTestSetRepository(pdb)
	r.Experiments = repository.NewPostgresExperimentRepository(pdb)

	r.Retriever = retrieval.NewRetriever(dense, lex, embedder, reranker)
	r.Processor = ingest.NewProcessor(r.Documents, r.Knowledge, r.Chunks, blobs, dense, lex, embedder)
	r.Orchestrator = rag.NewOrchestrator(r.Users, r.Sessions, r.Messages, r.Quota, r.Retriever, provider, provider)
	r.Generator = evaluation.NewGenerator(r.Knowledge, r.TestSets, lex, blobs, provider, cfg.LLM.DefaultModel)
	r.Runner = evaluation.NewRunner(r.Knowledge, r.TestSets, r.Experiments, blobs, r.Retriever, provider, cfg.LLM.DefaultModel)

	log.Info("registry initialized")
	return r, nil
}

// Close releases the pooled clients. cmd/* binaries call this on shutdown.
func (r *Registry) Close() {
	r.DB.Close()
	if err := r.Redis.Close(); err != nil {
		r.log.WithError(err).Warn("failed to close redis client cleanly")
	}
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func newBlobStore(ctx context.Context, cfg config.BlobSettings) (storage.Store, error) {
	client, err := storage.NewAWSS3Client(ctx, cfg.Endpoint, cfg.Region, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build s3 client: %w", err)
	}
	return storage.NewS3Store(client, cfg.Bucket), nil
}

func newIndexes(cfg config.IndexSettings) (index.Dense, index.Lexical, error) {
	host, portStr, err := net.SplitHostPort(cfg.QdrantURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid qdrant url %q: %w", cfg.QdrantURL, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid qdrant port in %q: %w", cfg.QdrantURL, err)
	}

	qdrantClient, err := qdrant.NewClient(host, port)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build qdrant client: %w", err)
	}

	dense := qdrant.NewStore(qdrantClient)
	lex := lexical.NewStore()
	return dense, lex, nil
}

// providerRPS and providerBurst bound outbound calls to each upstream LLM
// API so one busy knowledge base can't exhaust the account's rate limit for
// every other tenant sharing it.
const (
	providerRPS   = 5.0
	providerBurst = 10
)

func newLLMRegistry(cfg config.LLMSettings) *llm.Registry {
	r := llm.NewRegistry()

	openaiClient := openai.NewClient(cfg.OpenAIAPIKey)
	r.RegisterProvider(llm.ProviderOpenAI, llm.NewRateLimitedProvider(openaiClient, providerRPS, providerBurst))
	r.RegisterEmbedder(llm.ProviderOpenAI, llm.NewRateLimitedEmbedder(openaiClient, providerRPS, providerBurst))

	anthropicClient := anthropic.NewClient(cfg.AnthropicAPIKey)
	r.RegisterProvider(llm.ProviderAnthropic, llm.NewRateLimitedProvider(anthropicClient, providerRPS, providerBurst))

	return r
}
