package cli

import (
	"context"
	"time"

	"github.com/m-kurata/kotae/pkg/adapter"
	"github.com/m-kurata/kotae/pkg/repository"
	"github.com/m-kurata/kotae/pkg/service/retrieval"
	"github.com/m-kurata/kotae/pkg/service/vectorstore"
	"github.com/m-kurata/kotae/pkg/usecase/chat"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	logLevel string

	// Repository
	backend           string
	sqlitePath        string
	firestoreProject  string
	firestoreDatabase string

	// Adapters
	geminiProject   string
	geminiLocation  string
	generativeModel string
	embeddingModel  string

	// Index storage
	bucket   string
	dataDir  string
	indexKey string

	// Indexing
	chunkSize    int64
	chunkOverlap int64

	// Retrieval
	topK           int64
	scoreThreshold float64
	contextBudget  int64

	// Session
	sessionTimeout time.Duration
	maxTurns       int64

	// Escalation
	rulesPath    string
	intentAssist bool
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("KOTAE_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
	}
}

// repositoryFlags returns flags for session and ticket persistence
func repositoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Session store backend (memory, sqlite, firestore)",
			Value:       "memory",
			Sources:     cli.EnvVars("KOTAE_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "Path to SQLite database file",
			Value:       "kotae.db",
			Sources:     cli.EnvVars("KOTAE_SQLITE_PATH"),
			Destination: &cfg.sqlitePath,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID for Firestore",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.firestoreDatabase,
		},
	}
}

// geminiFlags returns flags for LLM-related configuration
func geminiFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "generative-model",
			Usage:       "Model used for answer generation",
			Sources:     cli.EnvVars("KOTAE_GENERATIVE_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Model used for embeddings",
			Sources:     cli.EnvVars("KOTAE_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
	}
}

// storageFlags returns flags for index blob persistence
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for the index blob (local directory when empty)",
			Sources:     cli.EnvVars("KOTAE_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Local directory for the index blob",
			Value:       "./data",
			Sources:     cli.EnvVars("KOTAE_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.StringFlag{
			Name:        "index-key",
			Usage:       "Object key of the index blob",
			Value:       "index/vectors.json",
			Sources:     cli.EnvVars("KOTAE_INDEX_KEY"),
			Destination: &cfg.indexKey,
		},
	}
}

// indexFlags returns flags for document chunking
func indexFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "chunk-size",
			Usage:       "Chunk size for document splitting",
			Value:       1000,
			Sources:     cli.EnvVars("KOTAE_CHUNK_SIZE"),
			Destination: &cfg.chunkSize,
		},
		&cli.IntFlag{
			Name:        "chunk-overlap",
			Usage:       "Overlap between adjacent chunks",
			Value:       200,
			Sources:     cli.EnvVars("KOTAE_CHUNK_OVERLAP"),
			Destination: &cfg.chunkOverlap,
		},
	}
}

// retrievalFlags returns flags for search behavior
func retrievalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Number of chunks to retrieve",
			Value:       5,
			Sources:     cli.EnvVars("KOTAE_TOP_K"),
			Destination: &cfg.topK,
		},
		&cli.FloatFlag{
			Name:        "score-threshold",
			Usage:       "Minimum similarity score for retrieved chunks",
			Value:       0.3,
			Sources:     cli.EnvVars("KOTAE_SCORE_THRESHOLD"),
			Destination: &cfg.scoreThreshold,
		},
		&cli.IntFlag{
			Name:        "context-budget",
			Usage:       "Context size limit for retrieved chunks",
			Value:       4000,
			Sources:     cli.EnvVars("KOTAE_CONTEXT_BUDGET"),
			Destination: &cfg.contextBudget,
		},
	}
}

// chatFlags returns flags for conversation behavior
func chatFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:        "session-timeout",
			Usage:       "Idle duration after which a conversation restarts",
			Value:       time.Hour,
			Sources:     cli.EnvVars("KOTAE_SESSION_TIMEOUT"),
			Destination: &cfg.sessionTimeout,
		},
		&cli.IntFlag{
			Name:        "max-turns",
			Usage:       "Number of user turns kept in the conversation window",
			Value:       10,
			Sources:     cli.EnvVars("KOTAE_MAX_TURNS"),
			Destination: &cfg.maxTurns,
		},
		&cli.StringFlag{
			Name:        "escalation-rules",
			Usage:       "Path to YAML escalation rule file",
			Sources:     cli.EnvVars("KOTAE_ESCALATION_RULES"),
			Destination: &cfg.rulesPath,
		},
		&cli.BoolFlag{
			Name:        "intent-assist",
			Usage:       "Classify ambiguous operator requests with the LLM",
			Sources:     cli.EnvVars("KOTAE_INTENT_ASSIST"),
			Destination: &cfg.intentAssist,
		},
	}
}

// newRepository creates a repository for the configured backend
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	switch cfg.backend {
	case "memory":
		return repository.NewMemory(), nil

	case "sqlite":
		return repository.NewSQLite(cfg.sqlitePath)

	case "firestore":
		if cfg.firestoreProject == "" {
			return nil, goerr.New("firestore-project is required")
		}
		return repository.NewFirestore(ctx, cfg.firestoreProject, cfg.firestoreDatabase)
	}

	return nil, goerr.New("unknown backend", goerr.V("backend", cfg.backend))
}

// newGemini creates a Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}

	var opts []adapter.GeminiOption
	if cfg.generativeModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.generativeModel))
	}
	if cfg.embeddingModel != "" {
		opts = append(opts, adapter.WithEmbeddingModel(cfg.embeddingModel))
	}

	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newStorage creates the blob storage for the index
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket != "" {
		return adapter.NewStorage(ctx, cfg.bucket)
	}
	return adapter.NewDirStorage(cfg.dataDir), nil
}

// loadStore loads the persisted index and verifies it against the
// configured embedding model
func (cfg *config) loadStore(ctx context.Context, gemini adapter.Gemini) (*vectorstore.Store, adapter.Storage, error) {
	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	store, err := vectorstore.Load(ctx, storage, cfg.indexKey, gemini.EmbeddingModel())
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to load index, run 'kotae index' first",
			goerr.V("key", cfg.indexKey))
	}

	return store, storage, nil
}

// newRetrieval builds the retrieval engine over a loaded store
func (cfg *config) newRetrieval(gemini adapter.Gemini, store *vectorstore.Store) (*retrieval.Engine, error) {
	return retrieval.New(gemini, store,
		retrieval.WithTopK(int(cfg.topK)),
		retrieval.WithScoreThreshold(cfg.scoreThreshold),
		retrieval.WithContextBudget(int(cfg.contextBudget)),
	)
}

// newDetector builds the escalation detector, applying the rule file
// when one is configured
func (cfg *config) newDetector(gemini adapter.Gemini) (*chat.Detector, error) {
	var opts []chat.DetectorOption

	if cfg.rulesPath != "" {
		rules, err := chat.LoadRules(cfg.rulesPath)
		if err != nil {
			return nil, err
		}
		if len(rules.Phrases) > 0 {
			opts = append(opts, chat.WithPhrases(rules.Phrases))
		}
		if rules.RepeatThreshold > 0 {
			opts = append(opts, chat.WithRepeatThreshold(rules.RepeatThreshold))
		}
	}

	if cfg.intentAssist {
		opts = append(opts, chat.WithIntentClassifier(gemini))
	}

	return chat.NewDetector(opts...), nil
}
