package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"studybuddy-rag/internal/models"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	// DriverPQ talks to postgres through lib/pq instead of bun's pgdriver
	DriverPQ = "pq"
)

type Config struct {
	Server       ServerConfig      `yaml:"server"`
	Log          LogConfig         `yaml:"log"`
	EmbedLLM     LLMConfig         `yaml:"embed_llm"`
	InferenceLLM LLMConfig         `yaml:"inference_llm"`
	RAG          RAGConfig         `yaml:"rag"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	Database     DatabaseConfig    `yaml:"database"`
	Cache        CacheConfig       `yaml:"cache"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

type RAGConfig struct {
	ChunkSize         int      `yaml:"chunk_size"`
	TopK              int      `yaml:"top_k"`
	QuizChunkLimit    int      `yaml:"quiz_chunk_limit"`
	MaxQuizQuestions  int      `yaml:"max_quiz_questions"`
	AnswerMaxTokens   int      `yaml:"answer_max_tokens"`
	AnswerTemperature float64  `yaml:"answer_temperature"`
	QuizMaxTokens     int      `yaml:"quiz_max_tokens"`
	QuizTemperature   float64  `yaml:"quiz_temperature"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type VectorStoreConfig struct {
	Backend string        `yaml:"backend"`
	Chromem ChromemConfig `yaml:"chromem"`
	Qdrant  QdrantConfig  `yaml:"qdrant"`
}

type ChromemConfig struct {
	Path          string `yaml:"path"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	VectorSize int    `yaml:"vector_size"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Debug  bool   `yaml:"debug"`
}

type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// LoadConfig reads the YAML file at path, expands ${VAR} references from the
// environment, applies defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration usable without a file: in-memory chromem,
// in-memory sqlite and the OpenAI API.
func Default() *Config {
	cfg := &Config{}
	cfg.VectorStore.Chromem.InMemory = true
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 20 << 20
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	c.EmbedLLM.applyDefaults("text-embedding-3-small")
	c.InferenceLLM.applyDefaults("gpt-3.5-turbo")

	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = models.DefaultChunkSize
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = models.DefaultTopK
	}
	if c.RAG.QuizChunkLimit == 0 {
		c.RAG.QuizChunkLimit = 5
	}
	if c.RAG.MaxQuizQuestions == 0 {
		c.RAG.MaxQuizQuestions = 10
	}
	if c.RAG.AnswerMaxTokens == 0 {
		c.RAG.AnswerMaxTokens = 300
	}
	if c.RAG.AnswerTemperature == 0 {
		c.RAG.AnswerTemperature = 0.7
	}
	if c.RAG.QuizMaxTokens == 0 {
		c.RAG.QuizMaxTokens = 800
	}
	if c.RAG.QuizTemperature == 0 {
		c.RAG.QuizTemperature = 0.8
	}
	if len(c.RAG.AllowedExtensions) == 0 {
		c.RAG.AllowedExtensions = []string{".pdf"}
	}
	for i, ext := range c.RAG.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.RAG.AllowedExtensions[i] = ext
	}

	if c.VectorStore.Backend == "" {
		c.VectorStore.Backend = BackendChromem
	}
	if c.VectorStore.Chromem.Path == "" {
		c.VectorStore.Chromem.Path = "./chromemdb"
	}
	if c.VectorStore.Qdrant.Host == "" {
		c.VectorStore.Qdrant.Host = "localhost"
	}
	if c.VectorStore.Qdrant.Port == 0 {
		c.VectorStore.Qdrant.Port = 6334
	}
	if c.VectorStore.Qdrant.VectorSize == 0 {
		c.VectorStore.Qdrant.VectorSize = 1536
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.DSN == "" && c.Database.Driver == DriverSQLite {
		c.Database.DSN = "file::memory:?cache=shared"
	}

	if c.Cache.Addr == "" {
		c.Cache.Addr = "localhost:6379"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 24 * time.Hour
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "emb:"
	}
}

func (l *LLMConfig) applyDefaults(model string) {
	if l.Provider == "" {
		l.Provider = ProviderOpenAI
	}
	if l.Model == "" {
		l.Model = model
	}
	// fall back to the usual openai environment variable
	if l.Key == "" && l.Provider == ProviderOpenAI {
		l.Key = os.Getenv("OPENAI_API_KEY")
	}
}

func (c *Config) Validate() error {
	if c.RAG.ChunkSize < 0 {
		return fmt.Errorf("invalid config: rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.TopK < 0 || c.RAG.QuizChunkLimit < 0 {
		return fmt.Errorf("invalid config: rag.top_k and rag.quiz_chunk_limit must be positive")
	}
	for _, l := range []LLMConfig{c.EmbedLLM, c.InferenceLLM} {
		if l.Provider != ProviderOpenAI && l.Provider != ProviderOllama {
			return fmt.Errorf("invalid config: unknown llm provider %q", l.Provider)
		}
	}
	switch c.VectorStore.Backend {
	case BackendChromem, BackendQdrant:
	default:
		return fmt.Errorf("invalid config: unknown vector store backend %q", c.VectorStore.Backend)
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverPQ:
	default:
		return fmt.Errorf("invalid config: unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != DriverSQLite && c.Database.DSN == "" {
		return fmt.Errorf("invalid config: database.dsn is required for %s", c.Database.Driver)
	}
	return nil
}
