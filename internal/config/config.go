// Package config loads the application configuration from a yaml file and
// the environment, with defaults that run the whole pipeline against an
// OpenAI-compatible endpoint out of the box.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type ServiceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type ChunkingConfig struct {
	MaxParentSize       int     `mapstructure:"max_parent_size"`
	MinParentSize       int     `mapstructure:"min_parent_size"`
	ChildSize           int     `mapstructure:"child_size"`
	ChildOverlap        int     `mapstructure:"child_overlap"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	LooseSimilarity     float64 `mapstructure:"loose_similarity"`
	Parallel            bool    `mapstructure:"parallel"`
	CacheSize           int     `mapstructure:"cache_size"`
}

type RetrievalConfig struct {
	HybridSearch bool `mapstructure:"hybrid_search"`
	HyDE         bool `mapstructure:"hyde"`
	StepBack     bool `mapstructure:"stepback"`
	Rerank       bool `mapstructure:"rerank"`
	TopK         int  `mapstructure:"top_k"`
	Candidates   int  `mapstructure:"candidates"`
	RRFK         int  `mapstructure:"rrf_k"`
}

type EvaluationConfig struct {
	Dir               string  `mapstructure:"dir"`
	SampleProbability float64 `mapstructure:"sample_probability"`
	Workers           int     `mapstructure:"workers"`
}

type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`
	Document struct {
		Path   string `mapstructure:"path"`
		Title  string `mapstructure:"title"`
		Source string `mapstructure:"source"` // local | minio
		Object string `mapstructure:"object"`
	} `mapstructure:"document"`
	Index struct {
		Dir     string `mapstructure:"dir"`
		Backend string `mapstructure:"backend"` // memory | postgres
	} `mapstructure:"index"`
	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"dbname"`
	} `mapstructure:"database"`
	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		TTLHours int    `mapstructure:"ttl_hours"`
	} `mapstructure:"redis"`
	Storage struct {
		Enabled         bool   `mapstructure:"enabled"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		BucketName      string `mapstructure:"bucket_name"`
		UseSSL          bool   `mapstructure:"use_ssl"`
	} `mapstructure:"storage"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Memory    struct {
		Capacity int `mapstructure:"capacity"`
	} `mapstructure:"memory"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Services   struct {
		Embedding struct {
			ServiceConfig `mapstructure:",squash"`
			Dimensions    int `mapstructure:"dimensions"`
		} `mapstructure:"embedding"`
		LLM struct {
			ServiceConfig `mapstructure:",squash"`
		} `mapstructure:"llm"`
	} `mapstructure:"services"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

func LoadConfig(path string) (config Config, err error) {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")

	viper.SetDefault("document.path", "./data/book.pdf")
	viper.SetDefault("document.title", "Effective Java")
	viper.SetDefault("document.source", "local")

	viper.SetDefault("index.dir", "./data")
	viper.SetDefault("index.backend", "memory")

	viper.SetDefault("chunking.max_parent_size", 1200)
	viper.SetDefault("chunking.min_parent_size", 400)
	viper.SetDefault("chunking.child_size", 150)
	viper.SetDefault("chunking.child_overlap", 30)
	viper.SetDefault("chunking.similarity_threshold", 0.7)
	viper.SetDefault("chunking.loose_similarity", 0.56)
	viper.SetDefault("chunking.parallel", true)
	viper.SetDefault("chunking.cache_size", 1000)

	viper.SetDefault("retrieval.hybrid_search", true)
	viper.SetDefault("retrieval.hyde", true)
	viper.SetDefault("retrieval.stepback", true)
	viper.SetDefault("retrieval.rerank", true)
	viper.SetDefault("retrieval.top_k", 5)
	viper.SetDefault("retrieval.candidates", 20)
	viper.SetDefault("retrieval.rrf_k", 60)

	viper.SetDefault("memory.capacity", 10)

	viper.SetDefault("evaluation.dir", ".")
	viper.SetDefault("evaluation.sample_probability", 0.3)
	viper.SetDefault("evaluation.workers", 5)

	viper.SetDefault("services.embedding.base_url", "https://api.siliconflow.cn/v1")
	viper.SetDefault("services.embedding.model", "BAAI/bge-m3")
	viper.SetDefault("services.embedding.timeout_seconds", 30)
	viper.SetDefault("services.llm.base_url", "https://api.siliconflow.cn/v1")
	viper.SetDefault("services.llm.model", "deepseek-ai/DeepSeek-V3")
	viper.SetDefault("services.llm.timeout_seconds", 120)

	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.ttl_hours", 24)
	viper.SetDefault("database.port", 5432)

	viper.SetDefault("logging.level", "info")

	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	if err = viper.ReadInConfig(); err != nil {
		// A missing file means defaults plus environment; anything else is
		// a real failure.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err = config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	ch := c.Chunking
	if ch.MaxParentSize <= 0 || ch.MinParentSize <= 0 || ch.MaxParentSize <= ch.MinParentSize {
		return fmt.Errorf("chunking: parent sizes must satisfy 0 < min < max, got min=%d max=%d",
			ch.MinParentSize, ch.MaxParentSize)
	}
	if ch.ChildSize <= 0 || ch.ChildOverlap < 0 || ch.ChildOverlap >= ch.ChildSize {
		return fmt.Errorf("chunking: child window must satisfy 0 <= overlap < size, got size=%d overlap=%d",
			ch.ChildSize, ch.ChildOverlap)
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.Candidates <= 0 || c.Retrieval.RRFK <= 0 {
		return fmt.Errorf("retrieval: top_k, candidates and rrf_k must be positive")
	}
	if c.Memory.Capacity <= 0 {
		return fmt.Errorf("memory: capacity must be positive, got %d", c.Memory.Capacity)
	}
	if p := c.Evaluation.SampleProbability; p < 0 || p > 1 {
		return fmt.Errorf("evaluation: sample_probability must be in [0,1], got %v", p)
	}
	if c.Evaluation.Workers <= 0 {
		return fmt.Errorf("evaluation: workers must be positive, got %d", c.Evaluation.Workers)
	}
	switch c.Index.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("index: unknown backend %q", c.Index.Backend)
	}
	switch c.Document.Source {
	case "local", "minio":
	default:
		return fmt.Errorf("document: unknown source %q", c.Document.Source)
	}
	if c.Document.Source == "minio" && !c.Storage.Enabled {
		return fmt.Errorf("document: source minio requires storage.enabled")
	}
	return nil
}

// DSN renders the postgres connection string for the configured database.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.Database.User, c.Database.Password,
		c.Database.Host, c.Database.Port, c.Database.DBName)
}
