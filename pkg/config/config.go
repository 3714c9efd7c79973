package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	Assistant   AssistantConfig   `mapstructure:"assistant"`
	Run         RunConfig         `mapstructure:"run"`
	Knowledge   KnowledgeConfig   `mapstructure:"knowledge"`
	Search      SearchConfig      `mapstructure:"search"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Log         LogConfig         `mapstructure:"log"`
}

type OpenAIConfig struct {
	APIKey            string  `mapstructure:"api_key" validate:"required"`
	Organization      string  `mapstructure:"organization"`
	BaseURL           string  `mapstructure:"base_url" validate:"omitempty,url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

type AssistantConfig struct {
	Engine         string `mapstructure:"engine" validate:"required"`
	InitialMessage string `mapstructure:"initial_message"`
}

type RunConfig struct {
	Strategy         string        `mapstructure:"strategy" validate:"oneof=polling streaming"`
	RecheckDelay     time.Duration `mapstructure:"recheck_delay" validate:"gte=2s"`
	StreamTimeout    time.Duration `mapstructure:"stream_timeout" validate:"gt=0"`
	SyncPollInterval time.Duration `mapstructure:"sync_poll_interval" validate:"gt=0"`
	StepPageSize     int           `mapstructure:"step_page_size" validate:"gt=0,lte=100"`
}

type KnowledgeConfig struct {
	UploadConcurrency int64 `mapstructure:"upload_concurrency" validate:"gt=0"`
}

type SearchConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gt=0"`
	Interval    time.Duration `mapstructure:"interval" validate:"gt=0"`
}

type MaintenanceConfig struct {
	MaxAssistantAge time.Duration `mapstructure:"max_assistant_age" validate:"gt=0"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname" validate:"required_if=UseInMemory false"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	QueueKey     string        `mapstructure:"queue_key" validate:"required"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type NotifyConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=redis nats memory"`
}

type QueueConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=redis memory"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}
	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("openai.requests_per_second", 0)
	v.SetDefault("openai.burst", 1)

	v.SetDefault("assistant.engine", "gpt-3.5-turbo-0125")
	v.SetDefault("assistant.initial_message", "Give me detailed answers to my questions, don't change the subject.")

	v.SetDefault("run.strategy", "polling")
	v.SetDefault("run.recheck_delay", 2*time.Second)
	v.SetDefault("run.stream_timeout", 300*time.Second)
	v.SetDefault("run.sync_poll_interval", time.Second)
	v.SetDefault("run.step_page_size", 10)

	v.SetDefault("knowledge.upload_concurrency", 5)

	v.SetDefault("search.max_attempts", 15)
	v.SetDefault("search.interval", 2*time.Second)

	v.SetDefault("maintenance.max_assistant_age", 6*time.Hour)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)

	v.SetDefault("redis.queue_key", "assistant:jobs")
	v.SetDefault("redis.poll_interval", 500*time.Millisecond)

	v.SetDefault("notify.driver", "memory")
	v.SetDefault("queue.driver", "memory")

	v.SetDefault("log.development", false)
}

// LoadConfig reads path when it is not empty, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	overrides := map[string]*string{
		"OPENAI_API_KEY":                   &config.OpenAI.APIKey,
		"OPENAI_ORGANIZATION":              &config.OpenAI.Organization,
		"OPENAI_ASSISTANT_ENGINE":          &config.Assistant.Engine,
		"OPENAI_ASSISTANT_INITIAL_MESSAGE": &config.Assistant.InitialMessage,
		"REDIS_URL":                        &config.Redis.URL,
		"NATS_URL":                         &config.NATS.URL,
	}
	for env, dst := range overrides {
		if val := v.GetString(env); val != "" {
			*dst = val
		}
	}

	return &config, nil
}

// Validate checks field constraints and the cross-section requirements of the
// selected drivers.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	if (c.Notify.Driver == "redis" || c.Queue.Driver == "redis") && c.Redis.URL == "" {
		return errors.New("invalid config: redis.url is required by the redis driver")
	}
	if c.Notify.Driver == "nats" && c.NATS.URL == "" {
		return errors.New("invalid config: nats.url is required by the nats driver")
	}
	return nil
}
