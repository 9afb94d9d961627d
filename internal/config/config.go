package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/sourcebridge/internal/models"
)

// Role selects which settings a command needs. Settings outside a role are
// still loaded but never required.
type Role int

const (
	// RoleWorker is an entity worker consuming request records.
	RoleWorker Role = iota
	// RoleProxy is the fan-out proxy starting workflow executions.
	RoleProxy
	// RoleProbe is the operator CLI talking to the sources directly.
	RoleProbe
)

// Config captures all runtime configuration for the service.
type Config struct {
	App      AppConfig
	Service  ServiceConfig
	Kafka    KafkaConfig
	Worker   WorkerConfig
	Keystore KeystoreConfig
	REST     RESTConfig
	OData    ODataConfig
	GraphQL  GraphQLConfig
	Sources  SourceConfig
	Workflow WorkflowConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// ServiceConfig selects the entity a worker serves and its call site policies.
type ServiceConfig struct {
	Entity            string
	NullPayloadPolicy string
	MirrorToKeystore  bool
}

// KafkaConfig defines broker information, topics and the consumer group.
type KafkaConfig struct {
	Brokers       []string
	RequestTopic  string
	ResultTopic   string
	DLQTopic      string
	FanoutTopic   string
	ConsumerGroup string
}

// WorkerConfig controls worker concurrency and acknowledgement behaviour.
type WorkerConfig struct {
	Concurrency         int
	CommitOnSuccessOnly bool
	MsgMaxBytes         int
}

// KeystoreConfig locates the embedded key-value store.
type KeystoreConfig struct {
	Path string
}

// RESTConfig holds the REST source and its client credentials.
type RESTConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Enabled reports whether the REST source is configured.
func (c RESTConfig) Enabled() bool { return c.BaseURL != "" }

// ODataConfig holds the OData source and its login credentials.
type ODataConfig struct {
	BaseURL  string
	LoginURL string
	Username string
	Password string
}

// Enabled reports whether the OData source is configured.
func (c ODataConfig) Enabled() bool { return c.BaseURL != "" }

// GraphQLConfig holds the GraphQL endpoint and API key.
type GraphQLConfig struct {
	Endpoint string
	APIKey   string
}

// Enabled reports whether the GraphQL source is configured.
func (c GraphQLConfig) Enabled() bool { return c.Endpoint != "" }

// SourceConfig tunes every external source client.
type SourceConfig struct {
	TokenRefreshSkewSeconds int
	RateLimitRPS            float64
	RateLimitBurst          int
}

// TokenRefreshSkew is how long before expiry a cached token is refreshed.
func (c SourceConfig) TokenRefreshSkew() time.Duration {
	return time.Duration(c.TokenRefreshSkewSeconds) * time.Second
}

// WorkflowConfig locates the workflow engine used by the fan-out proxy.
type WorkflowConfig struct {
	Endpoint     string
	NameTemplate string
	APIToken     string
}

// Load reads environment variables, applies defaults, validates required
// values for role and returns a populated Config instance. All problems are
// reported at once.
func Load(role Role) (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}
	worker := role == RoleWorker
	proxy := role == RoleProxy
	consumer := worker || proxy

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Service.Entity = strings.ToLower(ldr.getString("SERVICE_ENTITY", "", worker))
	if cfg.Service.Entity != "" {
		ldr.oneOf("SERVICE_ENTITY", cfg.Service.Entity, models.Entities)
	}
	cfg.Service.NullPayloadPolicy = strings.ToLower(ldr.getString("NULL_PAYLOAD_POLICY", "noop", false))
	ldr.oneOf("NULL_PAYLOAD_POLICY", cfg.Service.NullPayloadPolicy, []string{"noop", "violation"})
	cfg.Service.MirrorToKeystore = ldr.getBool("MIRROR_TO_KEYSTORE", true, false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", consumer)
	cfg.Kafka.RequestTopic = ldr.getString("KAFKA_REQUEST_TOPIC", "", worker)
	cfg.Kafka.FanoutTopic = ldr.getString("KAFKA_FANOUT_TOPIC", "", proxy)
	cfg.Kafka.ResultTopic = ldr.getString("KAFKA_RESULT_TOPIC", "", consumer)
	cfg.Kafka.DLQTopic = ldr.getString("KAFKA_DLQ_TOPIC", "", consumer)
	cfg.Kafka.ConsumerGroup = ldr.getString("CONSUMER_GROUP", "", consumer)

	cfg.Worker.Concurrency = ldr.getInt("WORKER_CONCURRENCY", 10, false)
	cfg.Worker.CommitOnSuccessOnly = ldr.getBool("COMMIT_ON_SUCCESS_ONLY", true, false)
	cfg.Worker.MsgMaxBytes = ldr.getInt("MSG_MAX_BYTES", 200000, false)
	ldr.atLeast("WORKER_CONCURRENCY", cfg.Worker.Concurrency, 1)
	ldr.atLeast("MSG_MAX_BYTES", cfg.Worker.MsgMaxBytes, 0)

	cfg.Keystore.Path = ldr.getString("KEYSTORE_PATH", "sourcebridge.db", false)

	cfg.REST.BaseURL = ldr.getURL("REST_BASE_URL", false)
	restOn := cfg.REST.Enabled()
	cfg.REST.TokenURL = ldr.getURL("REST_TOKEN_URL", restOn)
	cfg.REST.ClientID = ldr.getString("REST_CLIENT_ID", "", restOn)
	cfg.REST.ClientSecret = ldr.getString("REST_CLIENT_SECRET", "", restOn)
	cfg.REST.Scopes = ldr.getStringSlice("REST_SCOPES", false)

	cfg.OData.BaseURL = ldr.getURL("ODATA_BASE_URL", false)
	odataOn := cfg.OData.Enabled()
	cfg.OData.LoginURL = ldr.getURL("ODATA_LOGIN_URL", odataOn)
	cfg.OData.Username = ldr.getString("ODATA_USERNAME", "", odataOn)
	cfg.OData.Password = ldr.getString("ODATA_PASSWORD", "", odataOn)

	cfg.GraphQL.Endpoint = ldr.getURL("GRAPHQL_ENDPOINT", false)
	cfg.GraphQL.APIKey = ldr.getString("GRAPHQL_API_KEY", "", cfg.GraphQL.Enabled())

	cfg.Sources.TokenRefreshSkewSeconds = ldr.getInt("TOKEN_REFRESH_SKEW_SECONDS", 60, false)
	cfg.Sources.RateLimitRPS = ldr.getFloat("SOURCE_RATE_LIMIT_RPS", 0, false)
	cfg.Sources.RateLimitBurst = ldr.getInt("SOURCE_RATE_LIMIT_BURST", 5, false)
	ldr.atLeast("TOKEN_REFRESH_SKEW_SECONDS", cfg.Sources.TokenRefreshSkewSeconds, 0)

	cfg.Workflow.Endpoint = ldr.getURL("WORKFLOW_ENDPOINT", proxy)
	cfg.Workflow.NameTemplate = ldr.getString("WORKFLOW_NAME_TEMPLATE", "{prefix}-{stackId}", false)
	cfg.Workflow.APIToken = ldr.getString("WORKFLOW_API_TOKEN", "", false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

// lookup returns the trimmed value of key, recording an error when a required
// key is missing or blank.
func (l *envLoader) lookup(key string, required bool) (string, bool) {
	val, ok := os.LookupEnv(key)
	val = strings.TrimSpace(val)
	if !ok || val == "" {
		if required {
			l.addError(fmt.Sprintf("%s is required", key))
		}
		return "", false
	}
	return val, true
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := l.lookup(key, required); ok {
		return val
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getFloat(key string, def float64, required bool) float64 {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < 0 {
		l.addError(fmt.Sprintf("%s must be a non-negative number", key))
		return def
	}
	return f
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid boolean", key))
		return def
	}
	return parsed
}

func (l *envLoader) getURL(key string, required bool) string {
	val, ok := l.lookup(key, required)
	if !ok {
		return ""
	}
	u, err := url.ParseRequestURI(val)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		l.addError(fmt.Sprintf("%s must be an absolute http(s) URL", key))
		return ""
	}
	return strings.TrimRight(val, "/")
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) oneOf(key, val string, allowed []string) {
	if !slices.Contains(allowed, val) {
		l.addError(fmt.Sprintf("%s must be one of %s", key, strings.Join(allowed, ", ")))
	}
}

func (l *envLoader) atLeast(key string, val, min int) {
	if val < min {
		l.addError(fmt.Sprintf("%s must be >= %d", key, min))
	}
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
