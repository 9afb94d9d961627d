package config_test

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/example/sourcebridge/internal/config"
)

func setWorkerEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SERVICE_ENTITY", "course")
	t.Setenv("KAFKA_BROKERS", "broker-a:9092")
	t.Setenv("KAFKA_REQUEST_TOPIC", "course.request")
	t.Setenv("KAFKA_RESULT_TOPIC", "course.result")
	t.Setenv("KAFKA_DLQ_TOPIC", "course.dlq")
	t.Setenv("CONSUMER_GROUP", "course-worker")
}

func TestLoadWorkerSuccess(t *testing.T) {
	setWorkerEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("KAFKA_BROKERS", "broker-a:9092, broker-b:9093")
	t.Setenv("SERVICE_ENTITY", "Course")
	t.Setenv("REST_BASE_URL", "https://lms.example.com/api/")
	t.Setenv("REST_TOKEN_URL", "https://lms.example.com/oauth/token")
	t.Setenv("REST_CLIENT_ID", "client")
	t.Setenv("REST_CLIENT_SECRET", "secret")
	t.Setenv("REST_SCOPES", "courses.read, people.read")
	t.Setenv("TOKEN_REFRESH_SKEW_SECONDS", "90")
	t.Setenv("SOURCE_RATE_LIMIT_RPS", "2.5")

	cfg, err := config.Load(config.RoleWorker)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantBrokers := []string{"broker-a:9092", "broker-b:9093"}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, wantBrokers) {
		t.Fatalf("expected brokers %v, got %v", wantBrokers, cfg.Kafka.Brokers)
	}
	if cfg.App.Env != "production" || cfg.App.Port != 9000 || cfg.App.LogLevel != "warn" {
		t.Fatalf("unexpected app config %+v", cfg.App)
	}
	if cfg.Service.Entity != "course" {
		t.Fatalf("expected entity course, got %s", cfg.Service.Entity)
	}
	if cfg.REST.BaseURL != "https://lms.example.com/api" || !cfg.REST.Enabled() {
		t.Fatalf("unexpected rest config %+v", cfg.REST)
	}
	if !reflect.DeepEqual(cfg.REST.Scopes, []string{"courses.read", "people.read"}) {
		t.Fatalf("unexpected scopes %v", cfg.REST.Scopes)
	}
	if cfg.OData.Enabled() || cfg.GraphQL.Enabled() {
		t.Fatalf("expected unconfigured sources to stay disabled")
	}
	if cfg.Sources.TokenRefreshSkew() != 90*time.Second || cfg.Sources.RateLimitRPS != 2.5 {
		t.Fatalf("unexpected source config %+v", cfg.Sources)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	setWorkerEnv(t)

	cfg, err := config.Load(config.RoleWorker)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.App.Env != "development" || cfg.App.Port != 8080 || cfg.App.LogLevel != "info" {
		t.Fatalf("unexpected app defaults %+v", cfg.App)
	}
	if cfg.Worker.Concurrency != 10 || !cfg.Worker.CommitOnSuccessOnly || cfg.Worker.MsgMaxBytes != 200000 {
		t.Fatalf("unexpected worker defaults %+v", cfg.Worker)
	}
	if cfg.Service.NullPayloadPolicy != "noop" || !cfg.Service.MirrorToKeystore {
		t.Fatalf("unexpected service defaults %+v", cfg.Service)
	}
	if cfg.Sources.TokenRefreshSkew() != time.Minute {
		t.Fatalf("unexpected source defaults %+v", cfg.Sources)
	}
	if cfg.Workflow.NameTemplate != "{prefix}-{stackId}" {
		t.Fatalf("unexpected workflow template %s", cfg.Workflow.NameTemplate)
	}
}

func TestLoadAccumulatesErrors(t *testing.T) {
	t.Setenv("SERVICE_ENTITY", "invoice")
	t.Setenv("WORKER_CONCURRENCY", "many")
	t.Setenv("NULL_PAYLOAD_POLICY", "drop")
	t.Setenv("ODATA_BASE_URL", "not a url")
	t.Setenv("GRAPHQL_ENDPOINT", "https://graph.example.com/graphql")

	_, err := config.Load(config.RoleWorker)
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{
		"SERVICE_ENTITY must be one of",
		"KAFKA_BROKERS is required",
		"KAFKA_REQUEST_TOPIC is required",
		"CONSUMER_GROUP is required",
		"WORKER_CONCURRENCY must be a valid integer",
		"NULL_PAYLOAD_POLICY must be one of",
		"ODATA_BASE_URL must be an absolute http(s) URL",
		"GRAPHQL_API_KEY is required",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadRESTRequiresCredentialsWhenEnabled(t *testing.T) {
	setWorkerEnv(t)
	t.Setenv("REST_BASE_URL", "https://lms.example.com")

	_, err := config.Load(config.RoleWorker)
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"REST_TOKEN_URL is required", "REST_CLIENT_ID is required", "REST_CLIENT_SECRET is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadRoles(t *testing.T) {
	if _, err := config.Load(config.RoleProbe); err != nil {
		t.Fatalf("probe needs no kafka settings, got %v", err)
	}

	_, err := config.Load(config.RoleProxy)
	if err == nil || !strings.Contains(err.Error(), "KAFKA_FANOUT_TOPIC is required") || !strings.Contains(err.Error(), "WORKFLOW_ENDPOINT is required") {
		t.Fatalf("expected proxy requirements, got %v", err)
	}
	if strings.Contains(err.Error(), "SERVICE_ENTITY") {
		t.Fatalf("proxy must not require an entity: %v", err)
	}
}
