package confgen

import (
	"strings"
	"testing"

	jcfg "gavel/internal/judger/config"
	appErr "gavel/pkg/errors"

	"github.com/pelletier/go-toml/v2"
)

func TestGenerateParsesBackWithWorkerLoader(t *testing.T) {
	t.Parallel()
	out, err := Generate(Params{
		NodeID:         "node-1",
		Secret:         "s3cret",
		CoordinatorURL: "http://coordinator:8090",
		Transport:      "http",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var cfg jcfg.Config
	if err := toml.Unmarshal(out, &cfg); err != nil {
		t.Fatalf("generated config does not parse: %v\n%s", err, out)
	}
	if cfg.Coordinator.NodeID != "node-1" || cfg.Coordinator.Secret != "s3cret" {
		t.Fatalf("credentials lost: %+v", cfg.Coordinator)
	}
	if cfg.Coordinator.URL != "http://coordinator:8090" {
		t.Fatalf("url = %q", cfg.Coordinator.URL)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("generated config fails validation: %v", err)
	}
}

func TestGenerateKafkaTransport(t *testing.T) {
	t.Parallel()
	out, err := Generate(Params{
		NodeID:         "node-1",
		Secret:         "s3cret",
		CoordinatorURL: "http://coordinator:8090",
		Transport:      "kafka",
		KafkaBrokers:   []string{"broker-1:9092", "broker-2:9092"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var cfg jcfg.Config
	if err := toml.Unmarshal(out, &cfg); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Coordinator.Transport != "kafka" {
		t.Fatalf("transport = %q", cfg.Coordinator.Transport)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestGenerateRequiresCredentials(t *testing.T) {
	t.Parallel()
	if _, err := Generate(Params{Secret: "s"}); appErr.GetCode(err) != appErr.ConfigError {
		t.Fatalf("expected ConfigError without node id, got %v", err)
	}
	if _, err := Generate(Params{NodeID: "n"}); appErr.GetCode(err) != appErr.ConfigError {
		t.Fatalf("expected ConfigError without secret, got %v", err)
	}
}

func TestGenerateEmbedsSecretNowhereElse(t *testing.T) {
	t.Parallel()
	out, err := Generate(Params{
		NodeID:         "node-1",
		Secret:         "unique-secret-value",
		CoordinatorURL: "http://coordinator:8090",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if n := strings.Count(string(out), "unique-secret-value"); n != 1 {
		t.Fatalf("secret appears %d times in the rendered config, want 1", n)
	}
}
