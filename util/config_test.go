package util

import (
	"os"
	"testing"
)

func TestConfigConstants(t *testing.T) {
	if Name != "threadfed" {
		t.Errorf("Expected Name 'threadfed', got '%s'", Name)
	}

	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestEmbeddedDefaultsParse(t *testing.T) {
	c := &AppConfig{}
	if err := ParseConf(embeddedConfig, c); err != nil {
		t.Fatalf("ParseConf failed on embedded defaults: %v", err)
	}

	if c.Conf.QueueSize != 1000 {
		t.Errorf("Expected QueueSize 1000, got %d", c.Conf.QueueSize)
	}

	if c.Conf.QueueFullPolicy != QueuePolicyBlock {
		t.Errorf("Expected QueueFullPolicy 'block', got '%s'", c.Conf.QueueFullPolicy)
	}

	if c.Conf.LegacySoftware != "lemmy" || c.Conf.LegacyBelowVersion != "0.20.0" {
		t.Errorf("Unexpected legacy dialect defaults: %s %s", c.Conf.LegacySoftware, c.Conf.LegacyBelowVersion)
	}
}

func TestParseConfDefaults(t *testing.T) {
	c := &AppConfig{}
	if err := ParseConf([]byte("conf:\n  sslDomain: example.com\n"), c); err != nil {
		t.Fatalf("ParseConf failed: %v", err)
	}

	if c.Conf.Protocol != "https" {
		t.Errorf("Expected Protocol 'https', got '%s'", c.Conf.Protocol)
	}

	if c.Conf.DatabasePath != "database.db" {
		t.Errorf("Expected DatabasePath 'database.db', got '%s'", c.Conf.DatabasePath)
	}
}

func TestParseConfRejectsUnknownPolicy(t *testing.T) {
	c := &AppConfig{}
	err := ParseConf([]byte("conf:\n  queueFullPolicy: sometimes\n"), c)
	if err == nil {
		t.Fatal("Expected error for unknown queueFullPolicy")
	}
}

func TestBaseURL(t *testing.T) {
	c := &AppConfig{}
	c.Conf.SslDomain = "example.com"

	if got := c.BaseURL(); got != "https://example.com" {
		t.Errorf("Expected 'https://example.com', got '%s'", got)
	}

	c.Conf.Protocol = "http"
	c.Conf.SslDomain = "localhost:9999"
	if got := c.BaseURL(); got != "http://localhost:9999" {
		t.Errorf("Expected 'http://localhost:9999', got '%s'", got)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withAp: true
  queueSize: 50
  queueFullPolicy: drop-oldest
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "127.0.0.1" {
		t.Errorf("Expected Host '127.0.0.1', got '%s'", config.Conf.Host)
	}

	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}

	if config.Conf.QueueSize != 50 {
		t.Errorf("Expected QueueSize 50, got %d", config.Conf.QueueSize)
	}

	if config.Conf.QueueFullPolicy != QueuePolicyDropOldest {
		t.Errorf("Expected QueueFullPolicy 'drop-oldest', got '%s'", config.Conf.QueueFullPolicy)
	}

	if !config.Conf.WithAp {
		t.Error("Expected WithAp to be true")
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withAp: false
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	t.Setenv("THREADFED_HOST", "192.168.1.1")
	t.Setenv("THREADFED_HTTPPORT", "8080")
	t.Setenv("THREADFED_SSLDOMAIN", "test.example.com")
	t.Setenv("THREADFED_WITH_AP", "true")
	t.Setenv("THREADFED_QUEUE_SIZE", "10")
	t.Setenv("THREADFED_QUEUE_POLICY", "drop-oldest")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "192.168.1.1" {
		t.Errorf("Expected Host '192.168.1.1' from env, got '%s'", config.Conf.Host)
	}

	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected HttpPort 8080 from env, got %d", config.Conf.HttpPort)
	}

	if config.Conf.SslDomain != "test.example.com" {
		t.Errorf("Expected SslDomain 'test.example.com' from env, got '%s'", config.Conf.SslDomain)
	}

	if !config.Conf.WithAp {
		t.Error("Expected WithAp true from env")
	}

	if config.Conf.QueueSize != 10 || config.Conf.QueueFullPolicy != QueuePolicyDropOldest {
		t.Errorf("Expected queue 10/drop-oldest from env, got %d/%s", config.Conf.QueueSize, config.Conf.QueueFullPolicy)
	}
}

func TestReadConfIgnoresBadPort(t *testing.T) {
	err := os.WriteFile("config.yaml", []byte("conf:\n  httpPort: 9999\n"), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	t.Setenv("THREADFED_HTTPPORT", "not-a-port")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort to stay 9999, got %d", config.Conf.HttpPort)
	}
}
