package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const Name = "threadfed"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

// Queue full policies for the outgoing activity queue
const (
	QueuePolicyBlock      = "block"
	QueuePolicyDropOldest = "drop-oldest"
)

type AppConfig struct {
	Conf struct {
		Host               string
		HttpPort           int    `yaml:"httpPort"`
		SslDomain          string `yaml:"sslDomain"`
		Protocol           string `yaml:"protocol"`
		DatabasePath       string `yaml:"databasePath"`
		WithAp             bool   `yaml:"withAp"`
		VerifySignatures   bool   `yaml:"verifySignatures"`
		QueueSize          int    `yaml:"queueSize"`
		QueueFullPolicy    string `yaml:"queueFullPolicy"`
		LegacySoftware     string `yaml:"legacySoftware"`
		LegacyBelowVersion string `yaml:"legacyBelowVersion"`
		Debug              bool   `yaml:"debug"`
	}
}

// BaseURL is the protocol and host every local id is built from
func (c *AppConfig) BaseURL() string {
	protocol := c.Conf.Protocol
	if protocol == "" {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s", protocol, c.Conf.SslDomain)
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	if err := ParseConf(buf, c); err != nil {
		return nil, err
	}
	applyEnv(c)
	return c, nil
}

// ParseConf decodes yaml into c and fills in defaults for unset keys
func ParseConf(buf []byte, c *AppConfig) error {
	if err := yaml.Unmarshal(buf, c); err != nil {
		return fmt.Errorf("in config file: %w", err)
	}
	if c.Conf.Protocol == "" {
		c.Conf.Protocol = "https"
	}
	if c.Conf.QueueSize <= 0 {
		c.Conf.QueueSize = 1000
	}
	if c.Conf.QueueFullPolicy == "" {
		c.Conf.QueueFullPolicy = QueuePolicyBlock
	}
	if c.Conf.QueueFullPolicy != QueuePolicyBlock && c.Conf.QueueFullPolicy != QueuePolicyDropOldest {
		return fmt.Errorf("in config file: unknown queueFullPolicy %q", c.Conf.QueueFullPolicy)
	}
	if c.Conf.LegacySoftware == "" {
		c.Conf.LegacySoftware = "lemmy"
	}
	if c.Conf.LegacyBelowVersion == "" {
		c.Conf.LegacyBelowVersion = "0.20.0"
	}
	if c.Conf.DatabasePath == "" {
		c.Conf.DatabasePath = "database.db"
	}
	return nil
}

func applyEnv(c *AppConfig) {
	if v := os.Getenv("THREADFED_HOST"); v != "" {
		c.Conf.Host = v
	}

	if v := os.Getenv("THREADFED_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Ignoring THREADFED_HTTPPORT: %v", err)
		} else {
			c.Conf.HttpPort = port
		}
	}

	if v := os.Getenv("THREADFED_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}

	if v := os.Getenv("THREADFED_PROTOCOL"); v != "" {
		c.Conf.Protocol = v
	}

	if v := os.Getenv("THREADFED_DATABASE"); v != "" {
		c.Conf.DatabasePath = v
	}

	if os.Getenv("THREADFED_WITH_AP") == "true" {
		c.Conf.WithAp = true
	}

	if v := os.Getenv("THREADFED_VERIFY_SIGNATURES"); v != "" {
		c.Conf.VerifySignatures = v == "true"
	}

	if v := os.Getenv("THREADFED_QUEUE_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			log.Printf("Ignoring THREADFED_QUEUE_SIZE=%q", v)
		} else {
			c.Conf.QueueSize = size
		}
	}

	if v := os.Getenv("THREADFED_QUEUE_POLICY"); v == QueuePolicyBlock || v == QueuePolicyDropOldest {
		c.Conf.QueueFullPolicy = v
	}

	if os.Getenv("THREADFED_DEBUG") == "true" {
		c.Conf.Debug = true
	}
}
