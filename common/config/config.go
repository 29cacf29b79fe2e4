package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service  ServiceConfig
	Petri    EndpointConfig
	Fork     EndpointConfig
	Database DatabaseConfig
	Queue    QueueConfig
}

// ServiceConfig holds service-specific settings. Host and Port are also used
// to build the callback URLs handed to the Petri engine, so they must be
// reachable from it.
type ServiceConfig struct {
	Name      string
	Host      string
	Port      int
	LogLevel  string
	LogFormat string
	User      string
}

// EndpointConfig is a host/port pair for an external collaborator
type EndpointConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// QueueConfig holds async task queue settings
type QueueConfig struct {
	Type          string // "redis" or "memory"
	RedisHost     string
	RedisPort     int
	RedisPassword string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:      serviceName,
			Host:      getEnv("PTERO_WORKFLOW_HOST", "localhost"),
			Port:      getEnvInt("PTERO_WORKFLOW_PORT", 80),
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "text"),
			User:      getEnv("USER", "nobody"),
		},
		Petri: EndpointConfig{
			Host: getEnv("PTERO_PETRI_HOST", "localhost"),
			Port: getEnvInt("PTERO_PETRI_PORT", 80),
		},
		Fork: EndpointConfig{
			Host: getEnv("PTERO_FORK_HOST", "localhost"),
			Port: getEnvInt("PTERO_FORK_PORT", 80),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "workflow"),
			User:        getEnv("POSTGRES_USER", "workflow"),
			Password:    getEnv("POSTGRES_PASSWORD", "workflow"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Queue: QueueConfig{
			Type:          getEnv("QUEUE_TYPE", "redis"),
			RedisHost:     getEnv("REDIS_HOST", "localhost"),
			RedisPort:     getEnvInt("REDIS_PORT", 6379),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Queue.Type != "redis" && c.Queue.Type != "memory" {
		return fmt.Errorf("unknown queue type: %s", c.Queue.Type)
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// SelfURL returns the base URL other services use to call back into this one
func (c *Config) SelfURL() string {
	return fmt.Sprintf("http://%s:%d", c.Service.Host, c.Service.Port)
}

// PetriURL returns the base URL of the Petri engine
func (c *Config) PetriURL() string {
	return fmt.Sprintf("http://%s:%d", c.Petri.Host, c.Petri.Port)
}

// ForkURL returns the base URL of the shell-command executor
func (c *Config) ForkURL() string {
	return fmt.Sprintf("http://%s:%d", c.Fork.Host, c.Fork.Port)
}

// RedisAddr returns the host:port of the queue backend
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Queue.RedisHost, c.Queue.RedisPort)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
