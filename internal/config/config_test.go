package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app:
  env: development
  port: 9090
store:
  driver: mongo
  timeout_seconds: 3
mongo:
  uri: mongodb://localhost:27017
  database: chats
jwt:
  alg: HS256
  hs_secret: secret
chat:
  typing_ttl_ms: 1500
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.True(t, cfg.App.Development())
	assert.Equal(t, "chats", cfg.Mongo.Database)
	assert.Equal(t, 3*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.TypingTTL)
	assert.Equal(t, 50, cfg.Chat.PageSize)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://override:27017")
	t.Setenv("APP_PORT", "7070")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "mongodb://override:27017", cfg.Mongo.URI)
	assert.Equal(t, 7070, cfg.App.Port)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{
			App:      App{Port: 8080},
			Store:    Store{Driver: "memory", TimeoutSeconds: 5},
			Auth:     Auth{Provider: "firebase"},
			Identity: Identity{Provider: "store"},
			Chat:     Chat{PageSize: 50, MaxPageSize: 200, TypingTTLMs: 2000},
			Retry:    Retry{MaxAttempts: 3},
		}
		c.derive()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad driver", mutate: func(c *Config) { c.Store.Driver = "sqlite" }, wantErr: "invalid store.driver"},
		{name: "mongo without uri", mutate: func(c *Config) { c.Store.Driver = "mongo" }, wantErr: "mongo.uri missing"},
		{name: "firestore without project", mutate: func(c *Config) { c.Store.Driver = "firestore" }, wantErr: "firestore.project_id missing"},
		{name: "rs256 without key", mutate: func(c *Config) { c.Auth.Provider = "jwt"; c.JWT.Alg = "RS256" }, wantErr: "public_key_path"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Kafka.Enabled = true }, wantErr: "kafka.brokers missing"},
		{name: "page size above max", mutate: func(c *Config) { c.Chat.PageSize = 500 }, wantErr: "chat.page_size"},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantErr: "retry.max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
