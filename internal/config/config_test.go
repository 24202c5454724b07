package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
server:
  port: 9090
storage:
  driver: redis
bidding:
  extension_window: 2m
  allow_self_raise: true
`
	assert.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadFromFile(path)
	assert.NoError(t, err)

	check.Equal(t, 9090, cfg.Server.Port)
	check.Equal(t, "redis", cfg.Storage.Driver)
	check.Equal(t, 2*time.Minute, cfg.Bidding.ExtensionWindow)
	check.True(t, cfg.Bidding.AllowSelfRaise)

	// Keys the file leaves unset fall back to the defaults
	check.Equal(t, 5, cfg.Bidding.MaxAttempts)
	check.Equal(t, int64(10000), cfg.Bidding.DefaultIncrement)
	check.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	check.Error(t, err)
}

func TestGetConfigString(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Redis:    RedisConfig{Address: "localhost:6379"},
		MySQL:    MySQLConfig{DSN: "user:pass@tcp(localhost:3306)/vehicle_auction"},
		Storage:  StorageConfig{Driver: "mysql"},
		Instance: InstanceConfig{ID: "bidding-service-1"},
	}

	s := cfg.GetConfigString()
	check.Equal(t, "Server: 0.0.0.0:8080, Redis: localhost:6379, MySQL: user:pass@tcp(localhost:3306)/vehicle_auction, Storage: mysql, Instance: bidding-service-1", s)
}
