package global

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeYAMLMergesOverDefaults(t *testing.T) {
	cfg := DefaultConfig()
	raw := []byte(`
node_id: 7
server:
  addr: ":9000"
broker:
  kind: nats
  nats_servers: "nats://a:4222,nats://b:4222"
tunables:
  presence_ttl: 30
  rate_limit_window: 5s
  cache_enabled: false
`)
	if err := DecodeYAML(raw, &cfg); err != nil {
		t.Fatal(err)
	}

	want := DefaultConfig()
	want.NodeID = 7
	want.Server.Addr = ":9000"
	want.Broker.Kind = "nats"
	want.Broker.NatsServers = []string{"nats://a:4222", "nats://b:4222"}
	want.Tunables.PresenceTTL = 30 * time.Second
	want.Tunables.RateLimitWindow = 5 * time.Second
	want.Tunables.CacheEnabled = false
	if d := cmp.Diff(want, cfg); d != "" {
		t.Fatalf("config (-want +got):\n%s", d)
	}
}

func TestDecodeYAMLReplacesLists(t *testing.T) {
	cfg := DefaultConfig()
	if err := DecodeYAML([]byte("server:\n  allowed_origins: [\"https://chat.example\"]\n"), &cfg); err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff([]string{"https://chat.example"}, cfg.Server.AllowedOrigins); d != "" {
		t.Fatalf("origins (-want +got):\n%s", d)
	}
}

func TestDecodeYAMLEmpty(t *testing.T) {
	cfg := DefaultConfig()
	if err := DecodeYAML(nil, &cfg); err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(DefaultConfig(), cfg); d != "" {
		t.Fatalf("empty document changed config:\n%s", d)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  jwt_secret: from-file\nlog_level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GATEWAY_ID", "msg_gw-3")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.JwtSecret != "from-file" || cfg.LogLevel != "info" {
		t.Fatalf("file values not applied: %+v", cfg.Auth)
	}
	if cfg.NodeID != 3 || cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("env not applied: node=%d redis=%s", cfg.NodeID, cfg.Redis.Addr)
	}

	t.Setenv("JWT_SECRET", "from-env")
	cfg, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.JwtSecret != "from-env" {
		t.Fatalf("env should win over file, got %q", cfg.Auth.JwtSecret)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*AppConfig)
		ok     bool
	}{
		{"valid", func(*AppConfig) {}, true},
		{"no secret", func(c *AppConfig) { c.Auth.JwtSecret = "" }, false},
		{"shared redis db", func(c *AppConfig) { c.Redis.BrokerDB = c.Redis.CacheDB }, false},
		{"shared db without redis broker", func(c *AppConfig) { c.Redis.BrokerDB = c.Redis.CacheDB; c.Broker.Kind = "memory" }, true},
		{"unknown broker", func(c *AppConfig) { c.Broker.Kind = "kafka" }, false},
		{"zero limit", func(c *AppConfig) { c.Tunables.RateLimitTimes = 0 }, false},
		{"zero ttl", func(c *AppConfig) { c.Tunables.PresenceTTL = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Auth.JwtSecret = "s"
			tc.mutate(&cfg)
			if err := cfg.Validate(); (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestSetTunablesRejectsInvalid(t *testing.T) {
	prev := Current()
	t.Cleanup(func() { _ = SetTunables(prev) })

	bad := prev
	bad.RateLimitWindow = 0
	if err := SetTunables(bad); err == nil {
		t.Fatal("invalid tunables accepted")
	}
	if Current() != prev {
		t.Fatal("rejected tunables were stored")
	}

	good := prev
	good.RateLimitTimes = 5
	if err := SetTunables(good); err != nil {
		t.Fatal(err)
	}
	if Current().RateLimitTimes != 5 {
		t.Fatal("tunables not swapped")
	}
}
