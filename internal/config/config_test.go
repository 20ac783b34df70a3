package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	d, err := cfg.GetFreshness()
	if err != nil || d != 15*time.Minute {
		t.Errorf("GetFreshness = %v, %v", d, err)
	}
	if !strings.HasSuffix(cfg.Store.DBPath, "metrics.db") {
		t.Errorf("DBPath = %q", cfg.Store.DBPath)
	}
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	t.Setenv("RACQUET_API_KEY", "")
	t.Setenv("RACQUET_USER_ID", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.Remote != RemoteNone || cfg.Sync.PageSize != 100 {
		t.Errorf("sync = %+v", cfg.Sync)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[profile]
user_id = "file-user"
timezone = "Europe/Madrid"

[sync]
remote = "http"
endpoint = "https://api.example.test/v1"
freshness = "2m"
page_size = 25

[dynamodb]
table = "matches"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("RACQUET_API_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RACQUET_API_KEY", "")
	os.Unsetenv("RACQUET_API_KEY")
	t.Setenv("RACQUET_USER_ID", "env-user")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.APIKey != "from-dotenv" {
		t.Errorf("APIKey = %q, want value from .env", cfg.Sync.APIKey)
	}
	if cfg.Profile.UserID != "env-user" || !cfg.Profile.Authenticated {
		t.Errorf("profile = %+v", cfg.Profile)
	}
	if cfg.DynamoDB.Region != "eu-west-1" || cfg.DynamoDB.Table != "matches" {
		t.Errorf("dynamodb = %+v", cfg.DynamoDB)
	}
	if cfg.Sync.PageSize != 25 || cfg.Sync.MaxPages != 50 {
		t.Errorf("paging = %d/%d, want 25/50", cfg.Sync.PageSize, cfg.Sync.MaxPages)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	loc, err := cfg.GetLocation()
	if err != nil || loc.String() != "Europe/Madrid" {
		t.Errorf("GetLocation = %v, %v", loc, err)
	}
	os.Unsetenv("RACQUET_API_KEY")
}

func TestLoad_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[sync\nremote="), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"bad freshness", func(c *Config) { c.Sync.Freshness = "soon" }, "freshness"},
		{"bad interval", func(c *Config) { c.Sync.AutoInterval = "-" }, "auto interval"},
		{"bad zone", func(c *Config) { c.Profile.Timezone = "Mars/Olympus" }, "timezone"},
		{"unknown remote", func(c *Config) { c.Sync.Remote = "ftp" }, "unknown sync.remote"},
		{"http without endpoint", func(c *Config) { c.Sync.Remote = RemoteHTTP; c.Profile.UserID = "u" }, "endpoint"},
		{"dynamo without region", func(c *Config) { c.Sync.Remote = RemoteDynamoDB; c.Profile.UserID = "u" }, "region"},
		{"remote without user", func(c *Config) {
			c.Sync.Remote = RemoteHTTP
			c.Sync.Endpoint = "http://x"
		}, "user_id"},
		{"negative rate", func(c *Config) { c.Sync.RequestsPerSecond = -1 }, "requests per second"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := DefaultConfig()
	cfg.Profile.UserID = "saved-user"
	cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	t.Setenv("RACQUET_USER_ID", "")
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Profile.UserID != "saved-user" || len(got.Server.AllowedOrigins) != 1 {
		t.Errorf("reloaded = %+v", got)
	}
}
