package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const base = `
app:
  env: test
telegram:
  token: abc
  admin_chat_id: 42
postgres:
  dsn: postgres://file
`

func TestLoadDefaultsAndFile(t *testing.T) {
	c, err := Load(writeConfig(t, base))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.App.Env != "test" || c.Telegram.AdminChatID != 42 || c.Postgres.DSN != "postgres://file" {
		t.Fatalf("config = %+v", c)
	}
	if c.HTTP.Addr != ":8080" || c.Telegram.Timeout != 30 || c.Postgres.Migrations != "migrations" {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("APP_POSTGRES_DSN", "postgres://env")
	c, err := Load(writeConfig(t, base))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Postgres.DSN != "postgres://env" {
		t.Fatalf("dsn = %q", c.Postgres.DSN)
	}
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"no token": `
postgres:
  dsn: postgres://x
`,
		"bad env": `
app:
  env: staging
telegram:
  token: abc
postgres:
  dsn: postgres://x
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
