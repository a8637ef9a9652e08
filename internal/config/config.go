package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	App struct {
		Env      string `validate:"oneof=dev prod test"`
		Timezone string `validate:"required"`
	} `mapstructure:"app"`

	Telegram struct {
		Token       string `validate:"required"`
		AdminChatID int64  `mapstructure:"admin_chat_id"`
		Timeout     int    `validate:"gte=1,lte=120"`
	} `mapstructure:"telegram"`

	HTTP struct {
		Addr string `validate:"required"`
	} `mapstructure:"http"`

	Postgres struct {
		DSN        string `validate:"required"`
		Migrations string `validate:"required"`
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`
}

var validate = validator.New()

// Load читает YAML, затем .env рядом с бинарём (если есть), затем APP_* из окружения.
// APP_POSTGRES_DSN перекрывает postgres.dsn и т.д.
func Load(path string) (Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("app.timezone", "Europe/Warsaw")
	v.SetDefault("telegram.timeout", 30)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("postgres.migrations", "migrations")

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	// AutomaticEnv не видит ключи, которых нет в файле — привязываем явно
	for _, k := range []string{"telegram.token", "telegram.admin_chat_id", "postgres.dsn"} {
		_ = v.BindEnv(k)
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	if err := validate.Struct(c); err != nil {
		return c, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// MustLoad — для main: без конфига работать нечего.
func MustLoad(path string) Config {
	c, err := Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	return c
}
