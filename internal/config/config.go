package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env               string        `mapstructure:"ENV"`
	Port              string        `mapstructure:"PORT"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	AdminKey          string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed       string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	ScoringConfigPath string        `mapstructure:"SCORING_CONFIG_PATH"`
	MinerSchedule     string        `mapstructure:"MINER_SCHEDULE"`
	MatcherParallel   bool          `mapstructure:"MATCHER_PARALLEL"`
	VINDecoderURL     string        `mapstructure:"VIN_DECODER_URL"`
	VINDecoderRPS     float64       `mapstructure:"VIN_DECODER_RPS"`
}

// Load reads .env when present, then the environment, which wins.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("MINER_SCHEDULE", "0 3 * * *")
	v.SetDefault("MATCHER_PARALLEL", false)
	v.SetDefault("VIN_DECODER_RPS", 5)
	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{"DATABASE_URL", "ADMIN_KEY", "SCORING_CONFIG_PATH", "VIN_DECODER_URL"} {
		v.SetDefault(key, "")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MemoryStore reports whether the server should run without Postgres.
func (c Config) MemoryStore() bool {
	return c.DatabaseURL == ""
}
