package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"

	"go.uber.org/fx"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string         `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
}

// loadConfig loads configuration from the embedded YAML and environment
// variables. It is intended to be called only once during application startup.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	// 1. Defaults from NewConfig().
	cfg := NewConfig()

	// 2. Overlay the embedded YAML. Only keys present in the YAML overwrite
	// defaults; absent keys keep their default values.
	if len(embeddedConfig) > 0 {
		if err := yaml.Unmarshal(embeddedConfig, cfg); err != nil {
			return nil, exception.NewPipelineError(moduleName, "failed to unmarshal embedded config", err, false, false)
		}
	}

	// 3. Override with environment variables (INGEST_ prefix, path joined
	// with underscores, e.g. INGEST_DATABASE_DSN).
	if err := loadStructFromEnv(reflect.ValueOf(&cfg.Ingest).Elem(), "INGEST"); err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	return cfg, nil
}

// LoadConfig loads configuration from the embedded YAML and environment variables.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It initializes the application configuration by loading defaults, merging
// the embedded YAML, and overriding with environment variables. It also sets
// the global logger level and validates configured error class names.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Ingest.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Ingest.System.Logging.Level)

	if err := validateErrorClasses(cfg); err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to validate configured error classes", err, false, false)
	}

	return cfg, nil
}

// validateErrorClasses validates that configured error class names exist in the registry.
func validateErrorClasses(cfg *Config) error {
	for _, name := range cfg.Ingest.Runner.RetryableErrors {
		if !exception.IsErrorTypeRegistered(name) {
			logger.Warnf("Retryable error class '%s' is not registered; it will match by substring/type name only.", name)
		}
	}
	return nil
}

// loadStructFromEnv recursively walks a config struct and overrides fields
// from environment variables. The variable name is the prefix plus the
// upper-cased yaml tag path joined with underscores.
func loadStructFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + strings.ToUpper(tag)
		fv := v.Field(i)

		switch fv.Kind() {
		case reflect.Struct:
			if err := loadStructFromEnv(fv, key); err != nil {
				return err
			}
		case reflect.String:
			if raw, ok := os.LookupEnv(key); ok {
				fv.SetString(raw)
			}
		case reflect.Int:
			if raw, ok := os.LookupEnv(key); ok {
				n, err := strconv.Atoi(raw)
				if err != nil {
					return fmt.Errorf("environment variable %s: %w", key, err)
				}
				fv.SetInt(int64(n))
			}
		case reflect.Float64:
			if raw, ok := os.LookupEnv(key); ok {
				f, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return fmt.Errorf("environment variable %s: %w", key, err)
				}
				fv.SetFloat(f)
			}
		case reflect.Bool:
			if raw, ok := os.LookupEnv(key); ok {
				b, err := strconv.ParseBool(raw)
				if err != nil {
					return fmt.Errorf("environment variable %s: %w", key, err)
				}
				fv.SetBool(b)
			}
		default:
			// Slices and maps are configured via YAML only.
		}
	}
	return nil
}
