// Package config loads emitter settings from a YAML file, the environment
// and command line flags, and turns them into emitter options.
//
// Keys are camelCase in files. Environment lookups are automatic: with
// env prefix EMITTER, batchSize is read from EMITTER_BATCHSIZE and
// log.level from EMITTER_LOG_LEVEL.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	KEY_ENDPOINT              = "endpoint"
	KEY_BATCH_SIZE            = "batchSize"
	KEY_FLUSH_INTERVAL_MS     = "flushIntervalMs"
	KEY_MAX_RETRIES           = "maxRetries"
	KEY_DEBUG                 = "debug"
	KEY_DISABLE_AUTO_PAGEVIEW = "disableAutoPageview"
	KEY_REQUEST_TIMEOUT_MS    = "requestTimeoutMs"
	KEY_BEACON_TIMEOUT_MS     = "beaconTimeoutMs"
	KEY_BACKOFF_UNIT_MS       = "backoffUnitMs"
	KEY_MAX_PENDING           = "maxPending"
	KEY_COMPRESS              = "compress"
	KEY_HEADERS               = "headers"
	KEY_STORAGE_PATH          = "storagePath"
	KEY_LOG_LEVEL             = "log.level"
	KEY_LOG_FILE_NAME         = "log.fileName"
	KEY_VERBOSE               = "verbose"
	KEY_VERSION               = "version"
	KEY_METRICS_ADDR          = "metrics.addr"
	KEY_APP_NAME              = "appName"
	KEY_LICENSE_KEY           = "licenseKey"
	KEY_CONFIG_PATH           = "config_path"
	KEY_ENV_PREFIX            = "env_prefix"
)

// BindFlags declares the standalone flags on fs, parses args and binds the
// result to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, args []string) error {
	fs.Bool(
		KEY_VERBOSE,
		false,
		"enable verbose logging",
	)
	fs.Bool(
		KEY_VERSION,
		false,
		"display version information",
	)
	fs.String(
		KEY_CONFIG_PATH,
		"",
		"path to YML configuration file",
	)
	fs.String(
		KEY_ENV_PREFIX,
		"",
		"prefix to use for environment variable lookup",
	)
	fs.String(
		KEY_ENDPOINT,
		"",
		"collection endpoint URL",
	)

	err := fs.Parse(args)
	if err != nil {
		return err
	}

	return v.BindPFlags(fs)
}

// Load wires environment lookups into v and reads the configuration file.
// The file comes from config_path when set, otherwise config.yml is looked
// up in ./configs and the working directory. A missing file is not an
// error when no explicit path was given.
func Load(v *viper.Viper) error {
	envPrefix := v.GetString(KEY_ENV_PREFIX)

	v.AutomaticEnv()
	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
	}

	// nested keys become shell-safe env names: log.level -> LOG_LEVEL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configPath := v.GetString(KEY_CONFIG_PATH)
	if configPath == "" {
		return loadWithPaths(v)
	}

	return loadWithFile(v, configPath)
}

func loadWithFile(v *viper.Viper, configFile string) error {
	v.SetConfigFile(configFile)

	return v.ReadInConfig()
}

func loadWithPaths(v *viper.Viper) error {
	v.SetConfigName("config")
	v.AddConfigPath("configs")
	v.AddConfigPath(".")

	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}

		return err
	}

	return nil
}

// EmitterOptions maps the loaded settings onto emitter options. Only keys
// that are set produce an option, so unset keys keep the emitter defaults.
func EmitterOptions(v *viper.Viper) (string, []emitter.Option) {
	opts := []emitter.Option{}

	if v.IsSet(KEY_BATCH_SIZE) {
		opts = append(opts, emitter.WithBatchSize(v.GetInt(KEY_BATCH_SIZE)))
	}

	if v.IsSet(KEY_FLUSH_INTERVAL_MS) {
		opts = append(opts, emitter.WithFlushInterval(millis(v, KEY_FLUSH_INTERVAL_MS)))
	}

	if v.IsSet(KEY_MAX_RETRIES) {
		opts = append(opts, emitter.WithMaxRetries(v.GetInt(KEY_MAX_RETRIES)))
	}

	if v.IsSet(KEY_DEBUG) {
		opts = append(opts, emitter.WithDebug(v.GetBool(KEY_DEBUG)))
	}

	if v.IsSet(KEY_DISABLE_AUTO_PAGEVIEW) {
		opts = append(opts, emitter.WithDisableAutoPageview(v.GetBool(KEY_DISABLE_AUTO_PAGEVIEW)))
	}

	if v.IsSet(KEY_REQUEST_TIMEOUT_MS) {
		opts = append(opts, emitter.WithRequestTimeout(millis(v, KEY_REQUEST_TIMEOUT_MS)))
	}

	if v.IsSet(KEY_BEACON_TIMEOUT_MS) {
		opts = append(opts, emitter.WithBeaconTimeout(millis(v, KEY_BEACON_TIMEOUT_MS)))
	}

	if v.IsSet(KEY_BACKOFF_UNIT_MS) {
		opts = append(opts, emitter.WithBackoffUnit(millis(v, KEY_BACKOFF_UNIT_MS)))
	}

	if v.IsSet(KEY_MAX_PENDING) {
		opts = append(opts, emitter.WithMaxPending(v.GetInt(KEY_MAX_PENDING)))
	}

	if v.IsSet(KEY_COMPRESS) {
		opts = append(opts, emitter.WithCompression(v.GetBool(KEY_COMPRESS)))
	}

	if v.IsSet(KEY_HEADERS) {
		opts = append(opts, emitter.WithHeaders(v.GetStringMapString(KEY_HEADERS)))
	}

	return v.GetString(KEY_ENDPOINT), opts
}

// NewEmitter builds an emitter from v. extra options are applied after the
// configured ones.
func NewEmitter(v *viper.Viper, extra ...emitter.Option) (*emitter.Emitter, error) {
	endpoint, opts := EmitterOptions(v)

	return emitter.New(endpoint, append(opts, extra...)...)
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Millisecond
}
