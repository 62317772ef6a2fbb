package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	Version = "-"
)

// init reads the VERSION file from the project root so the version string is
// available wherever the package is imported, including tests.
func init() {
	_, currentFile, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(currentFile))

	version, err := os.ReadFile(filepath.Join(projectRoot, "VERSION"))
	if err != nil {
		slog.Error("could not read the version file", slog.String("error", err.Error()))
		os.Exit(1)
	}
	Version = strings.TrimSpace(string(version))

	// Ensure Config is non-nil with default values for tests and simple runs
	if Config == nil {
		Config = initDefaultConfig()
	}
}

var Config *MailboxConfig

type MailboxConfig struct {
	Host string `mapstructure:"host" default:"0.0.0.0" description:"the host address to bind the admin/metrics endpoint to"`
	Port int    `mapstructure:"port" default:"7070" description:"the port for the admin/metrics endpoint"`

	NodeID string `mapstructure:"node-id" default:"" description:"identifier for this cluster node; defaults to the hostname"`

	LogLevel  string `mapstructure:"log-level" default:"info" description:"the log level, values: debug, info, warn, error"`
	LogFormat string `mapstructure:"log-format" default:"text" description:"log output format, values: text, json"`

	NotifyBackend           string `mapstructure:"notify-backend" default:"redis" description:"notification pub/sub backend, values: standalone, redis"`
	NotifyNumChannels       int    `mapstructure:"notify-num-channels" default:"50" description:"number of shared notification channels mailboxes are hashed onto; changing it requires a restart of every node"`
	NotifyDispatchWorkers   int    `mapstructure:"notify-dispatch-workers" default:"4" description:"workers replaying inbound remote notifications"`
	NotifyDispatchQueueSize int    `mapstructure:"notify-dispatch-queue-size" default:"1024" description:"bound of the inbound notification queue; overflow is dropped"`

	RedisAddr               string `mapstructure:"redis-addr" default:"127.0.0.1:6379" description:"address host:port of the shared redis"`
	RedisPassword           string `mapstructure:"redis-password" default:"" description:"password for the shared redis"`
	RedisDB                 int    `mapstructure:"redis-db" default:"0" description:"redis logical database"`
	RedisPoolSize           int    `mapstructure:"redis-pool-size" default:"10" description:"connection pool size for the shared redis client"`
	RedisDialTimeoutMillis  int    `mapstructure:"redis-dial-timeout-ms" default:"5000" description:"redis dial timeout in milliseconds"`
	RedisReadTimeoutMillis  int    `mapstructure:"redis-read-timeout-ms" default:"3000" description:"redis read timeout in milliseconds"`
	RedisWriteTimeoutMillis int    `mapstructure:"redis-write-timeout-ms" default:"3000" description:"redis write timeout in milliseconds"`

	RedisRetryMaxAttempts          int `mapstructure:"redis-retry-max-attempts" default:"5" description:"maximum retries of a failed redis command"`
	RedisRetryInitialBackoffMillis int `mapstructure:"redis-retry-initial-backoff-ms" default:"100" description:"initial backoff between redis retries in milliseconds"`
	RedisRetryMaxBackoffMillis     int `mapstructure:"redis-retry-max-backoff-ms" default:"5000" description:"maximum backoff between redis retries in milliseconds"`
	RedisClusterPollMillis         int `mapstructure:"redis-cluster-poll-ms" default:"1000" description:"interval in milliseconds between cluster health probes while the cluster is down"`
}

func Load(flags *pflag.FlagSet) {
	configureMetadataDir()
	viper.SetConfigType("yaml")
	viper.AddConfigPath(MetadataDir)
	viper.SetConfigName("zmailbox")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	flags.VisitAll(func(flag *pflag.Flag) {
		if flag.Name == "help" {
			return
		}
		// Only update parsed config if the user set a value or viper lacks it
		if flag.Changed || !viper.IsSet(flag.Name) {
			viper.Set(flag.Name, flag.Value.String())
		}
	})

	if err := viper.Unmarshal(&Config); err != nil {
		panic(err)
	}

	if Config.NodeID == "" {
		if hostname, err := os.Hostname(); err == nil {
			Config.NodeID = hostname
		} else {
			Config.NodeID = "localhost"
		}
	}
}

// InitConfig writes the effective configuration to the metadata directory,
// creating the file if missing or overwriting it when --overwrite is set.
func InitConfig(flags *pflag.FlagSet) {
	Load(flags)
	configPath := filepath.Join(MetadataDir, "zmailbox.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := viper.WriteConfigAs(configPath); err != nil {
			slog.Error("could not write the config file",
				slog.String("path", configPath),
				slog.String("error", err.Error()))
			os.Exit(1)
		}
		slog.Info("config created", slog.String("path", configPath))
	} else {
		if overwrite, _ := flags.GetBool("overwrite"); overwrite {
			if err := viper.WriteConfigAs(configPath); err != nil {
				slog.Error("could not write the config file",
					slog.String("path", configPath),
					slog.String("error", err.Error()))
				os.Exit(1)
			}
			slog.Info("config overwritten", slog.String("path", configPath))
		} else {
			slog.Info("config already exists. skipping.", slog.String("path", configPath))
			slog.Info("run with --overwrite to overwrite the existing config")
		}
	}
}

// configureMetadataDir creates the metadata directory used for the config
// file and other persistent process state.
func configureMetadataDir() {
	if !filepath.IsAbs(MetadataDir) {
		cwd, _ := os.Getwd()
		MetadataDir = filepath.Join(cwd, MetadataDir)
	}
	if err := os.MkdirAll(MetadataDir, 0o700); err != nil {
		fmt.Printf("could not create metadata directory at %s. error: %s\n", MetadataDir, err)
		fmt.Println("using current directory as metadata directory")
		MetadataDir = "."
	}
}

func initDefaultConfig() *MailboxConfig {
	defaultConfig := &MailboxConfig{}
	configType := reflect.TypeOf(*defaultConfig)
	configValue := reflect.ValueOf(defaultConfig).Elem()

	for i := 0; i < configType.NumField(); i++ {
		field := configType.Field(i)
		value := configValue.Field(i)

		tag := field.Tag.Get("default")
		if tag != "" {
			switch value.Kind() {
			case reflect.String:
				value.SetString(tag)
			case reflect.Int:
				intVal := 0
				if _, err := fmt.Sscanf(tag, "%d", &intVal); err == nil {
					value.SetInt(int64(intVal))
				}
			case reflect.Bool:
				boolVal := false
				if _, err := fmt.Sscanf(tag, "%t", &boolVal); err == nil {
					value.SetBool(boolVal)
				}
			}
		}
	}

	return defaultConfig
}

// ForceInit replaces the global config, filling zero-valued fields from the
// defaults. Used by tests.
func ForceInit(config *MailboxConfig) {
	defaultConfig := initDefaultConfig()

	configType := reflect.TypeOf(*config)
	configValue := reflect.ValueOf(config).Elem()
	defaultConfigValue := reflect.ValueOf(defaultConfig).Elem()

	for i := 0; i < configType.NumField(); i++ {
		value := configValue.Field(i)
		if value.IsZero() {
			value.Set(defaultConfigValue.Field(i))
		}
	}
	Config = config
}
