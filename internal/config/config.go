package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zerfoo/zort/pkg/converter"
)

// EnvPrefix is prepended to every configuration key to form its environment
// variable, e.g. ZORT_ORT_LIBRARY.
const EnvPrefix = "ZORT"

type Config struct {
	Runtime  RuntimeConfig
	Logger   LoggerConfig
	Download DownloadConfig
}

type RuntimeConfig struct {
	LibraryPath string
	// OptLevel is the raw ZORT_OPT_LEVEL / --level value. Only commands that
	// honour it parse it, through OptimizationLevel.
	OptLevel       string
	IntraOpThreads int
	InterOpThreads int
}

// OptimizationLevel parses OptLevel.
func (c RuntimeConfig) OptimizationLevel() (converter.Level, error) {
	level, err := converter.ParseLevel(c.OptLevel)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s_OPT_LEVEL", EnvPrefix)
	}
	return level, nil
}

type LoggerConfig struct {
	Level  string
	Format string
}

type DownloadConfig struct {
	APIKey string
	APIURL string
	CDNURL string
	// Timeout is the raw ZORT_HTTP_TIMEOUT / --timeout value.
	Timeout string
}

// HTTPTimeout parses Timeout.
func (c DownloadConfig) HTTPTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s_HTTP_TIMEOUT", EnvPrefix)
	}
	return d, nil
}

// flagKeys maps command line flags onto configuration keys. Flags that were
// set take precedence over the environment.
var flagKeys = map[string]string{
	"ort-library":      "ORT_LIBRARY",
	"log-level":        "LOG_LEVEL",
	"log-format":       "LOG_FORMAT",
	"level":            "OPT_LEVEL",
	"intra-op-threads": "INTRA_OP_THREADS",
	"inter-op-threads": "INTER_OP_THREADS",
	"api-key":          "HF_API_KEY",
	"timeout":          "HTTP_TIMEOUT",
}

// Load reads defaults, ZORT_* environment variables and, when flags is not
// nil, any of the known flags it defines.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("ORT_LIBRARY", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("OPT_LEVEL", converter.LevelExtended.String())
	v.SetDefault("INTRA_OP_THREADS", 0)
	v.SetDefault("INTER_OP_THREADS", 0)
	v.SetDefault("HF_API_URL", "")
	v.SetDefault("HF_CDN_URL", "")
	v.SetDefault("HTTP_TIMEOUT", "5m")

	// Env
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	if err := v.BindEnv("HF_API_KEY", EnvPrefix+"_HF_API_KEY", "HF_API_KEY"); err != nil {
		return nil, errors.Wrap(err, "bind HF_API_KEY")
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "bind flag --%s", name)
			}
		}
	}

	intra, inter := v.GetInt("INTRA_OP_THREADS"), v.GetInt("INTER_OP_THREADS")
	if intra < 0 || inter < 0 {
		return nil, errors.Errorf("thread counts must not be negative (intra=%d, inter=%d)", intra, inter)
	}

	cfg := &Config{
		Runtime: RuntimeConfig{
			LibraryPath:    v.GetString("ORT_LIBRARY"),
			OptLevel:       v.GetString("OPT_LEVEL"),
			IntraOpThreads: intra,
			InterOpThreads: inter,
		},
		Logger: LoggerConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Download: DownloadConfig{
			APIKey:  v.GetString("HF_API_KEY"),
			APIURL:  v.GetString("HF_API_URL"),
			CDNURL:  v.GetString("HF_CDN_URL"),
			Timeout: v.GetString("HTTP_TIMEOUT"),
		},
	}

	return cfg, nil
}
