package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration for Glimt.
type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// ServerConfig configures the broker server.
type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	// RequestTTL bounds pending screen-access requests, e.g. "120s".
	RequestTTL string `mapstructure:"request_ttl" yaml:"request_ttl"`
	// MultiGrant permits several simultaneous viewers per agent instead of
	// exclusive control.
	MultiGrant bool      `mapstructure:"multi_grant" yaml:"multi_grant"`
	TLS        TLSConfig `mapstructure:"tls" yaml:"tls"`
}

// ClientConfig configures agent and viewer client defaults.
type ClientConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	RoomID   string `mapstructure:"room" yaml:"room"`
	Name     string `mapstructure:"name" yaml:"name"`
}

// TLSConfig points the server at a certificate pair. Both empty means
// plain HTTP (the broker typically sits behind a terminating proxy).
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`
}

// Loader wraps Viper configuration loading for Glimt.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader initializes a Loader with standard defaults.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("GLIMT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/glimt")
	v.AddConfigPath("$HOME/.glimt")

	return &Loader{v: v}
}

// Viper exposes the underlying Viper instance for flag binding and defaults.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = strings.TrimSpace(path)
}

// ReadInConfig reads configuration from file if available.
func (l *Loader) ReadInConfig() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// Load reads configuration and unmarshals it into a Config struct.
func (l *Loader) Load() (Config, error) {
	if err := l.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
