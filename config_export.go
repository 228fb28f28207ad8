package glimt

import "pkt.systems/glimt/internal/config"

// Config mirrors the Glimt configuration.
type Config = config.Config

// ServerConfig configures the broker server.
type ServerConfig = config.ServerConfig

// ClientConfig configures agent/viewer client defaults.
type ClientConfig = config.ClientConfig

// TLSConfig configures TLS for the broker server.
type TLSConfig = config.TLSConfig

// Loader wraps configuration loading via Viper.
type Loader = config.Loader

const (
	// DefaultConfigDirName is the directory name under the home directory.
	DefaultConfigDirName = config.DefaultConfigDirName
	// DefaultConfigFileName is the default config file name.
	DefaultConfigFileName = config.DefaultConfigFileName
	// DefaultListenAddr is the default broker listen address.
	DefaultListenAddr = config.DefaultListenAddr
	// DefaultClientEndpoint is the default endpoint agents and viewers dial.
	DefaultClientEndpoint = config.DefaultClientEndpoint
	// DefaultRequestTTL bounds pending screen-access requests.
	DefaultRequestTTL = config.DefaultRequestTTL
	// DefaultRoomID is the room used for local testing.
	DefaultRoomID = config.DefaultRoomID
)

// NewLoader returns a config loader with defaults wired.
func NewLoader() *config.Loader {
	return config.NewLoader()
}

// DefaultConfigDir returns the default Glimt config directory.
func DefaultConfigDir() string {
	return config.DefaultConfigDir()
}

// DefaultConfigPath returns the default Glimt config file path.
func DefaultConfigPath() string {
	return config.DefaultConfigPath()
}
