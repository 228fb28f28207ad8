package config

import (
	"os"
	"path/filepath"
)

// DefaultConfig returns the default configuration values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:     DefaultListenAddr,
			RequestTTL: DefaultRequestTTL,
		},
		Client: ClientConfig{
			Endpoint: DefaultClientEndpoint,
			RoomID:   DefaultRoomID,
		},
	}
}

// DefaultConfigDir returns the default Glimt config directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DefaultConfigDirName
	}
	return filepath.Join(home, DefaultConfigDirName)
}

// DefaultConfigPath returns the default Glimt config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), DefaultConfigFileName)
}
