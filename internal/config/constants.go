package config

const (
	// DefaultConfigDirName is the directory name under the home directory.
	DefaultConfigDirName = ".glimt"
	// DefaultConfigFileName is the default config file name.
	DefaultConfigFileName = "config.yaml"

	// DefaultListenAddr is the default broker listen address.
	DefaultListenAddr = "127.0.0.1:12844"
	// DefaultClientEndpoint is the default endpoint agents and viewers dial.
	DefaultClientEndpoint = "ws://localhost:12844/ws"
	// DefaultRequestTTL bounds pending screen-access requests.
	DefaultRequestTTL = "120s"
	// DefaultRoomID is the room used for local testing.
	DefaultRoomID = "room1"
)
