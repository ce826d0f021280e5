package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds all runtime configuration. Values come from SKIFF_*
// environment variables with the defaults below.
type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8420"`
	DataPath   string `envconfig:"DATA_PATH" default:""`
	LogPath    string `envconfig:"LOG_PATH" default:""`

	// Session lifecycle settings
	KeepaliveInterval time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"30s"`
	KeepaliveMaxMiss  int           `envconfig:"KEEPALIVE_MAX_MISS" default:"3"`
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"0"`

	// Resource caps. Zero means unlimited.
	MaxSessions           int `envconfig:"MAX_SESSIONS" default:"32"`
	MaxChannelsPerSession int `envconfig:"MAX_CHANNELS_PER_SESSION" default:"10"`

	// Transfer settings
	TransferChunkSize int `envconfig:"TRANSFER_CHUNK_SIZE" default:"32768"`

	// LocalRoots restricts local paths used in uploads/downloads to these
	// directory trees. Empty means no restriction.
	LocalRoots []string `envconfig:"LOCAL_ROOTS" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SKIFF", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
