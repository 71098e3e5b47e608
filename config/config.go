// Package config defines the top-level Config loaded from an optional YAML
// file, grounded on uber-kraken's per-package Config{...}.applyDefaults()
// idiom (uber-kraken/lib/torrent/scheduler/config.go,
// uber-kraken/lib/torrent/scheduler/conn/config.go): one struct per
// subsystem, yaml tags on every field, a value-receiver applyDefaults that
// fills zero-valued fields, validated with gopkg.in/validator.v2 struct
// tags the way kraken validates its own agent/origin configs.
package config

import (
	"os"
	"time"

	validator "gopkg.in/validator.v2"
	yaml "gopkg.in/yaml.v2"

	"github.com/ghosthamlet/boost-torrent/metrics"
	"github.com/ghosthamlet/boost-torrent/trackerclient"
)

// PeerConfig configures a single peer session.
type PeerConfig struct {
	// HandshakeTimeout bounds dialing, writing, and reading during the BEP 3
	// handshake exchange.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// SenderBufferSize is loaded and defaulted but not read: peer.New sizes
	// a session's outgoing message channel with its own constant.
	SenderBufferSize int `yaml:"sender_buffer_size"`

	// ReceiverBufferSize is loaded and defaulted but not read: peer.New sizes
	// a session's incoming message channel with its own constant.
	ReceiverBufferSize int `yaml:"receiver_buffer_size"`
}

func (c PeerConfig) applyDefaults() PeerConfig {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.SenderBufferSize == 0 {
		c.SenderBufferSize = 64
	}
	if c.ReceiverBufferSize == 0 {
		c.ReceiverBufferSize = 64
	}
	return c
}

// PieceConfig configures the piece/block request scheduler.
type PieceConfig struct {
	// BlockSize is the size of one requested block, per BEP 3 convention.
	// It is loaded and defaulted but not read: the piece package uses its
	// own BlockSize constant.
	BlockSize int `yaml:"block_size"`

	// StaleAfter is how long an outstanding block request may go unanswered
	// before it is reissued. It is loaded and defaulted but not read: the
	// piece package uses its own StaleAfter constant.
	StaleAfter time.Duration `yaml:"stale_after"`
}

func (c PieceConfig) applyDefaults() PieceConfig {
	if c.BlockSize == 0 {
		c.BlockSize = 16384
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 500 * time.Millisecond
	}
	return c
}

// PoolConfig configures the coordinator's outgoing peer pool.
type PoolConfig struct {
	// MaxOutgoingPeers caps the number of simultaneous outgoing peer
	// connections the coordinator will maintain.
	MaxOutgoingPeers int `yaml:"max_outgoing_peers" validate:"min=1"`

	// DialTimeout bounds a single outgoing TCP dial.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

func (c PoolConfig) applyDefaults() PoolConfig {
	if c.MaxOutgoingPeers == 0 {
		c.MaxOutgoingPeers = 30
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// Config is the top-level configuration for the client.
type Config struct {
	Announcer    trackerclient.Config `yaml:"announcer"`
	Peer         PeerConfig           `yaml:"peer"`
	Piece        PieceConfig          `yaml:"piece"`
	Pool         PoolConfig           `yaml:"pool"`
	Metrics      metrics.Config       `yaml:"metrics"`
	PeerIDPrefix string               `yaml:"peer_id_prefix"`
}

func (c Config) applyDefaults() Config {
	c.Peer = c.Peer.applyDefaults()
	c.Piece = c.Piece.applyDefaults()
	c.Pool = c.Pool.applyDefaults()
	if c.PeerIDPrefix == "" {
		c.PeerIDPrefix = "-BT0001-"
	}
	return c
}

// Parse reads and validates a Config from the YAML file at path, applying
// defaults to any zero-valued field.
func Parse(path string) (Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c = c.applyDefaults()
	if err := validator.Validate(c); err != nil {
		return c, err
	}
	return c, nil
}

// Default returns a Config with every field set to its default value.
func Default() Config {
	return Config{}.applyDefaults()
}
