package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/carbonforge/broadcast/src/broadcast"
	"github.com/carbonforge/broadcast/src/common"
	"github.com/carbonforge/broadcast/src/packet"
	"github.com/carbonforge/broadcast/src/version"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultConfigFile is the name, without extension, of the configuration
	// file looked up in the data directory.
	DefaultConfigFile = "broadcast"
)

// Modes.
const (
	ModeServer = "server"
	ModeClient = "client"
)

// Transports.
const (
	TransportTCP       = "tcp"
	TransportWebsocket = "websocket"
)

// Default configuration values.
const (
	DefaultMode            = ModeServer
	DefaultLogLevel        = "debug"
	DefaultBindAddr        = "127.0.0.1:7340"
	DefaultConnectAddr     = "127.0.0.1:7340"
	DefaultTransport       = TransportTCP
	DefaultWebsocketPath   = "/broadcast"
	DefaultKey             = ""
	DefaultVersion         = version.Protocol
	DefaultMinVersion      = version.Protocol
	DefaultMaxVersion      = version.Protocol
	DefaultMaxPacketLength = packet.DefaultMaxPacketLength
	DefaultTimeout         = 1000 * time.Millisecond
	DefaultSendWindow      = 65536
	DefaultStore           = false
	DefaultHistory         = 32
	DefaultServiceAddr     = ""
)

// Config contains all the configuration properties of a broadcast node.
type Config struct {
	// DataDir is the top-level directory containing the configuration file
	// and the database.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// Mode is either "server" or "client".
	Mode string `mapstructure:"mode"`

	// BindAddr is the local address:port a server accepts clients on.
	BindAddr string `mapstructure:"listen"`

	// ConnectAddr is the address:port of the server a client connects to.
	ConnectAddr string `mapstructure:"connect"`

	// Transport selects the stream layer: "tcp" or "websocket".
	Transport string `mapstructure:"transport"`

	// WebsocketPath is the URL path of the websocket upgrade. Ignored by the
	// TCP transport.
	WebsocketPath string `mapstructure:"ws-path"`

	// Key is the shared secret clients present during the handshake.
	Key string `mapstructure:"key"`

	// Version is the protocol version announced by a client.
	Version uint16 `mapstructure:"version"`

	// MinVersion and MaxVersion bound the client versions a server accepts.
	MinVersion uint16 `mapstructure:"min-version"`
	MaxVersion uint16 `mapstructure:"max-version"`

	// MaxPacketLength is the largest packet, header included, a connection
	// buffers. 0 disables the limit.
	MaxPacketLength int `mapstructure:"max-packet"`

	// Timeout bounds dialing the server.
	Timeout time.Duration `mapstructure:"timeout"`

	// SendWindow is the number of bytes the transport buffers per connection
	// and direction.
	SendWindow int `mapstructure:"send-window"`

	// Store activates the persistant journal of relayed packets.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// History is the number of relayed packets replayed to a client when it
	// joins.
	History int `mapstructure:"history"`

	// ServiceAddr is the IP:Port of the HTTP status API. Empty disables it.
	ServiceAddr string `mapstructure:"service-listen"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:         DefaultDataDir(),
		LogLevel:        DefaultLogLevel,
		Mode:            DefaultMode,
		BindAddr:        DefaultBindAddr,
		ConnectAddr:     DefaultConnectAddr,
		Transport:       DefaultTransport,
		WebsocketPath:   DefaultWebsocketPath,
		Key:             DefaultKey,
		Version:         DefaultVersion,
		MinVersion:      DefaultMinVersion,
		MaxVersion:      DefaultMaxVersion,
		MaxPacketLength: DefaultMaxPacketLength,
		Timeout:         DefaultTimeout,
		SendWindow:      DefaultSendWindow,
		Store:           DefaultStore,
		DatabaseDir:     DefaultDatabaseDir(),
		History:         DefaultHistory,
		ServiceAddr:     DefaultServiceAddr,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	config.logger.Level = level
	return config
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value. If the database directory is
// not currently the default, it means the user has explicitely set it to
// something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// IsServer reports whether the node runs a server session.
func (c *Config) IsServer() bool {
	return c.Mode == ModeServer
}

// Credentials returns the handshake credentials for the configured mode. A
// client announces Version; a server accepts [MinVersion, MaxVersion].
func (c *Config) Credentials() broadcast.Credentials {
	if c.IsServer() {
		return broadcast.Credentials{
			Key:        c.Key,
			MinVersion: c.MinVersion,
			MaxVersion: c.MaxVersion,
		}
	}
	return broadcast.ClientCredentials(c.Key, c.Version)
}

// Validate checks the values that cannot be fixed up with a default.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeServer, ModeClient:
	default:
		return errors.Errorf("unknown mode %q", c.Mode)
	}

	switch c.Transport {
	case TransportTCP, TransportWebsocket:
	default:
		return errors.Errorf("unknown transport %q", c.Transport)
	}

	if c.IsServer() && c.MinVersion > c.MaxVersion {
		return errors.Errorf("min-version %d is above max-version %d", c.MinVersion, c.MaxVersion)
	}

	if len(c.Key) > packet.MaxKeyLength {
		return errors.Errorf("key is %d bytes long, at most %d are sent", len(c.Key), packet.MaxKeyLength)
	}

	if c.MaxPacketLength < 0 {
		return errors.Errorf("max-packet cannot be negative (%d)", c.MaxPacketLength)
	}

	if c.History < 0 {
		return errors.Errorf("history cannot be negative (%d)", c.History)
	}

	return nil
}

// Logger returns a formatted logrus Entry, with prefix set to "broadcast".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "broadcast")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Broadcast")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Broadcast")
		} else {
			return filepath.Join(home, ".broadcast")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
