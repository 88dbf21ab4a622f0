package commands

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/carbonforge/broadcast/src/config"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for broadcast
var RootCmd = &cobra.Command{
	Use:              "broadcast",
	Short:            "broadcast relay server and chat client",
	TraverseChildren: true,
}

// addCommonFlags registers the flags shared by the server and client commands.
func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.Broadcast.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Broadcast.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().Bool("log-files", _config.LogFiles, "Also write info and debug logs to files in datadir")
	cmd.Flags().Bool("discard", _config.Discard, "Discard log output to stderr (requires log-files)")

	cmd.Flags().String("transport", _config.Broadcast.Transport, "tcp or websocket")
	cmd.Flags().String("ws-path", _config.Broadcast.WebsocketPath, "URL path of the websocket upgrade")
	cmd.Flags().StringP("key", "k", _config.Broadcast.Key, "Shared connection key")
	cmd.Flags().Int("max-packet", _config.Broadcast.MaxPacketLength, "Max packet length in bytes, 0 for unlimited")
	cmd.Flags().Int("send-window", _config.Broadcast.SendWindow, "Bytes buffered by the transport per connection")
}

// loadConfig returns a PreRunE that fills _config from flags and the config
// file, in the given mode.
func loadConfig(mode string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := bindFlagsLoadViper(cmd); err != nil {
			return err
		}

		// If --datadir was explicitely set, but not --db, this will update the
		// default database dir to be inside the new datadir
		_config.Broadcast.SetDataDir(_config.Broadcast.DataDir)
		_config.Broadcast.Mode = mode

		if err := _config.Broadcast.Validate(); err != nil {
			return err
		}

		if _config.LogFiles {
			addFileHook(_config.Broadcast.Logger().Logger, _config.Broadcast.DataDir, _config.Discard)
		}

		logFields := logrus.Fields{
			"broadcast.DataDir":         _config.Broadcast.DataDir,
			"broadcast.Mode":            _config.Broadcast.Mode,
			"broadcast.Transport":       _config.Broadcast.Transport,
			"broadcast.MaxPacketLength": _config.Broadcast.MaxPacketLength,
			"broadcast.SendWindow":      _config.Broadcast.SendWindow,
			"broadcast.LogLevel":        _config.Broadcast.LogLevel,
		}

		if _config.Broadcast.Transport == config.TransportWebsocket {
			logFields["broadcast.WebsocketPath"] = _config.Broadcast.WebsocketPath
		}

		if _config.Broadcast.IsServer() {
			logFields["broadcast.BindAddr"] = _config.Broadcast.BindAddr
			logFields["broadcast.MinVersion"] = _config.Broadcast.MinVersion
			logFields["broadcast.MaxVersion"] = _config.Broadcast.MaxVersion
			logFields["broadcast.History"] = _config.Broadcast.History
			logFields["broadcast.Store"] = _config.Broadcast.Store
			if _config.Broadcast.Store {
				logFields["broadcast.DatabaseDir"] = _config.Broadcast.DatabaseDir
			}
		} else {
			logFields["broadcast.ConnectAddr"] = _config.Broadcast.ConnectAddr
			logFields["broadcast.Version"] = _config.Broadcast.Version
			logFields["broadcast.Timeout"] = _config.Broadcast.Timeout
			logFields["broadcast.Moniker"] = _config.Broadcast.Moniker
		}

		_config.Broadcast.Logger().WithFields(logFields).Debug("RUN")

		return nil
	}
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/broadcast.toml (.json, .yaml also work)
	viper.SetConfigName(config.DefaultConfigFile)
	viper.AddConfigPath(_config.Broadcast.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Broadcast.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Broadcast.Logger().Debugf("No config file found in: %s", _config.Broadcast.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

// addFileHook sends info and debug entries to files in dir as well.
func addFileHook(logger *logrus.Logger, dir string, discard bool) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		logger.WithError(err).Info("Failed to create log directory, using default stderr")
		return
	}

	pathMap := lfshook.PathMap{}

	infoFile := filepath.Join(dir, "broadcast_info.log")
	debugFile := filepath.Join(dir, "broadcast_debug.log")

	_, err := os.OpenFile(infoFile, os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Infof("Failed to open %s file, using default stderr", infoFile)
	} else {
		pathMap[logrus.InfoLevel] = infoFile
	}

	_, err = os.OpenFile(debugFile, os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Infof("Failed to open %s file, using default stderr", debugFile)
	} else {
		pathMap[logrus.DebugLevel] = debugFile
	}

	if err == nil && discard {
		logger.Out = ioutil.Discard
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}
