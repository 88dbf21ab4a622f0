// Package config defines the configuration for a broadcast node.
//
// Regardless of how a node is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. The command line
// tool binds every flag to the mapstructure key of the corresponding field and
// also reads them from an optional file in the data directory:
//
//  broadcast.toml // (optional) configuration values, keyed like the flags.
//  badger_db/     // (optional) journal of relayed packets, when store is set.
package config
