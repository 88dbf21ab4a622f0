package config

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/carbonforge/broadcast/src/broadcast"
	"github.com/sirupsen/logrus"
)

func TestDefaultConfigIsValid(t *testing.T) {
	c := NewDefaultConfig()
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if !c.IsServer() {
		t.Fatal("default mode should be server")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*Config)
	}{
		{"mode", func(c *Config) { c.Mode = "peer" }},
		{"transport", func(c *Config) { c.Transport = "udp" }},
		{"version range", func(c *Config) { c.MinVersion, c.MaxVersion = 3, 2 }},
		{"key", func(c *Config) { c.Key = strings.Repeat("k", 256) }},
		{"max packet", func(c *Config) { c.MaxPacketLength = -1 }},
		{"history", func(c *Config) { c.History = -1 }},
	}

	for _, tc := range cases {
		c := NewDefaultConfig()
		tc.modify(c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected a validation error", tc.name)
		}
	}

	// a client does not care about the accepted range
	c := NewDefaultConfig()
	c.Mode = ModeClient
	c.MinVersion, c.MaxVersion = 3, 2
	if err := c.Validate(); err != nil {
		t.Fatalf("client config should be valid: %v", err)
	}
}

func TestCredentials(t *testing.T) {
	c := NewDefaultConfig()
	c.Key = "secret"
	c.Version = 7
	c.MinVersion, c.MaxVersion = 2, 5

	expected := broadcast.Credentials{Key: "secret", MinVersion: 2, MaxVersion: 5}
	if creds := c.Credentials(); !reflect.DeepEqual(creds, expected) {
		t.Fatalf("server credentials should be %#v, not %#v", expected, creds)
	}

	c.Mode = ModeClient
	expected = broadcast.Credentials{Key: "secret", MinVersion: 7, MaxVersion: 7}
	if creds := c.Credentials(); !reflect.DeepEqual(creds, expected) {
		t.Fatalf("client credentials should be %#v, not %#v", expected, creds)
	}
}

func TestSetDataDir(t *testing.T) {
	c := NewDefaultConfig()
	c.SetDataDir("/tmp/node")
	if c.DatabaseDir != filepath.Join("/tmp/node", DefaultBadgerFile) {
		t.Fatalf("database dir should follow the data dir, got %s", c.DatabaseDir)
	}

	c = NewDefaultConfig()
	c.DatabaseDir = "/var/db"
	c.SetDataDir("/tmp/node")
	if c.DatabaseDir != "/var/db" {
		t.Fatalf("explicit database dir should be kept, got %s", c.DatabaseDir)
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"info":    logrus.InfoLevel,
		"warn":    logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"bananas": logrus.DebugLevel,
	}
	for s, l := range cases {
		if LogLevel(s) != l {
			t.Fatalf("%s should parse as %v, not %v", s, l, LogLevel(s))
		}
	}
}

func TestTestConfigLogger(t *testing.T) {
	c := NewTestConfig(t, logrus.InfoLevel)
	entry := c.Logger()
	if entry.Data["prefix"] != "broadcast" {
		t.Fatalf("logger prefix should be broadcast, not %v", entry.Data["prefix"])
	}
	if entry.Logger.Level != logrus.InfoLevel {
		t.Fatalf("logger level should be info, not %v", entry.Logger.Level)
	}
}
