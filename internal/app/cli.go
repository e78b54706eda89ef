package app

import (
	"strconv"

	"github.com/alecthomas/kong"

	"github.com/vburojevic/uelog/internal/config"
)

// CLI is the flag surface of uelogd. Defaults are injected from the
// loaded config file via kong vars, so flags always win over config.
type CLI struct {
	UDPPort  int    `name:"udp-port" default:"${config_udp_port}" help:"UDP port for incoming log datagrams"`
	HTTPPort int    `name:"http-port" default:"${config_http_port}" help:"HTTP port for the MCP/SSE transport"`
	DB       string `default:"${config_db}" help:"Path of the SQLite log database"`

	Tail     []string `help:"Log file to tail from startup (repeatable)"`
	TailName []string `name:"tail-name" help:"Display name for the matching --tail, in order (repeatable)"`

	Cert string `help:"TLS certificate file; enables HTTPS together with --key"`
	Key  string `help:"TLS private key file"`

	LegacyConsole bool `name:"legacy-console" help:"Plain stdout/stderr diagnostics instead of the styled console"`
}

// Vars bridges config file values into kong flag defaults.
func Vars(cfg *config.Config) kong.Vars {
	return kong.Vars{
		"config_udp_port":  strconv.Itoa(cfg.UDPPort),
		"config_http_port": strconv.Itoa(cfg.HTTPPort),
		"config_db":        cfg.DB,
	}
}

// BuildConfig folds the parsed flags into the loaded config. Tails
// named on the command line are appended after the configured ones;
// the n-th --tail-name labels the n-th --tail.
func (c *CLI) BuildConfig(cfg *config.Config) *config.Config {
	out := *cfg
	out.UDPPort = c.UDPPort
	out.HTTPPort = c.HTTPPort
	out.DB = c.DB

	if c.Cert != "" {
		out.CertFile = c.Cert
	}
	if c.Key != "" {
		out.KeyFile = c.Key
	}
	if c.LegacyConsole {
		out.LegacyConsole = true
	}

	out.Tails = append([]config.TailConfig(nil), cfg.Tails...)
	for i, path := range c.Tail {
		tail := config.TailConfig{Path: path}
		if i < len(c.TailName) {
			tail.Name = c.TailName[i]
		}
		out.Tails = append(out.Tails, tail)
	}

	return &out
}
