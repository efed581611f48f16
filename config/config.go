// Package config parses the configuration surface the core consumes:
// account.encryption, channels.automodes, and per-peer connect.<name>
// blocks, using the scfg directive format.
package config

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"git.sr.ht/~emersion/go-scfg"

	"github.com/cooper/vulpia"
)

// Config is the parsed configuration surface.
type Config struct {
	AccountEncryption string // "sha1" (default) or "bcrypt"
	ChannelAutomodes  string // mode string; a "+user" parameter is replaced by the joining user's UID
	Connect           map[string]ircd.LinkConfig
}

// Load parses an scfg document from r into a Config.
func Load(r io.Reader) (*Config, error) {
	block, err := scfg.Load(r)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AccountEncryption: "sha1",
		Connect:           make(map[string]ircd.LinkConfig),
	}

	for _, d := range block {
		switch d.Name {
		case "account":
			if err := parseAccountBlock(d, cfg); err != nil {
				return nil, err
			}
		case "channels":
			if err := parseChannelsBlock(d, cfg); err != nil {
				return nil, err
			}
		case "connect":
			if err := parseConnectBlock(d, cfg); err != nil {
				return nil, err
			}
		}
	}

	return cfg, nil
}

func parseAccountBlock(d *scfg.Directive, cfg *Config) error {
	for _, child := range d.Children {
		if child.Name == "encryption" {
			if len(child.Params) < 1 {
				return fmt.Errorf("account.encryption requires an algorithm name")
			}
			cfg.AccountEncryption = child.Params[0]
		}
	}
	return nil
}

func parseChannelsBlock(d *scfg.Directive, cfg *Config) error {
	for _, child := range d.Children {
		if child.Name == "automodes" {
			if len(child.Params) < 1 {
				return fmt.Errorf("channels.automodes requires a mode string")
			}
			cfg.ChannelAutomodes = child.Params[0]
		}
	}
	return nil
}

// parseConnectBlock parses one `connect <name> { ... }` directive into
// an ircd.LinkConfig.
func parseConnectBlock(d *scfg.Directive, cfg *Config) error {
	if len(d.Params) < 1 {
		return fmt.Errorf("connect block requires a peer name")
	}
	name := d.Params[0]
	lc := ircd.LinkConfig{Name: name}

	for _, child := range d.Children {
		switch child.Name {
		case "address":
			if len(child.Params) < 1 {
				return fmt.Errorf("connect.%s.address requires a value", name)
			}
			lc.Address = child.Params[0]
		case "port":
			if len(child.Params) < 1 {
				return fmt.Errorf("connect.%s.port requires a value", name)
			}
			port, err := strconv.Atoi(child.Params[0])
			if err != nil {
				return fmt.Errorf("connect.%s.port: %w", name, err)
			}
			lc.Port = port
		case "ssl":
			lc.TLS = len(child.Params) > 0 && child.Params[0] != "off" && child.Params[0] != "false"
		case "ircd":
			if len(child.Params) < 1 {
				return fmt.Errorf("connect.%s.ircd requires a value", name)
			}
			lc.Protocol = child.Params[0]
		case "auto_timeout":
			secs, err := parseSeconds(child)
			if err != nil {
				return fmt.Errorf("connect.%s.auto_timeout: %w", name, err)
			}
			lc.AutoTimeout = secs
		case "auto_timer":
			secs, err := parseSeconds(child)
			if err != nil {
				return fmt.Errorf("connect.%s.auto_timer: %w", name, err)
			}
			lc.AutoTimer = secs
		}
	}

	cfg.Connect[name] = lc
	return nil
}

func parseSeconds(d *scfg.Directive) (time.Duration, error) {
	if len(d.Params) < 1 {
		return 0, fmt.Errorf("requires a value")
	}
	n, err := strconv.Atoi(d.Params[0])
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
