package main

import (
	"regexp"
	"strconv"
	"time"

	"github.com/horgh/config"
	"github.com/pkg/errors"
)

// Config holds a server's configuration, loaded once at startup from
// a flat key = value file via github.com/horgh/config.
type Config struct {
	ListenHost string
	ListenPort string
	ServerName string
	ServerInfo string
	Version    string

	CreatedDate string
	MOTD        string

	// Rules, if non-empty, is served by the RULES command the same
	// way MOTD is served.
	Rules string

	MaxNickLength int

	// MaxBans caps each channel's +b list. Defaults to 64 when
	// unset.
	MaxBans int

	// WakeupTime bounds how long the dispatch goroutine sleeps between
	// alarm ticks (ping checks, K-line sweeps) when nothing else wakes
	// it.
	WakeupTime time.Duration

	// PingTime is how long a client may be idle before we ping it.
	PingTime time.Duration

	// DeadTime is how long a client may be idle, counting from its
	// last PONG, before we consider it dead.
	DeadTime time.Duration

	// RegistrationTimeout is how long a connection may sit
	// unregistered before it is dropped.
	RegistrationTimeout time.Duration

	// Opers maps an oper name to its password.
	Opers map[string]string

	// TS6SID is this server's TS6 SID. Must be unique network-wide.
	// Format: [0-9][0-9A-Z]{2}
	TS6SID string

	// OperJoinChannel, if set, is the channel operjoinModule joins a
	// user to the moment they successfully OPER.
	OperJoinChannel string

	// MetricsAddr, if set, is the address the Prometheus /metrics
	// endpoint listens on.
	MetricsAddr string
}

var ts6SIDRegexp = regexp.MustCompile("^[0-9][0-9A-Z]{2}$")

// readConfig loads and validates a configuration file.
func readConfig(file string) (Config, error) {
	var c Config

	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return c, errors.Wrap(err, "read config")
	}

	requiredKeys := []string{
		"listen-host",
		"listen-port",
		"server-name",
		"server-info",
		"version",
		"created-date",
		"motd",
		"max-nick-length",
		"wakeup-time",
		"ping-time",
		"dead-time",
		"opers-config",
		"ts6-sid",
	}

	for _, key := range requiredKeys {
		v, exists := configMap[key]
		if !exists {
			return c, errors.Errorf("missing required key: %s", key)
		}
		if len(v) == 0 {
			return c, errors.Errorf("configuration value is blank: %s", key)
		}
	}

	c.ListenHost = configMap["listen-host"]
	c.ListenPort = configMap["listen-port"]
	c.ServerName = configMap["server-name"]
	c.ServerInfo = configMap["server-info"]
	c.Version = configMap["version"]
	c.CreatedDate = configMap["created-date"]
	c.MOTD = configMap["motd"]
	c.Rules = configMap["rules"]
	c.OperJoinChannel = configMap["oper-join-channel"]
	c.MetricsAddr = configMap["metrics-addr"]

	c.MaxBans = 64
	if v, ok := configMap["max-bans"]; ok && len(v) > 0 {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, errors.Wrap(err, "max-bans is not valid")
		}
		c.MaxBans = n
	}

	nickLen, err := strconv.ParseInt(configMap["max-nick-length"], 10, 8)
	if err != nil {
		return c, errors.Wrap(err, "max-nick-length is not valid")
	}
	c.MaxNickLength = int(nickLen)

	c.WakeupTime, err = time.ParseDuration(configMap["wakeup-time"])
	if err != nil {
		return c, errors.Wrap(err, "wakeup-time is in invalid format")
	}

	c.PingTime, err = time.ParseDuration(configMap["ping-time"])
	if err != nil {
		return c, errors.Wrap(err, "ping-time is in invalid format")
	}

	c.DeadTime, err = time.ParseDuration(configMap["dead-time"])
	if err != nil {
		return c, errors.Wrap(err, "dead-time is in invalid format")
	}

	c.RegistrationTimeout = 60 * time.Second
	if v, ok := configMap["registration-time"]; ok && len(v) > 0 {
		c.RegistrationTimeout, err = time.ParseDuration(v)
		if err != nil {
			return c, errors.Wrap(err, "registration-time is in invalid format")
		}
	}

	opers, err := config.ReadStringMap(configMap["opers-config"])
	if err != nil {
		return c, errors.Wrap(err, "unable to load opers config")
	}
	c.Opers = opers

	if !ts6SIDRegexp.MatchString(configMap["ts6-sid"]) {
		return c, errors.New("ts6-sid is in invalid format")
	}
	c.TS6SID = configMap["ts6-sid"]

	return c, nil
}
