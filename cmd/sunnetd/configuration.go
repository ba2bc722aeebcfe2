// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/sunnet-go/sunnet/pkg/endpoint"
	"github.com/sunnet-go/sunnet/pkg/sock"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Logging logConf
	Listen  listenConf
	Status  statusConf
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// listenConf describes the Listen-configuration block of the echo server.
type listenConf struct {
	Network     string
	Address     string
	Port        string
	Backlog     int
	PollTimeout string `toml:"poll-timeout"`
}

// statusConf describes the Status-configuration block of the HTTP server.
type statusConf struct {
	Listen string
}

// daemonConf is the parsed configuration.
type daemonConf struct {
	Server       endpoint.ServerConfig
	StatusListen string
}

// configureLogging applies the Logging-configuration block.
func configureLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseListen validates the Listen-configuration block.
func parseListen(conf listenConf) (cfg endpoint.ServerConfig, err error) {
	cfg = endpoint.ServerConfig{
		Sock:    sock.Config{Network: conf.Network},
		Address: conf.Address,
		Port:    conf.Port,
		Backlog: conf.Backlog,
	}

	if cfg.Sock.Network == "" {
		cfg.Sock.Network = "tcp"
	}

	switch cfg.Sock.Network {
	case "tcp", "tcp4", "tcp6":
		if conf.Port == "" {
			err = multierror.Append(err, fmt.Errorf("listen.port is empty"))
		}
	case "unix":
		if conf.Address == "" {
			err = multierror.Append(err, fmt.Errorf("listen.address is empty, but required for unix sockets"))
		}
	default:
		err = multierror.Append(err, fmt.Errorf("unknown listen.network %q", conf.Network))
	}

	if conf.Backlog < 0 {
		err = multierror.Append(err, fmt.Errorf("listen.backlog is negative"))
	}

	if conf.PollTimeout != "" {
		if timeout, durErr := time.ParseDuration(conf.PollTimeout); durErr != nil {
			err = multierror.Append(err, fmt.Errorf("listen.poll-timeout: %w", durErr))
		} else if timeout <= 0 {
			err = multierror.Append(err, fmt.Errorf("listen.poll-timeout must be positive"))
		} else {
			cfg.PollTimeout = timeout
		}
	}

	return
}

// parseConfig reads the TOML configuration file and sets up logging.
func parseConfig(filename string) (conf daemonConf, err error) {
	var tomlConf tomlConfig
	if _, err = toml.DecodeFile(filename, &tomlConf); err != nil {
		return
	}

	configureLogging(tomlConf.Logging)

	if conf.Server, err = parseListen(tomlConf.Listen); err != nil {
		return
	}
	conf.StatusListen = tomlConf.Status.Listen

	log.WithFields(log.Fields{
		"network": conf.Server.Sock.Network,
		"address": conf.Server.Address,
		"port":    conf.Server.Port,
		"status":  conf.StatusListen,
	}).Debug("Parsed configuration")

	return
}
