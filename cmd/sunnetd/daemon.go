// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/sunnet-go/sunnet/internal/demo"
	"github.com/sunnet-go/sunnet/pkg/channel"
	"github.com/sunnet-go/sunnet/pkg/endpoint"
	"github.com/sunnet-go/sunnet/pkg/subscription"
)

// daemon bundles the echo server and its optional HTTP status server.
type daemon struct {
	server     *endpoint.ChanneledServer
	httpServer *http.Server
	started    time.Time
}

// statusResponse is returned by the /status endpoint.
type statusResponse struct {
	State    string `json:"state"`
	Address  string `json:"address"`
	Peers    int    `json:"peers"`
	Channels int    `json:"channels"`
	Uptime   string `json:"uptime"`
}

// echoHooks logs the echo server's events.
type echoHooks struct {
	endpoint.BaseChanneledServerHooks
}

func (echoHooks) ClientConnect(server *endpoint.ChanneledServer, peer *channel.Conn) {
	log.WithFields(log.Fields{
		"server": server,
		"peer":   peer,
		"peers":  server.Peers(),
	}).Info("Peer connected")
}

func (echoHooks) ClientDisconnect(server *endpoint.ChanneledServer, peer *channel.Conn) {
	log.WithFields(log.Fields{
		"server": server,
		"peer":   peer,
	}).Info("Peer disconnected")
}

func (echoHooks) ClientError(server *endpoint.ChanneledServer, peer *channel.Conn) {
	log.WithFields(log.Fields{
		"server": server,
		"peer":   peer,
	}).Warn("Peer errored")
}

func (echoHooks) ServerError(server *endpoint.ChanneledServer, err error) {
	log.WithFields(log.Fields{
		"server": server,
		"error":  err,
	}).Warn("Server errored")
}

func (echoHooks) ServerDisconnect(server *endpoint.ChanneledServer) {
	log.WithField("server", server).Warn("Listener was hung up")
}

// newDaemon creates, opens and starts the echo server and the status server.
func newDaemon(conf daemonConf) (d *daemon, err error) {
	reg := channel.NewRegistry()
	if err = demo.RegisterAll(reg); err != nil {
		return
	}

	d = &daemon{
		server:  endpoint.NewChanneledServer(conf.Server, reg, echoHooks{}),
		started: time.Now(),
	}

	if err = d.subscribe(); err != nil {
		return
	}

	if err = d.server.Open(); err != nil {
		return
	}
	if err = d.server.Serve(); err != nil {
		_ = d.server.Destroy()
		return
	}
	d.server.Start()

	log.WithField("address", d.server.Addr()).Info("Echo server is serving")

	if conf.StatusListen != "" {
		if err = d.startStatus(conf.StatusListen); err != nil {
			_ = d.server.Destroy()
			return
		}
	}

	return
}

func (d *daemon) subscribe() error {
	if _, err := subscription.Subscribe(d.server.Router(), func(peer *channel.Conn, ping *demo.Ping) {
		if err := peer.Send(demo.Pong{Seq: ping.Seq, Sent: ping.Sent}); err != nil {
			log.WithFields(log.Fields{
				"peer":  peer,
				"error": err,
			}).Warn("Sending pong failed")
		}
	}); err != nil {
		return err
	}

	if _, err := subscription.Subscribe(d.server.Router(), func(peer *channel.Conn, msg *demo.Message) {
		log.WithFields(log.Fields{
			"peer": peer,
			"a":    msg.A,
			"b":    msg.B,
		}).Debug("Received message")

		if err := peer.Send(demo.Answer(*msg)); err != nil {
			log.WithFields(log.Fields{
				"peer":  peer,
				"error": err,
			}).Warn("Sending answer failed")
		}
	}); err != nil {
		return err
	}

	return nil
}

// startStatus serves /status and /metrics on the address.
func (d *daemon) startStatus(address string) error {
	router := mux.NewRouter()
	router.HandleFunc("/status", d.handleStatus).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("status server: %w", err)
	}

	d.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := d.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("Status server errored")
		}
	}()

	log.WithField("address", ln.Addr()).Info("Status server is listening")
	return nil
}

func (d *daemon) status() statusResponse {
	resp := statusResponse{
		State:    d.server.State().String(),
		Peers:    d.server.Peers(),
		Channels: d.server.Registry().Len(),
		Uptime:   time.Since(d.started).Truncate(time.Second).String(),
	}
	if addr := d.server.Addr(); addr != nil {
		resp.Address = addr.String()
	}
	return resp
}

// handleStatus processes /status GET requests.
func (d *daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(d.status()); err != nil {
		log.WithError(err).Warn("Writing status response failed")
	}
}

// Close the status server and destroy the echo server.
func (d *daemon) Close() (err error) {
	if d.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if httpErr := d.httpServer.Shutdown(ctx); httpErr != nil {
			err = multierror.Append(err, httpErr)
		}
	}

	if srvErr := d.server.Destroy(); srvErr != nil {
		err = multierror.Append(err, srvErr)
	}

	return
}
