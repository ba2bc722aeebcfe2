// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/sunnet-go/sunnet/pkg/metrics"
	"github.com/sunnet-go/sunnet/pkg/poll"
	"github.com/sunnet-go/sunnet/pkg/sock"
)

// DefaultBacklog is used for non-positive ServerConfig.Backlog values.
const DefaultBacklog = 5

var (
	// ErrListenerState is handed to the ServerError hook for a listener in an
	// error state.
	ErrListenerState = errors.New("listener is in an error state")

	// ErrUnknownPeer is returned by DropPeer for untracked peers.
	ErrUnknownPeer = errors.New("unknown peer")
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Sock configures the listener.
	Sock sock.Config

	// Address and Port to bind to. For unix sockets, the Address is the path
	// and the Port is ignored.
	Address string
	Port    string

	// Backlog of pending connections.
	Backlog int

	// PollTimeout is the maximum duration of a single Poll.
	PollTimeout time.Duration
}

// Server accepts peers on a listener and polls all of them together.
type Server struct {
	config ServerConfig
	hooks  ServerHooks
	poller *poll.Service
	loop   *loop

	mutex    sync.Mutex
	state    ServerState
	listener sock.Connection
	peers    map[sock.Connection]struct{}

	// released is called for each peer after it was untracked and closed.
	released func(peer sock.Connection)

	// pollGate is held during each Poll, letting Destroy wait for it.
	pollGate sync.Mutex
}

// NewServer creates a Server in the ServerClosed state.
func NewServer(config ServerConfig, hooks ServerHooks) *Server {
	if config.Backlog <= 0 {
		config.Backlog = DefaultBacklog
	}
	if hooks == nil {
		hooks = BaseServerHooks{}
	}

	return &Server{
		config: config,
		hooks:  hooks,
		poller: poll.NewService(config.PollTimeout),
		loop:   newLoop(),
		state:  ServerClosed,
		peers:  make(map[sock.Connection]struct{}),
	}
}

// State returns the Server's current state.
func (s *Server) State() ServerState {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.state
}

// Addr returns the listener's address or nil, if not opened.
func (s *Server) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.LocalAddr()
}

// Peers returns the amount of tracked peers.
func (s *Server) Peers() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.peers)
}

// Open binds and starts listening. This is only permitted in the ServerClosed
// state, which is kept on failure.
func (s *Server) Open() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state != ServerClosed {
		return &StateError{Operation: "open", State: s.state}
	}

	listener, err := sock.New(s.config.Sock)
	if err != nil {
		return err
	}

	if err := s.openListener(listener); err != nil {
		_ = listener.Close()
		return err
	}

	s.listener = listener
	s.state = ServerOpen

	log.WithFields(log.Fields{
		"server":  s.stringUnlocked(),
		"backlog": s.config.Backlog,
	}).Debug("Server opened")

	return nil
}

func (s *Server) openListener(listener sock.Connection) error {
	if err := listener.Bind(s.config.Address, s.config.Port); err != nil {
		return err
	}
	if err := listener.Listen(s.config.Backlog); err != nil {
		return err
	}
	return s.poller.Add(listener)
}

// Serve starts accepting and polling peers. This is only permitted in the
// ServerOpen state.
func (s *Server) Serve() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state != ServerOpen {
		return &StateError{Operation: "serve", State: s.state}
	}
	s.state = ServerServe

	log.WithField("server", s.stringUnlocked()).Debug("Server serves")
	return nil
}

// Close releases the listener and all peers and returns to the ServerClosed
// state. Closing a closed Server is permitted.
func (s *Server) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch s.state {
	case ServerServe, ServerOpen, ServerClosed:
	default:
		return &StateError{Operation: "close", State: s.state}
	}

	released, err := s.release()
	s.state = ServerClosed
	s.notifyReleased(released)

	log.WithField("server", s.stringUnlocked()).Debug("Server closed")
	return err
}

// release the listener and all peers; the mutex must be held. The released
// peers are returned for notifyReleased.
func (s *Server) release() (peers []sock.Connection, err error) {
	s.poller.Clear()

	if s.listener != nil {
		if lErr := s.listener.Close(); lErr != nil {
			err = multierror.Append(err, fmt.Errorf("close listener: %w", lErr))
		}
		s.listener = nil
	}

	for peer := range s.peers {
		if pErr := peer.Close(); pErr != nil {
			err = multierror.Append(err, fmt.Errorf("close peer %v: %w", peer.RemoteAddr(), pErr))
		}
		peers = append(peers, peer)
	}
	s.peers = make(map[sock.Connection]struct{})

	return
}

func (s *Server) notifyReleased(peers []sock.Connection) {
	if s.released == nil {
		return
	}
	for _, peer := range peers {
		s.released(peer)
	}
}

// untrack removes a peer from the tracked set and reports if it was tracked.
func (s *Server) untrack(peer sock.Connection) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.peers[peer]; !ok {
		return false
	}

	delete(s.peers, peer)
	s.poller.Remove(peer)
	return true
}

// closePeer closes an untracked peer.
func (s *Server) closePeer(peer sock.Connection) error {
	err := peer.Close()
	if err != nil {
		log.WithFields(log.Fields{
			"server": s,
			"peer":   peer.RemoteAddr(),
			"error":  err,
		}).Warn("Closing peer errored")
	}

	if s.released != nil {
		s.released(peer)
	}
	return err
}

// DropPeer untracks and closes a peer.
func (s *Server) DropPeer(peer sock.Connection) error {
	if !s.untrack(peer) {
		return fmt.Errorf("drop peer: %w", ErrUnknownPeer)
	}

	log.WithFields(log.Fields{
		"server": s,
		"peer":   peer.RemoteAddr(),
	}).Debug("Dropping peer")

	return s.closePeer(peer)
}

// checkpoint reports if Poll might still call hooks.
func (s *Server) checkpoint() bool {
	return s.State() == ServerServe
}

// Poll waits up to the configured timeout for the listener and all peers and
// calls the matching hooks. It reports if a wait happened, which requires the
// ServerServe state.
func (s *Server) Poll() (bool, error) {
	s.pollGate.Lock()
	defer s.pollGate.Unlock()

	s.mutex.Lock()
	if s.state != ServerServe {
		s.mutex.Unlock()
		return false, nil
	}
	listener := s.listener
	s.mutex.Unlock()

	results, err := s.poller.Poll()
	if err != nil {
		return true, err
	}

	if len(results) == 0 {
		metrics.PollTimeouts.Inc()

		if s.checkpoint() {
			s.hooks.PollTimeout(s)
		}
		return true, nil
	}

	for _, result := range results {
		if !s.checkpoint() {
			return true, nil
		}

		if result.Conn == listener {
			s.handleListener(listener, result.Status)
			continue
		}

		if err := s.handlePeer(result.Conn, result.Status); err != nil {
			return true, err
		}
	}

	return true, nil
}

func (s *Server) handleListener(listener sock.Connection, status poll.Status) {
	switch status {
	case poll.Error:
		s.hooks.ServerError(s, ErrListenerState)

	case poll.Disconnect:
		s.hooks.ServerDisconnect(s)

	case poll.Normal:
		s.accept(listener)
	}
}

func (s *Server) accept(listener sock.Connection) {
	peer, err := listener.Accept()
	if err != nil {
		s.hooks.ServerError(s, fmt.Errorf("accept: %w", err))
		return
	}

	if err := s.poller.Add(peer); err != nil {
		_ = peer.Close()
		s.hooks.ServerError(s, fmt.Errorf("accept: %w", err))
		return
	}

	s.mutex.Lock()
	if s.state != ServerServe {
		s.mutex.Unlock()
		s.poller.Remove(peer)
		_ = peer.Close()
		return
	}
	s.peers[peer] = struct{}{}
	s.mutex.Unlock()

	metrics.ConnectionsAccepted.Inc()

	log.WithFields(log.Fields{
		"server": s,
		"peer":   peer.RemoteAddr(),
	}).Debug("Server accepted peer")

	s.hooks.ClientConnect(s, peer)
}

func (s *Server) handlePeer(peer sock.Connection, status poll.Status) error {
	s.mutex.Lock()
	_, tracked := s.peers[peer]
	s.mutex.Unlock()

	if !tracked {
		// Peers dropped by an earlier hook of this Poll are skipped.
		if s.poller.Contains(peer) {
			fd, _ := peer.Fd()
			return &poll.UntrackedHandleError{Fd: fd}
		}
		return nil
	}

	switch status {
	case poll.Error:
		if s.untrack(peer) {
			metrics.ConnectionsLost.WithLabelValues("error").Inc()
			s.hooks.ClientError(s, peer)
			_ = s.closePeer(peer)
		}

	case poll.Disconnect:
		if s.untrack(peer) {
			metrics.ConnectionsLost.WithLabelValues("disconnect").Inc()

			log.WithFields(log.Fields{
				"server": s,
				"peer":   peer.RemoteAddr(),
			}).Debug("Peer disconnected")

			s.hooks.ClientDisconnect(s, peer)
			_ = s.closePeer(peer)
		}

	case poll.Normal:
		return s.hooks.ReadyToRead(s, peer)
	}

	return nil
}

// Start a goroutine calling Poll until Destroy. Failed polls are handed to
// the PollError hook.
func (s *Server) Start() {
	s.loop.start(log.Fields{"server": s}, s.poller.Timeout(), s.Poll, func(err error) {
		if s.State() != ServerDestructing {
			s.hooks.PollError(s, err)
		}
	})
}

// Destroy destructs this Server. The polling goroutine and any running Poll
// are waited for before the listener and all peers are released. Afterwards,
// the Server cannot be used anymore. Destroy must not be called from a hook.
func (s *Server) Destroy() error {
	s.mutex.Lock()
	if s.state == ServerDestructing {
		s.mutex.Unlock()
		return nil
	}
	s.state = ServerDestructing
	s.mutex.Unlock()

	s.loop.stop()

	s.pollGate.Lock()
	defer s.pollGate.Unlock()

	s.mutex.Lock()
	released, err := s.release()
	s.mutex.Unlock()

	s.notifyReleased(released)

	if err != nil {
		log.WithFields(log.Fields{
			"server": s,
			"error":  err,
		}).Warn("Releasing the server during destruction errored")
		return err
	}

	log.WithField("server", s).Debug("Server destructed")
	return nil
}

func (s *Server) stringUnlocked() string {
	if s.listener == nil {
		return fmt.Sprintf("server(%v)", s.state)
	}
	return fmt.Sprintf("server(%v, %v)", s.state, s.listener.LocalAddr())
}

func (s *Server) String() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.stringUnlocked()
}
