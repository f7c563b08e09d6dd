// Package transport drives the connection lifecycle of each session: dial,
// authenticate, open the file-transfer sub-channel, watch for loss, and tear
// everything down in order when the link dies or the caller disconnects.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/panemux/panemux/internal/events"
	"github.com/panemux/panemux/internal/logutil"
	"github.com/panemux/panemux/internal/remotefs"
	"github.com/panemux/panemux/internal/session"
)

// ErrNotConnected is returned when an operation needs a live transport and
// the session has none.
var ErrNotConnected = errors.New("transport: session not connected")

// ConnectError reports a failed connect attempt: network, handshake, auth,
// or sub-channel failure. The session is back at idle when it is returned.
type ConnectError struct {
	SessionID string
	Err       error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.SessionID, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// managedConn is one live transport with its file-transfer sub-channel.
type managedConn struct {
	client *ssh.Client
	sftpc  *sftp.Client
	remote *remotefs.Remote

	closeOnce sync.Once
}

// Supervisor owns at most one transport per session. It is the only
// component that moves sessions through their status lifecycle.
type Supervisor struct {
	registry *session.Registry
	bus      *events.Bus
	verifier Verifier
	hostKeys ssh.HostKeyCallback

	mu      sync.Mutex
	conns   map[string]*managedConn
	pending map[string]bool // connect attempts in flight

	hookMu       sync.Mutex
	onConnect    []func(sessionID string)
	onDisconnect []func(sessionID string)
}

// NewSupervisor wires a supervisor to the registry it reports status through
// and the bus it emits asynchronous failures on.
func NewSupervisor(registry *session.Registry, bus *events.Bus, verifier Verifier, hostKeys ssh.HostKeyCallback) *Supervisor {
	if verifier == nil {
		verifier = UnsupportedVerifier{}
	}
	if hostKeys == nil {
		hostKeys = ssh.InsecureIgnoreHostKey()
	}
	return &Supervisor{
		registry: registry,
		bus:      bus,
		verifier: verifier,
		hostKeys: hostKeys,
		conns:    make(map[string]*managedConn),
		pending:  make(map[string]bool),
	}
}

// OnConnect registers a hook run after a session reaches connected. Hooks
// run on their own goroutine and must tolerate the session disconnecting
// underneath them.
func (s *Supervisor) OnConnect(fn func(sessionID string)) {
	s.hookMu.Lock()
	s.onConnect = append(s.onConnect, fn)
	s.hookMu.Unlock()
}

// OnDisconnect registers a hook run during teardown, before the session
// returns to idle. The channel cascade is wired here.
func (s *Supervisor) OnDisconnect(fn func(sessionID string)) {
	s.hookMu.Lock()
	s.onDisconnect = append(s.onDisconnect, fn)
	s.hookMu.Unlock()
}

// Connect brings a session to connected. Calling it on an already-connected
// session is a no-op returning the same id. The attempt has no built-in
// timeout; cancel ctx to abandon it.
func (s *Supervisor) Connect(ctx context.Context, sessionID string) error {
	def, err := s.registry.Definition(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.conns[sessionID]; ok {
		s.mu.Unlock()
		return nil
	}
	if s.pending[sessionID] {
		s.mu.Unlock()
		return &ConnectError{SessionID: sessionID, Err: errors.New("connect already in progress")}
	}
	s.pending[sessionID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, sessionID)
		s.mu.Unlock()
	}()

	if err := s.registry.SetStatus(sessionID, session.StatusConnecting); err != nil {
		return err
	}
	fail := func(err error) error {
		if serr := s.registry.SetStatus(sessionID, session.StatusIdle); serr != nil {
			log.Printf("transport: reset status for %s: %v", sessionID, serr)
		}
		return err
	}

	// The identity gate runs before any network traffic.
	if def.RequiresStrongVerification {
		if err := s.verifier.Verify(ctx, sessionID); err != nil {
			return fail(err)
		}
	}

	auth, err := authMethods(def)
	if err != nil {
		return fail(&ConnectError{SessionID: sessionID, Err: err})
	}

	addr := net.JoinHostPort(def.HostAddress, strconv.Itoa(def.Port))
	cfg := &ssh.ClientConfig{
		User:            def.Username,
		Auth:            auth,
		HostKeyCallback: s.hostKeys,
	}

	var dialer net.Dialer
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fail(&ConnectError{SessionID: sessionID, Err: fmt.Errorf("dial %s: %w", addr, err)})
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return fail(&ConnectError{SessionID: sessionID, Err: fmt.Errorf("handshake with %s: %w", addr, err)})
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	// Connected means the file-transfer sub-channel is usable, so open it
	// before reporting success.
	sftpc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return fail(&ConnectError{SessionID: sessionID, Err: fmt.Errorf("open sftp sub-channel: %w", err)})
	}

	mc := &managedConn{
		client: client,
		sftpc:  sftpc,
		remote: remotefs.NewRemote(sftpc),
	}

	s.mu.Lock()
	s.conns[sessionID] = mc
	s.mu.Unlock()

	if err := s.registry.SetStatus(sessionID, session.StatusConnected); err != nil {
		log.Printf("transport: mark %s connected: %v", sessionID, err)
	}
	log.Printf("transport: connected to %s (%s)", logutil.SanitizeForLog(addr), sessionID)

	go s.watch(sessionID, mc)

	s.hookMu.Lock()
	hooks := make([]func(string), len(s.onConnect))
	copy(hooks, s.onConnect)
	s.hookMu.Unlock()
	go func() {
		for _, fn := range hooks {
			fn(sessionID)
		}
	}()

	return nil
}

// authMethods builds the client auth chain from stored material: private key
// (optionally passphrase-protected), password, and an interactive fallback
// that answers password-shaped prompts from the stored password.
func authMethods(def session.HostDefinition) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if def.PrivateKeyPath != "" {
		pemBytes, err := os.ReadFile(def.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key %s: %w", def.PrivateKeyPath, err)
		}
		var signer ssh.Signer
		if def.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(def.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pemBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", def.PrivateKeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if def.Password != "" {
		password := def.Password
		methods = append(methods, ssh.Password(password))
		methods = append(methods, ssh.KeyboardInteractive(
			func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i, q := range questions {
					if strings.Contains(strings.ToLower(q), "password") {
						answers[i] = password
					}
				}
				return answers, nil
			}))
	}

	if len(methods) == 0 {
		return nil, errors.New("no auth material stored for host")
	}
	return methods, nil
}

// watch blocks until the transport dies on its own and then runs the async
// teardown path.
func (s *Supervisor) watch(sessionID string, mc *managedConn) {
	err := mc.client.Wait()
	reason := "connection closed by remote"
	if err != nil {
		reason = err.Error()
	}
	s.teardown(sessionID, mc, reason)
}

// teardown closes one transport exactly once: channel cascade first, then
// the sub-channel and transport, then status back to idle. An async loss
// additionally surfaces an internal.error event, since the connect call that
// created the transport resolved long ago. reason == "" marks a deliberate
// local disconnect.
func (s *Supervisor) teardown(sessionID string, mc *managedConn, reason string) {
	mc.closeOnce.Do(func() {
		s.hookMu.Lock()
		hooks := make([]func(string), len(s.onDisconnect))
		copy(hooks, s.onDisconnect)
		s.hookMu.Unlock()
		for _, fn := range hooks {
			fn(sessionID)
		}

		mc.remote.Close()
		mc.sftpc.Close()
		mc.client.Close()

		s.mu.Lock()
		if s.conns[sessionID] == mc {
			delete(s.conns, sessionID)
		}
		s.mu.Unlock()

		if err := s.registry.SetStatus(sessionID, session.StatusIdle); err != nil {
			log.Printf("transport: reset status for %s: %v", sessionID, err)
		}

		if reason != "" {
			log.Printf("transport: session %s lost: %s", sessionID, logutil.SanitizeForLog(reason))
			s.bus.Publish(events.TypeInternalError, events.ErrorPayload{
				Reason:      "disconnected",
				Description: fmt.Sprintf("session %s: %s", sessionID, reason),
			})
		}
	})
}

// Disconnect closes a session's transport deliberately. Channels cascade and
// the session returns to idle before the call returns.
func (s *Supervisor) Disconnect(sessionID string) error {
	s.mu.Lock()
	mc, ok := s.conns[sessionID]
	s.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	s.teardown(sessionID, mc, "")
	return nil
}

// Client hands the live transport to the channel multiplexer.
func (s *Supervisor) Client(sessionID string) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.conns[sessionID]
	if !ok {
		return nil, ErrNotConnected
	}
	return mc.client, nil
}

// Remote returns the session's filesystem adapter.
func (s *Supervisor) Remote(sessionID string) (remotefs.Filesystem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.conns[sessionID]
	if !ok {
		return nil, ErrNotConnected
	}
	return mc.remote, nil
}

// Connected reports whether a live transport exists for the session.
func (s *Supervisor) Connected(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[sessionID]
	return ok
}

// KeepaliveSweep probes every live transport. A failed probe is treated as a
// dead link and torn down; the probe's round trip also refreshes NAT state.
func (s *Supervisor) KeepaliveSweep() {
	s.mu.Lock()
	conns := make(map[string]*managedConn, len(s.conns))
	for id, mc := range s.conns {
		conns[id] = mc
	}
	s.mu.Unlock()

	for id, mc := range conns {
		if _, _, err := mc.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			log.Printf("transport: keepalive for %s failed: %v", id, err)
			s.teardown(id, mc, fmt.Sprintf("keepalive failed: %v", err))
		}
	}
}

// CloseAll tears down every transport. Used during shutdown.
func (s *Supervisor) CloseAll() {
	s.mu.Lock()
	conns := make(map[string]*managedConn, len(s.conns))
	for id, mc := range s.conns {
		conns[id] = mc
	}
	s.mu.Unlock()

	for id, mc := range conns {
		s.teardown(id, mc, "")
	}
	log.Printf("transport: all connections closed (%d total)", len(conns))
}
