// Package sshtest runs a minimal in-process SSH server for integration
// tests: password, public-key and keyboard-interactive auth, PTY shell
// sessions that echo their input, exec requests, and an sftp subsystem
// backed by the real filesystem.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Options tunes server behavior for one test.
type Options struct {
	User     string
	Password string

	// KeyboardInteractiveOnly disables plain password auth so clients must
	// answer the challenge prompt.
	KeyboardInteractiveOnly bool

	// AuthorizedKey, when set, is accepted for public-key auth.
	AuthorizedKey ssh.PublicKey
}

// Server is a running test SSH server. It shuts down via tb.Cleanup.
type Server struct {
	Addr string
	Host string
	Port int
}

// Start listens on a random loopback port and serves until test cleanup.
func Start(tb testing.TB, opts Options) *Server {
	tb.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		tb.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		tb.Fatalf("host signer: %v", err)
	}

	cfg := &ssh.ServerConfig{}
	cfg.AddHostKey(hostSigner)

	checkUser := func(conn ssh.ConnMetadata) error {
		if opts.User != "" && conn.User() != opts.User {
			return fmt.Errorf("unknown user %q", conn.User())
		}
		return nil
	}

	if opts.Password != "" && !opts.KeyboardInteractiveOnly {
		cfg.PasswordCallback = func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if err := checkUser(conn); err != nil {
				return nil, err
			}
			if string(password) != opts.Password {
				return nil, fmt.Errorf("wrong password")
			}
			return &ssh.Permissions{}, nil
		}
	}
	if opts.Password != "" {
		cfg.KeyboardInteractiveCallback = func(conn ssh.ConnMetadata, client ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			if err := checkUser(conn); err != nil {
				return nil, err
			}
			answers, err := client("", "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) != 1 || answers[0] != opts.Password {
				return nil, fmt.Errorf("wrong challenge answer")
			}
			return &ssh.Permissions{}, nil
		}
	}
	if opts.AuthorizedKey != nil {
		authorized := ssh.FingerprintSHA256(opts.AuthorizedKey)
		cfg.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if err := checkUser(conn); err != nil {
				return nil, err
			}
			if ssh.FingerprintSHA256(key) != authorized {
				return nil, fmt.Errorf("unknown public key")
			}
			return &ssh.Permissions{}, nil
		}
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			go handleConn(netConn, cfg)
		}
	}()
	tb.Cleanup(func() {
		listener.Close()
		<-done
	})

	addr := listener.Addr().(*net.TCPAddr)
	return &Server{
		Addr: addr.String(),
		Host: addr.IP.String(),
		Port: addr.Port,
	}
}

func handleConn(netConn net.Conn, cfg *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, cfg)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	// Global requests (keepalives) just get acknowledged.
	go func() {
		for req := range reqs {
			if req.WantReply {
				req.Reply(true, nil)
			}
		}
	}()

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go handleSession(ch, requests)
	}
}

// handleSession answers pty-req and shell requests, echoes shell input back,
// serves exec with a canned reply, and runs the sftp subsystem on demand.
func handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			go echoLoop(ch)
		case "exec":
			if req.WantReply {
				req.Reply(true, nil)
			}
			ch.Write([]byte("exec ok\n"))
			ch.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
			return
		case "subsystem":
			// Payload is a length-prefixed subsystem name.
			if len(req.Payload) >= 4 && string(req.Payload[4:]) == "sftp" {
				if req.WantReply {
					req.Reply(true, nil)
				}
				server, err := sftp.NewServer(ch)
				if err != nil {
					return
				}
				server.Serve()
				return
			}
			if req.WantReply {
				req.Reply(false, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// echoLoop imitates a PTY shell closely enough for tests: every byte written
// to the channel comes straight back.
func echoLoop(ch ssh.Channel) {
	buf := make([]byte, 1024)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			if _, werr := ch.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// GenerateClientKey returns a PEM private key and its public half for
// public-key auth tests.
func GenerateClientKey(tb testing.TB) (pemBytes []byte, pub ssh.PublicKey) {
	tb.Helper()
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		tb.Fatalf("generate client key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		tb.Fatalf("marshal client key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		tb.Fatalf("client public key: %v", err)
	}
	return pem.EncodeToMemory(block), sshPub
}
