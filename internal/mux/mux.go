// Package mux owns the interactive command channels of connected sessions.
// Each channel is a PTY-backed shell on the session's transport; inbound
// bytes accumulate into a per-channel transcript and fan out as live output
// events, outbound command text is written straight into the shell's stdin.
package mux

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/panemux/panemux/internal/events"
	"github.com/panemux/panemux/internal/store"
)

// ErrUnknownChannel is returned for operations addressing a channel id that
// is not open on the named session.
var ErrUnknownChannel = errors.New("mux: unknown channel")

// Output targets carried on channel.output events. Both streams accumulate
// into the same transcript.
const (
	TargetStdout = "stdout"
	TargetStderr = "stderr"
)

// ClientProvider hands out the live transport of a connected session. The
// transport layer implements it; an error means the session is not connected
// and is propagated to the caller unchanged.
type ClientProvider interface {
	Client(sessionID string) (*ssh.Client, error)
}

// channel is one open interactive shell.
type channel struct {
	id        string
	sessionID string

	sess       *ssh.Session
	stdin      io.WriteCloser
	transcript *Transcript

	closeOnce sync.Once
}

// Info describes an open channel to callers.
type Info struct {
	ChannelID     string `json:"channelId"`
	SessionID     string `json:"sessionId"`
	TranscriptLen int    `json:"transcriptLen"`
}

// Multiplexer tracks every open channel across all sessions.
type Multiplexer struct {
	provider        ClientProvider
	bus             *events.Bus
	transcriptLimit int

	mu        sync.Mutex
	channels  map[string]*channel            // by channel id
	bySession map[string]map[string]*channel // session id -> channel id -> channel
}

// New creates a multiplexer. transcriptLimit of 0 keeps full history.
func New(provider ClientProvider, bus *events.Bus, transcriptLimit int) *Multiplexer {
	return &Multiplexer{
		provider:        provider,
		bus:             bus,
		transcriptLimit: transcriptLimit,
		channels:        make(map[string]*channel),
		bySession:       make(map[string]map[string]*channel),
	}
}

// CreateChannel opens a new PTY shell on the session's transport. On success
// the fresh channel id is returned and a channel.created event fires; on
// failure no event is emitted. Channel ids are never reused.
func (m *Multiplexer) CreateChannel(sessionID string) (string, error) {
	client, err := m.provider.Client(sessionID)
	if err != nil {
		return "", err
	}

	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("mux: open channel: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", 24, 80, modes); err != nil {
		sess.Close()
		return "", fmt.Errorf("mux: request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return "", fmt.Errorf("mux: stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return "", fmt.Errorf("mux: stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		return "", fmt.Errorf("mux: stderr pipe: %w", err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return "", fmt.Errorf("mux: start shell: %w", err)
	}

	ch := &channel{
		id:         store.NewKey(),
		sessionID:  sessionID,
		sess:       sess,
		stdin:      stdin,
		transcript: NewTranscript(m.transcriptLimit),
	}

	m.mu.Lock()
	m.channels[ch.id] = ch
	if m.bySession[sessionID] == nil {
		m.bySession[sessionID] = make(map[string]*channel)
	}
	m.bySession[sessionID][ch.id] = ch
	m.mu.Unlock()

	m.bus.Publish(events.TypeChannelCreated, map[string]string{
		"channelId": ch.id,
		"sessionId": sessionID,
	})

	// The stdout reader owns channel lifetime: when the stream ends, locally
	// or remotely, it tears the channel down.
	go func() {
		m.relay(ch, stdout, TargetStdout)
		m.teardown(ch)
	}()
	go m.relay(ch, stderr, TargetStderr)

	return ch.id, nil
}

// relay pumps one stream into the transcript, emitting a live output event
// per chunk. Append holds the transcript lock across the publish so snapshot
// and stream stay consistent.
func (m *Multiplexer) relay(ch *channel, r io.Reader, target string) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := string(buf[:n])
			ch.transcript.Append(buf[:n], func(seq uint64) {
				m.bus.Publish(events.TypeChannelOutput, events.OutputPayload{
					ChannelID: ch.id,
					Target:    target,
					Data:      data,
					Seq:       seq,
				})
			})
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("mux: channel %s %s stream: %v", ch.id, target, err)
			}
			return
		}
	}
}

// teardown removes the channel and emits channel.destroyed exactly once, no
// matter how many paths race to close it.
func (m *Multiplexer) teardown(ch *channel) {
	ch.closeOnce.Do(func() {
		ch.stdin.Close()
		ch.sess.Close()

		m.mu.Lock()
		delete(m.channels, ch.id)
		if sess := m.bySession[ch.sessionID]; sess != nil {
			delete(sess, ch.id)
			if len(sess) == 0 {
				delete(m.bySession, ch.sessionID)
			}
		}
		m.mu.Unlock()

		m.bus.Publish(events.TypeChannelDestroyed, map[string]string{
			"channelId": ch.id,
			"sessionId": ch.sessionID,
		})
	})
}

// lookup finds a channel open on the named session.
func (m *Multiplexer) lookup(sessionID, channelID string) (*channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok || ch.sessionID != sessionID {
		return nil, ErrUnknownChannel
	}
	return ch, nil
}

// Send writes command text, newline-terminated, into the channel's stdin.
// This is the only execution path; commands never spawn a side channel.
func (m *Multiplexer) Send(sessionID, channelID, text string) error {
	ch, err := m.lookup(sessionID, channelID)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(ch.stdin, text+"\n"); err != nil {
		return fmt.Errorf("mux: write to channel %s: %w", channelID, err)
	}
	return nil
}

// Destroy closes a channel. Safe to call while the stream is already
// collapsing; exactly one channel.destroyed event results either way.
func (m *Multiplexer) Destroy(sessionID, channelID string) error {
	ch, err := m.lookup(sessionID, channelID)
	if err != nil {
		return err
	}
	m.teardown(ch)
	return nil
}

// Transcript returns a channel's accumulated output and the sequence number
// of the last chunk included, for de-duplicating against live events.
func (m *Multiplexer) Transcript(sessionID, channelID string) (string, uint64, error) {
	ch, err := m.lookup(sessionID, channelID)
	if err != nil {
		return "", 0, err
	}
	text, seq := ch.transcript.Snapshot()
	return text, seq, nil
}

// List returns the open channels of one session.
func (m *Multiplexer) List(sessionID string) []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.bySession[sessionID]))
	for _, ch := range m.bySession[sessionID] {
		infos = append(infos, Info{
			ChannelID:     ch.id,
			SessionID:     ch.sessionID,
			TranscriptLen: ch.transcript.Len(),
		})
	}
	return infos
}

// CloseAllForSession force-destroys every channel of a session, emitting one
// channel.destroyed per channel. Used for transport loss and session removal.
func (m *Multiplexer) CloseAllForSession(sessionID string) {
	m.mu.Lock()
	chans := make([]*channel, 0, len(m.bySession[sessionID]))
	for _, ch := range m.bySession[sessionID] {
		chans = append(chans, ch)
	}
	m.mu.Unlock()

	for _, ch := range chans {
		m.teardown(ch)
	}
}
