// Package session keeps the authoritative table of known hosts and their
// live connection state. Durable host definitions live in the credential
// store; connection status and open channel ownership are process-local.
package session

import (
	"encoding/json"
	"fmt"
)

// Status describes where a session is in its connection lifecycle.
type Status int

const (
	// StatusIdle means no transport exists for the session.
	StatusIdle Status = iota
	// StatusConnecting means a connect attempt is in flight.
	StatusConnecting
	// StatusConnected means the transport is authenticated and the
	// filesystem sub-channel is open.
	StatusConnected
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalJSON serializes the status as its string name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// HostDefinition is the durable record describing how to reach and
// authenticate to one remote host. Stored encrypted; never returned to
// callers directly (see View).
type HostDefinition struct {
	ID          string `json:"id"`
	HostAddress string `json:"hostAddress"`
	Username    string `json:"username"`
	Port        int    `json:"port"`
	Alias       string `json:"alias,omitempty"`

	Password       string `json:"password,omitempty"`
	PrivateKeyPath string `json:"privateKeyPath,omitempty"`
	Passphrase     string `json:"passphrase,omitempty"`

	RequiresStrongVerification bool `json:"requiresStrongVerification,omitempty"`
}

// DefaultPort is used when a host definition omits the port.
const DefaultPort = 22

// normalize fills defaults on a definition before storing it.
func (h *HostDefinition) normalize() {
	if h.Port == 0 {
		h.Port = DefaultPort
	}
}

// View is the caller-facing projection of a host definition. It carries the
// current status and never any secret material.
type View struct {
	ID          string `json:"id"`
	HostAddress string `json:"hostAddress"`
	Username    string `json:"username"`
	Port        int    `json:"port"`
	Alias       string `json:"alias,omitempty"`

	RequiresStrongVerification bool `json:"requiresStrongVerification,omitempty"`

	Status Status `json:"status"`
}

// view builds the secret-free projection.
func (h *HostDefinition) view(status Status) View {
	return View{
		ID:                         h.ID,
		HostAddress:                h.HostAddress,
		Username:                   h.Username,
		Port:                       h.Port,
		Alias:                      h.Alias,
		RequiresStrongVerification: h.RequiresStrongVerification,
		Status:                     status,
	}
}

// Patch carries the fields accepted by Update, credentials included so a
// changed password or key can be rotated in place. Nil pointer fields are
// left unchanged.
type Patch struct {
	HostAddress *string `json:"hostAddress,omitempty"`
	Username    *string `json:"username,omitempty"`
	Port        *int    `json:"port,omitempty"`
	Alias       *string `json:"alias,omitempty"`

	Password       *string `json:"password,omitempty"`
	PrivateKeyPath *string `json:"privateKeyPath,omitempty"`
	Passphrase     *string `json:"passphrase,omitempty"`

	RequiresStrongVerification *bool `json:"requiresStrongVerification,omitempty"`
}
