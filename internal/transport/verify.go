package transport

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrVerificationFailed means the local identity check gating a connect was
// declined or is unavailable on this platform. The remote host is never
// contacted when this fires.
var ErrVerificationFailed = errors.New("transport: local identity verification failed")

// Verifier performs the extra local identity check for host definitions that
// request strong verification.
type Verifier interface {
	// Verify blocks until the local user proved their identity or the check
	// failed. A nil error means proceed.
	Verify(ctx context.Context, sessionID string) error
}

// UnsupportedVerifier is the default on platforms without an identity
// prompt. Any host requiring strong verification fails closed.
type UnsupportedVerifier struct{}

func (UnsupportedVerifier) Verify(context.Context, string) error {
	return fmt.Errorf("%w: no verification mechanism on this platform", ErrVerificationFailed)
}

// commandVerifierTimeout bounds how long an external prompt may hang.
const commandVerifierTimeout = 2 * time.Minute

// CommandVerifier delegates the identity check to an external program, for
// example a PAM or desktop-prompt wrapper. Exit status zero means verified.
type CommandVerifier struct {
	Command string
}

func (v CommandVerifier) Verify(ctx context.Context, sessionID string) error {
	if v.Command == "" {
		return fmt.Errorf("%w: no verification command configured", ErrVerificationFailed)
	}
	ctx, cancel := context.WithTimeout(ctx, commandVerifierTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, v.Command, sessionID)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return nil
}
