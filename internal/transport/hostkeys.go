package transport

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyCallback builds the server-key verification policy. With a
// known_hosts file configured, unknown or changed keys are rejected. Without
// one, any key is accepted, which is logged loudly once at startup.
func HostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		log.Printf("transport: no known_hosts file configured, accepting any host key")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if _, err := os.Stat(knownHostsFile); err != nil {
		return nil, fmt.Errorf("transport: known_hosts file %s: %w", knownHostsFile, err)
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("transport: parse known_hosts %s: %w", knownHostsFile, err)
	}
	return cb, nil
}
