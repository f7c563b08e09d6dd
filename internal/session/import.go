package session

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// ImportSSHConfig reads an OpenSSH client configuration and adds one host
// definition per concrete Host alias. Wildcard patterns are skipped, as are
// aliases whose resolved (address, port, user) already exists in the
// registry. Returns the aliases that were imported.
func (r *Registry) ImportSSHConfig(src io.Reader) ([]string, error) {
	cfg, err := ssh_config.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("session: parse ssh config: %w", err)
	}

	var imported []string
	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			alias := pattern.String()
			if alias == "" || strings.ContainsAny(alias, "*?!") {
				continue
			}

			hostName, _ := cfg.Get(alias, "HostName")
			if hostName == "" {
				hostName = alias
			}
			username, _ := cfg.Get(alias, "User")
			if username == "" {
				if u, err := user.Current(); err == nil {
					username = u.Username
				}
			}
			port := DefaultPort
			if portStr, _ := cfg.Get(alias, "Port"); portStr != "" {
				if p, err := strconv.Atoi(portStr); err == nil {
					port = p
				}
			}
			identityFile, _ := cfg.Get(alias, "IdentityFile")
			if strings.HasPrefix(identityFile, "~/") {
				identityFile = filepath.Join(os.Getenv("HOME"), identityFile[2:])
			}

			if _, dup := r.FindDuplicate(hostName, port, username); dup {
				continue
			}
			if _, err := r.Add(HostDefinition{
				HostAddress:    hostName,
				Username:       username,
				Port:           port,
				Alias:          alias,
				PrivateKeyPath: identityFile,
			}); err != nil {
				return imported, err
			}
			imported = append(imported, alias)
		}
	}
	return imported, nil
}
