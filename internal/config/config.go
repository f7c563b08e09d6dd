package config

import (
	"log"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Settings holds the daemon configuration. Values come from built-in
// defaults, then an optional YAML config file, then PANEMUX_* environment
// variables; later sources win.
type Settings struct {
	DataPath   string `envconfig:"DATA_PATH" yaml:"data_path"`
	ListenAddr string `envconfig:"LISTEN_ADDR" yaml:"listen_addr"`
	LogPath    string `envconfig:"LOG_PATH" yaml:"log_path"`

	// Credential store settings. An empty passphrase stores host definitions
	// and snippets as plain serialized data.
	HostsFile       string `envconfig:"HOSTS_FILE" yaml:"hosts_file"`
	SnippetsFile    string `envconfig:"SNIPPETS_FILE" yaml:"snippets_file"`
	StorePassphrase string `envconfig:"STORE_PASSPHRASE" yaml:"store_passphrase"`

	// Transport settings. An empty KnownHostsFile disables strict host key
	// checking; any key presented by the remote is accepted.
	KnownHostsFile  string `envconfig:"KNOWN_HOSTS_FILE" yaml:"known_hosts_file"`
	KeepaliveSpec   string `envconfig:"KEEPALIVE_SPEC" yaml:"keepalive_spec"`
	TranscriptLimit int    `envconfig:"TRANSCRIPT_LIMIT" yaml:"transcript_limit"`
	StrongVerifyCmd string `envconfig:"STRONG_VERIFY_CMD" yaml:"strong_verify_cmd"`

	// Audit trail settings.
	AuditDBFile        string `envconfig:"AUDIT_DB_FILE" yaml:"audit_db_file"`
	AuditRetentionDays int    `envconfig:"AUDIT_RETENTION_DAYS" yaml:"audit_retention_days"`
	AuditPurgeSpec     string `envconfig:"AUDIT_PURGE_SPEC" yaml:"audit_purge_spec"`
}

var Cfg Settings

func defaults() Settings {
	return Settings{
		DataPath:           "data",
		ListenAddr:         ":8420",
		HostsFile:          "hosts.dat",
		SnippetsFile:       "snippets.dat",
		KeepaliveSpec:      "@every 30s",
		AuditDBFile:        "audit.db",
		AuditRetentionDays: 90,
		AuditPurgeSpec:     "@daily",
	}
}

// Load populates Cfg. The config file path comes from PANEMUX_CONFIG; a
// missing file is not an error, an unreadable or malformed one is fatal.
func Load() {
	Cfg = defaults()

	if path := os.Getenv("PANEMUX_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			log.Fatalf("failed to read config file %s: %v", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &Cfg); err != nil {
				log.Fatalf("failed to parse config file %s: %v", path, err)
			}
		}
	}

	if err := envconfig.Process("PANEMUX", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// HostsPath returns the absolute path of the host-definition store file.
func (s Settings) HostsPath() string { return filepath.Join(s.DataPath, s.HostsFile) }

// SnippetsPath returns the absolute path of the snippet store file.
func (s Settings) SnippetsPath() string { return filepath.Join(s.DataPath, s.SnippetsFile) }

// AuditDBPath returns the absolute path of the audit database file.
func (s Settings) AuditDBPath() string { return filepath.Join(s.DataPath, s.AuditDBFile) }
