package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings is the process configuration, read from HOPSHELL_* environment
// variables.
type Settings struct {
	DataPath string `envconfig:"DATA_PATH" default:"~/.hopshell"`
	LogPath  string `envconfig:"LOG_PATH" default:""`

	// Hop chain. HopsFile, when set, replaces the default chain built from
	// JumpHost, InternalHost and ServiceAccount.
	HopsFile       string `envconfig:"HOPS_FILE" default:""`
	JumpHost       string `envconfig:"JUMP_HOST" default:"usejump"`
	InternalHost   string `envconfig:"INTERNAL_HOST" default:"10.0.34.231"`
	ServiceAccount string `envconfig:"SERVICE_ACCOUNT" default:"solutions01-prod-us-east-1-eks"`
	Namespace      string `envconfig:"NAMESPACE" default:"argo"`

	// SSH client settings
	SSHConfigPath   string        `envconfig:"SSH_CONFIG_PATH" default:"~/.ssh/config"`
	IdentityFiles   []string      `envconfig:"IDENTITY_FILES" default:""`
	AgentSocket     string        `envconfig:"AGENT_SOCKET" default:""`
	StrictHostKeys  bool          `envconfig:"STRICT_HOST_KEY_CHECKING" default:"false"`
	KnownHostsFiles []string      `envconfig:"KNOWN_HOSTS_FILES" default:"~/.ssh/known_hosts"`
	HostFingerprint string        `envconfig:"HOST_FINGERPRINT" default:""`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"15s"`
	KeepAlive       time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"30s"`

	// Session timing
	HopTimeout      time.Duration `envconfig:"HOP_TIMEOUT" default:"10s"`
	CommandTimeout  time.Duration `envconfig:"COMMAND_TIMEOUT" default:"30s"`
	CancelTimeout   time.Duration `envconfig:"CANCEL_TIMEOUT" default:"5s"`
	QuietInterval   time.Duration `envconfig:"QUIET_INTERVAL" default:"250ms"`
	DisableHopRetry bool          `envconfig:"DISABLE_HOP_RETRY" default:"false"`
	PTYCols         int           `envconfig:"PTY_COLS" default:"500"`
	PTYRows         int           `envconfig:"PTY_ROWS" default:"40"`

	// Front-end and background jobs
	ListenAddr          string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8080"`
	AuditRetentionDays  int    `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
	MetricsPollSchedule string `envconfig:"METRICS_POLL_SCHEDULE" default:"@every 15s"`
}

var Cfg Settings

// Process reads the environment into a fresh Settings.
func Process() (Settings, error) {
	var s Settings
	err := envconfig.Process("HOPSHELL", &s)
	return s, err
}

func Load() {
	s, err := Process()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	Cfg = s
}
