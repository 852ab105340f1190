package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr      string
	ServerName      string
	ServerAlias     []string
	TLSEnabled      bool
	TLSRequired     bool
	TLSCertPath     string
	TLSKeyPath      string
	TLSAutoGenerate bool

	DataDir       string
	HistoryDBPath string
	StateDir      string

	ErrorLogPath  string
	AccessLogPath string
	MaxLogSize    int64
	LogLevel      string

	IdleTimeout      time.Duration
	MaxActiveJobs    int
	MaxJobsPerQueue  int
	JobRetention     time.Duration
	AdminUser        string
	AdminPassword    string
	DNSSDEnabled     bool
	DNSSDHostName    string
	SNMPCommunity    string
	DefaultDeviceURI string
}

func Load() Config {
	dataDir := getenv("IPPSERV_DATA_DIR", "data")

	cfg := Config{
		ListenAddr:      getenv("IPPSERV_LISTEN_ADDR", ":631"),
		ServerName:      getenv("IPPSERV_SERVER_NAME", defaultHostname()),
		ServerAlias:     getenvList("IPPSERV_SERVER_ALIAS"),
		TLSEnabled:      getenvBool("IPPSERV_TLS_ENABLED", true),
		TLSRequired:     getenvBool("IPPSERV_TLS_ONLY", false),
		TLSCertPath:     getenv("IPPSERV_TLS_CERT", filepath.Join(dataDir, "ippserv.crt")),
		TLSKeyPath:      getenv("IPPSERV_TLS_KEY", filepath.Join(dataDir, "ippserv.key")),
		TLSAutoGenerate: getenvBool("IPPSERV_TLS_AUTOGEN", true),

		DataDir:       dataDir,
		HistoryDBPath: getenv("IPPSERV_HISTORY_DB", filepath.Join(dataDir, "history.db")),
		StateDir:      getenv("IPPSERV_STATE_DIR", filepath.Join(dataDir, "state")),

		ErrorLogPath:  getenv("IPPSERV_ERROR_LOG", filepath.Join(dataDir, "log", "error_log")),
		AccessLogPath: getenv("IPPSERV_ACCESS_LOG", filepath.Join(dataDir, "log", "access_log")),
		MaxLogSize:    getenvInt64("IPPSERV_MAX_LOG_SIZE", 1<<20),
		LogLevel:      getenv("IPPSERV_LOG_LEVEL", "info"),

		IdleTimeout:      getenvDuration("IPPSERV_IDLE_TIMEOUT", 30*time.Second),
		MaxActiveJobs:    getenvInt("IPPSERV_MAX_ACTIVE_JOBS", 1),
		MaxJobsPerQueue:  getenvInt("IPPSERV_MAX_JOBS", 500),
		JobRetention:     getenvDuration("IPPSERV_JOB_RETENTION", 24*time.Hour),
		AdminUser:        getenv("IPPSERV_ADMIN_USER", "admin"),
		AdminPassword:    getenv("IPPSERV_ADMIN_PASSWORD", ""),
		DNSSDEnabled:     getenvBool("IPPSERV_DNSSD", true),
		DNSSDHostName:    getenv("IPPSERV_DNSSD_HOSTNAME", ""),
		SNMPCommunity:    getenv("IPPSERV_SNMP_COMMUNITY", "public"),
		DefaultDeviceURI: getenv("IPPSERV_DEVICE_URI", ""),
	}
	if cfg.MaxActiveJobs < 1 {
		cfg.MaxActiveJobs = 1
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	return cfg
}

func defaultHostname() string {
	if h, err := os.Hostname(); err == nil && strings.TrimSpace(h) != "" {
		return h
	}
	return "localhost"
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getenvInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are seconds, matching cupsd.conf timeouts.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
