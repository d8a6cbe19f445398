package config

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"wa_guard/internal/models"
)

const defaultBanNotice = "Você foi removido do grupo porque seu número está na lista de bloqueio do administrador. / " +
	"You were removed from the group because your number is on the administrator's blacklist."

// DatabaseConfig selects and connects the main gorm database.
type DatabaseConfig struct {
	Type     string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	Path     string
	LogLevel string
}

// WhatsAppConfig selects the whatsmeow device store.
type WhatsAppConfig struct {
	StoreDriver string
	StoreDSN    string
}

// ScanConfig drives the group scanner and its remote-call retry policy.
type ScanConfig struct {
	Interval          time.Duration
	ListTimeout       time.Duration
	GroupDelay        time.Duration
	ErrorCeiling      int
	MaxSelfRestarts   int
	SelfRestartDelay  time.Duration
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration
	RetryAttemptLimit time.Duration
	BanNotice         string
}

// BlacklistConfig drives the blacklist cache.
type BlacklistConfig struct {
	TTL            time.Duration
	FailureBackoff time.Duration
	CountryCode    string
}

// HeartbeatConfig drives the liveness pulse.
type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// TierConfig parameterizes one supervisor tier.
type TierConfig struct {
	Enabled         bool
	CheckInterval   time.Duration
	StaleTimeout    time.Duration
	MaxRestarts     int
	ForcedRestart   time.Duration
	FreezeTolerance time.Duration
	RestartDelay    time.Duration
}

// HTTPConfig drives the status/admin listener.
type HTTPConfig struct {
	Addr          string
	JWTSecret     string
	RatePerSecond int
	RateBurst     int

	// SecretGenerated is set when JWT_SECRET was missing and a per-process
	// random secret was used instead. Tokens then die with the process.
	SecretGenerated bool

	// TrustedProxies are the peers whose X-Forwarded-For header is believed.
	TrustedProxies []*net.IPNet
}

// Config is the full process configuration.
type Config struct {
	Database   DatabaseConfig
	WhatsApp   WhatsAppConfig
	Scan       ScanConfig
	Blacklist  BlacklistConfig
	Heartbeat  HeartbeatConfig
	Watchdog   TierConfig
	Supervisor TierConfig
	HTTP       HTTPConfig
	AdminPhone string
	LogLevel   string
	LogFormat  string

	// explicit records keys that came from the environment, so persisted
	// values never override an operator's choice.
	explicit map[string]bool
}

// LoadEnvFiles loads the given files into the environment. Variables already set win.
func LoadEnvFiles(files ...string) []string {
	var loaded []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	return loaded
}

// Load builds a Config from the environment.
func Load() *Config {
	c := &Config{explicit: make(map[string]bool)}

	c.Database = DatabaseConfig{
		Type:     strings.ToLower(c.getEnv("DB_TYPE", "sqlite")),
		Host:     c.getEnv("DB_HOST", ""),
		Port:     c.getEnv("DB_PORT", ""),
		User:     c.getEnv("DB_USER", ""),
		Password: c.getEnv("DB_PASSWORD", ""),
		Name:     c.getEnv("DB_NAME", "wa_guard"),
		Path:     c.getEnv("DB_PATH", "wa_guard.db"),
		LogLevel: c.getEnv("DB_LOG_LEVEL", "warn"),
	}
	c.WhatsApp = WhatsAppConfig{
		StoreDriver: c.getEnv("WA_STORE_DRIVER", "sqlite"),
		StoreDSN:    c.getEnv("WA_STORE_DSN", "file:wa_guard_session.db?_pragma=foreign_keys(1)&_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL"),
	}
	c.Scan = ScanConfig{
		Interval:          c.getDurationEnv("SCAN_INTERVAL", 30*time.Second),
		ListTimeout:       c.getDurationEnv("SCAN_LIST_TIMEOUT", 60*time.Second),
		GroupDelay:        c.getDurationEnv("SCAN_GROUP_DELAY", 2*time.Second),
		ErrorCeiling:      c.getIntEnv("SCAN_ERROR_CEILING", 3),
		MaxSelfRestarts:   c.getIntEnv("SCAN_MAX_SELF_RESTARTS", 5),
		SelfRestartDelay:  c.getDurationEnv("SCAN_SELF_RESTART_DELAY", 5*time.Second),
		RetryMaxAttempts:  c.getIntEnv("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:    c.getDurationEnv("RETRY_BASE_DELAY", 2*time.Second),
		RetryAttemptLimit: c.getDurationEnv("RETRY_ATTEMPT_TIMEOUT", 15*time.Second),
		BanNotice:         c.getEnv("BAN_NOTICE_MESSAGE", defaultBanNotice),
	}
	c.Blacklist = BlacklistConfig{
		TTL:            c.getDurationEnv("BLACKLIST_TTL", 30*time.Second),
		FailureBackoff: c.getDurationEnv("BLACKLIST_FAILURE_BACKOFF", 5*time.Second),
		CountryCode:    c.getEnv("PHONE_COUNTRY_CODE", "55"),
	}
	c.Heartbeat = HeartbeatConfig{
		Interval: c.getDurationEnv("HEARTBEAT_INTERVAL", 5*time.Second),
		Timeout:  c.getDurationEnv("HEARTBEAT_TIMEOUT", 15*time.Second),
	}
	c.Watchdog = TierConfig{
		Enabled:       c.getBoolEnv("WATCHDOG_ENABLED", true),
		CheckInterval: c.getDurationEnv("WATCHDOG_CHECK_INTERVAL", 30*time.Second),
		StaleTimeout:  c.getDurationEnv("WATCHDOG_STALE_TIMEOUT", 120*time.Second),
		MaxRestarts:   c.getIntEnv("WATCHDOG_MAX_RESTARTS", 10),
		RestartDelay:  c.getDurationEnv("SUPERVISOR_RESTART_DELAY", 2*time.Second),
	}
	c.Supervisor = TierConfig{
		Enabled:         true,
		CheckInterval:   c.getDurationEnv("SUPERVISOR_CHECK_INTERVAL", 10*time.Second),
		StaleTimeout:    c.getDurationEnv("SUPERVISOR_STALE_TIMEOUT", 75*time.Second),
		MaxRestarts:     c.getIntEnv("SUPERVISOR_MAX_RESTARTS", 20),
		ForcedRestart:   c.getDurationEnv("SUPERVISOR_FORCED_RESTART", 30*time.Minute),
		FreezeTolerance: c.getDurationEnv("SUPERVISOR_FREEZE_TOLERANCE", 10*time.Second),
		RestartDelay:    c.getDurationEnv("SUPERVISOR_RESTART_DELAY", 2*time.Second),
	}
	c.HTTP = HTTPConfig{
		Addr:          c.getEnv("HTTP_ADDR", ":9090"),
		JWTSecret:      c.getEnv("JWT_SECRET", ""),
		RatePerSecond:  c.getIntEnv("HTTP_RATE_PER_SECOND", 10),
		RateBurst:      c.getIntEnv("HTTP_RATE_BURST", 20),
		TrustedProxies: ParseCIDRs(c.getEnv("HTTP_TRUSTED_PROXIES", "")),
	}
	if c.HTTP.JWTSecret == "" {
		c.HTTP.JWTSecret = randomSecret()
		c.HTTP.SecretGenerated = true
	}
	c.AdminPhone = c.getEnv("ADMIN_PHONE", "")
	c.LogLevel = c.getEnv("LOG_LEVEL", "info")
	c.LogFormat = c.getEnv("LOG_FORMAT", "console")

	return c
}

// ApplyPersisted merges the configuration recovered from a previous run.
// Values set explicitly in the environment are kept.
func (c *Config) ApplyPersisted(pc models.ActorConfig) {
	if pc.ScanIntervalSeconds > 0 && !c.explicit["SCAN_INTERVAL"] {
		c.Scan.Interval = time.Duration(pc.ScanIntervalSeconds) * time.Second
	}
	if pc.AdminPhone != "" && !c.explicit["ADMIN_PHONE"] {
		c.AdminPhone = pc.AdminPhone
	}
}

// Snapshot returns the values persisted with actor state.
func (c *Config) Snapshot() models.ActorConfig {
	return models.ActorConfig{
		ScanIntervalSeconds: int(c.Scan.Interval / time.Second),
		AdminPhone:          c.AdminPhone,
	}
}

// ParseCIDRs reads a comma separated list of CIDRs or bare IPs. Invalid
// items are skipped.
func ParseCIDRs(raw string) []*net.IPNet {
	var out []*net.IPNet
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !strings.Contains(item, "/") {
			ip := net.ParseIP(item)
			if ip == nil {
				continue
			}
			bits := 128
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		if _, n, err := net.ParseCIDR(item); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("config: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

func (c *Config) getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		c.explicit[key] = true
		return value
	}
	return fallback
}

func (c *Config) getIntEnv(key string, fallback int) int {
	raw := c.getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		delete(c.explicit, key)
		return fallback
	}
	return n
}

func (c *Config) getBoolEnv(key string, fallback bool) bool {
	raw := c.getEnv(key, "")
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		delete(c.explicit, key)
		return fallback
	}
	return b
}

// getDurationEnv accepts Go durations ("30s") or a bare number of seconds.
func (c *Config) getDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := c.getEnv(key, "")
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	delete(c.explicit, key)
	return fallback
}
