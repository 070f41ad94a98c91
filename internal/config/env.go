package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables read by ApplyEnv.
const (
	EnvRedisURL    = "PRIVSCAN_REDIS_URL"
	EnvRedisURLAlt = "REDIS_URL"
	EnvDatabaseURL = "PRIVSCAN_DATABASE_URL"
	EnvListenAddr  = "PRIVSCAN_LISTEN_ADDR"
	EnvAdminToken  = "PRIVSCAN_ADMIN_TOKEN"
	EnvAPIKeys     = "PRIVSCAN_API_KEYS"
	EnvLogLevel    = "PRIVSCAN_LOG_LEVEL"
	EnvLogFormat   = "PRIVSCAN_LOG_FORMAT"
	EnvDataDir     = "PRIVSCAN_DATA_DIR"
	EnvQuotaLimit  = "PRIVSCAN_QUOTA_LIMIT"
	EnvListsFile   = "PRIVSCAN_LISTS_FILE"
	EnvMetricsAddr = "PRIVSCAN_METRICS_ADDR"
	EnvQueueName   = "PRIVSCAN_QUEUE"

	EnvTrustedProxies = "PRIVSCAN_TRUSTED_PROXIES"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables on c. Unset and empty variables
// leave the current value alone. PRIVSCAN_REDIS_URL wins over REDIS_URL.
// PRIVSCAN_API_KEYS and PRIVSCAN_TRUSTED_PROXIES are comma-separated lists.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvRedisURL); ok {
		c.Queue.RedisURL = v
	} else if v, ok := get(EnvRedisURLAlt); ok {
		c.Queue.RedisURL = v
	}
	if v, ok := get(EnvDatabaseURL); ok {
		c.Storage.DatabaseURL = v
	}
	if v, ok := get(EnvListenAddr); ok {
		c.Server.ListenAddr = v
	}
	if v, ok := get(EnvAdminToken); ok {
		c.Server.AdminToken = v
	}
	if v, ok := get(EnvAPIKeys); ok {
		c.Server.APIKeys = splitList(v)
	}
	if v, ok := get(EnvTrustedProxies); ok {
		c.Admission.TrustedProxies = splitList(v)
	}
	if v, ok := get(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := get(EnvLogFormat); ok {
		c.Log.Format = v
	}
	if v, ok := get(EnvDataDir); ok {
		c.Storage.DataDir = v
	}
	if v, ok := get(EnvListsFile); ok {
		c.Lists.File = v
	}
	if v, ok := get(EnvMetricsAddr); ok {
		c.Server.MetricsAddr = v
	}
	if v, ok := get(EnvQueueName); ok {
		c.Queue.Name = v
	}
	if v, ok := get(EnvQuotaLimit); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvQuotaLimit, err)
		}
		c.Quota.DailyLimit = n
	}
	return nil
}

// splitList splits a comma-separated value and drops empty items.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
