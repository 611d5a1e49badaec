package configs

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

// Loader merges configuration layers in increasing precedence: built-in
// defaults, the first discovered file, Store overrides, explicit Overrides.
type Loader struct {
	// SearchPaths defaults to DefaultSearchPaths().
	SearchPaths []string

	// Store supplies environment-style overrides. Defaults to EnvStore{}.
	Store Store

	// Prefix for Store keys. Defaults to EnvPrefix.
	Prefix string

	// Overrides are applied last. Unknown keys are rejected.
	Overrides map[string]string
}

// LoadDefault runs discovery with the process environment as the override store.
func LoadDefault() (*Config, error) {
	return (&Loader{}).Load()
}

// LoadFromPath loads exactly one file over the built-in defaults, skipping
// discovery and overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := loadFileInto(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load builds an unvalidated Config from every layer.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if path := l.Discover(); path != "" {
		if err := loadFileInto(cfg, path); err != nil {
			return nil, err
		}
	}

	store := l.Store
	if store == nil {
		store = EnvStore{}
	}
	prefix := l.Prefix
	if prefix == "" {
		prefix = EnvPrefix
	}

	values, err := store.Load(prefix)
	if err != nil {
		return nil, kerrors.Configuration("", fmt.Errorf("loading overrides: %w", err))
	}
	if err := applyValues(cfg, values, false); err != nil {
		return nil, err
	}

	if err := applyValues(cfg, l.Overrides, true); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Discover returns the first existing file in the search path, or "".
func (l *Loader) Discover() string {
	paths := l.SearchPaths
	if paths == nil {
		paths = DefaultSearchPaths()
	}
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

func loadFileInto(cfg *Config, path string) error {
	if err := LoadTOMLStrict(path, cfg); err != nil {
		return kerrors.Configuration("", fmt.Errorf("failed to load config %s: %w", path, err))
	}
	cfg.source = path
	cfg.shape = shapeForPath(path)
	return nil
}

// Save writes the configuration back to the file it was loaded from, or to
// the default user config path.
func (c *Config) Save() error {
	path := c.source
	if path == "" {
		path = DefaultUserConfigPath()
	}
	if path == "" {
		return kerrors.Configuration("", fmt.Errorf("no path to save configuration to"))
	}
	return c.SaveToPath(path)
}

// SaveToPath serializes the validated configuration to path.
func (c *Config) SaveToPath(path string) error {
	if !c.validated {
		return kerrors.Configuration("", kerrors.ErrConfigNotValidated)
	}
	if err := SaveTOML(path, c); err != nil {
		return kerrors.Configuration("", fmt.Errorf("failed to save config %s: %w", path, err))
	}
	c.source = path
	return nil
}

// applyValues sets flat override keys. strict rejects unknown keys; the
// environment carries unrelated CAGE_* variables, so it is applied loosely.
func applyValues(cfg *Config, values map[string]string, strict bool) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := strings.TrimSpace(values[key])
		var err error

		switch key {
		case "backend_binary":
			cfg.Paths.BackendBinary = value
		case "backup_dir":
			cfg.Paths.BackupDir = value
		case "audit_log":
			cfg.Paths.AuditLog = value
		case "backends":
			cfg.Behavior.Backends = splitList(value)
		case "output_format":
			cfg.Behavior.OutputFormat = OutputFormat(value)
		case "tty_method":
			cfg.Behavior.TTYMethod = TTYMethod(value)
		case "telemetry_format":
			cfg.Behavior.TelemetryFormat = TelemetryFormat(value)
		case "retention":
			cfg.Behavior.Retention.Policy = RetentionPolicy(value)
		case "retention_count":
			cfg.Behavior.Retention.Count, err = strconv.Atoi(value)
		case "retention_days":
			cfg.Behavior.Retention.Days, err = strconv.Atoi(value)
		case "security_level":
			cfg.Security.Level = SecurityLevel(value)
		case "risk_threshold":
			cfg.Security.RiskThreshold = value
		case "parallel_batch_size":
			cfg.Performance.ParallelBatchSize, err = strconv.Atoi(value)
		case "operation_timeout":
			cfg.Performance.OperationTimeout, err = time.ParseDuration(value)
		case "batch_retries":
			cfg.Performance.BatchRetries, err = strconv.Atoi(value)
		default:
			if strict {
				return kerrors.Configuration(key, fmt.Errorf("unknown override key"))
			}
		}

		if err != nil {
			return kerrors.Configuration(key, fmt.Errorf("invalid value %q: %w", value, err))
		}
	}
	return nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
