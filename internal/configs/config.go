package configs

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sort"
	"time"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

// Shape records which namespace a configuration was loaded for. It exists
// for reporting only and never changes behaviour.
type Shape string

const (
	ShapeUser    Shape = "user"
	ShapeProject Shape = "project"
)

type OutputFormat string

const (
	FormatBinary OutputFormat = "binary"
	FormatArmor  OutputFormat = "armor"
	FormatAuto   OutputFormat = "auto"
)

type TTYMethod string

const (
	TTYAuto   TTYMethod = "auto"
	TTYScript TTYMethod = "script"
	TTYExpect TTYMethod = "expect"
	TTYPty    TTYMethod = "pty"
)

type TelemetryFormat string

const (
	TelemetryText TelemetryFormat = "text"
	TelemetryJSON TelemetryFormat = "json"
)

type RetentionPolicy string

const (
	RetentionKeepAll  RetentionPolicy = "keep_all"
	RetentionKeepLast RetentionPolicy = "keep_last"
	RetentionKeepDays RetentionPolicy = "keep_days"
	RetentionDisabled RetentionPolicy = "disabled"
)

type Config struct {
	Paths           PathsConfig                     `toml:"paths"`
	Behavior        BehaviorConfig                  `toml:"behavior"`
	Security        SecurityConfig                  `toml:"security"`
	Performance     PerformanceConfig               `toml:"performance"`
	RecipientGroups map[string]RecipientGroupConfig `toml:"recipient_groups" validate:"dive"`

	shape     Shape
	source    string
	validated bool
}

type PathsConfig struct {
	// BackendBinary pins an explicit backend executable. When empty the
	// Behavior.Backends names are looked up on PATH in order.
	BackendBinary string `toml:"backend_binary"`
	BackupDir     string `toml:"backup_dir" validate:"required"`
	// AuditLog is the append-only audit sink. Empty disables auditing.
	AuditLog string `toml:"audit_log"`
}

type BehaviorConfig struct {
	Backends        []string        `toml:"backends" validate:"min=1,dive,required"`
	OutputFormat    OutputFormat    `toml:"output_format" validate:"oneof=binary armor auto"`
	TTYMethod       TTYMethod       `toml:"tty_method" validate:"oneof=auto script expect pty"`
	TelemetryFormat TelemetryFormat `toml:"telemetry_format" validate:"oneof=text json"`
	Retention       RetentionConfig `toml:"retention"`
}

type RetentionConfig struct {
	Policy RetentionPolicy `toml:"policy" validate:"oneof=keep_all keep_last keep_days disabled"`
	Count  int             `toml:"count" validate:"min=0"`
	Days   int             `toml:"days" validate:"min=0"`
}

type SecurityConfig struct {
	Level SecurityLevel `toml:"level" validate:"oneof=strict standard permissive"`
	// RiskThreshold overrides the level's default threshold when set.
	RiskThreshold string `toml:"risk_threshold" validate:"omitempty,oneof=none low moderate high critical"`
}

type PerformanceConfig struct {
	ParallelBatchSize int           `toml:"parallel_batch_size" validate:"min=1,max=256"`
	OperationTimeout  time.Duration `toml:"operation_timeout" validate:"min=1s,max=24h"`
	BatchRetries      int           `toml:"batch_retries" validate:"min=0,max=10"`
}

type RecipientGroupConfig struct {
	Tier       string            `toml:"tier" validate:"oneof=standard elevated emergency"`
	Recipients []string          `toml:"recipients" validate:"min=1,dive,required"`
	Metadata   map[string]string `toml:"metadata,omitempty"`
}

// Default returns the built-in configuration. It is not validated.
func Default() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Paths: PathsConfig{
			BackupDir: filepath.Join(dataDir, "backups"),
			AuditLog:  filepath.Join(dataDir, "audit.log"),
		},
		Behavior: BehaviorConfig{
			Backends:        []string{"age", "rage"},
			OutputFormat:    FormatAuto,
			TTYMethod:       TTYAuto,
			TelemetryFormat: TelemetryText,
			Retention: RetentionConfig{
				Policy: RetentionKeepLast,
				Count:  5,
			},
		},
		Security: SecurityConfig{
			Level: SecurityStandard,
		},
		Performance: PerformanceConfig{
			ParallelBatchSize: 4,
			OperationTimeout:  5 * time.Minute,
			BatchRetries:      1,
		},
		RecipientGroups: make(map[string]RecipientGroupConfig),
		shape:           ShapeUser,
	}
}

// Validate checks the configuration and marks it usable. It reports the
// first invalid field only.
func (c *Config) Validate() error {
	c.validated = false

	if _, err := c.ResolveBackends(); err != nil {
		field := "behavior.backends"
		if c.Paths.BackendBinary != "" {
			field = "paths.backend_binary"
		}
		return kerrors.Configuration(field, err)
	}

	if err := validateStruct(c); err != nil {
		return err
	}

	if err := validateBackupDir(c.Paths.BackupDir); err != nil {
		return kerrors.Configuration("paths.backup_dir", err)
	}

	switch c.Behavior.Retention.Policy {
	case RetentionKeepLast:
		if c.Behavior.Retention.Count < 1 {
			return kerrors.Configuration("behavior.retention.count",
				fmt.Errorf("keep_last requires count >= 1, got %d", c.Behavior.Retention.Count))
		}
	case RetentionKeepDays:
		if c.Behavior.Retention.Days < 1 {
			return kerrors.Configuration("behavior.retention.days",
				fmt.Errorf("keep_days requires days >= 1, got %d", c.Behavior.Retention.Days))
		}
	}

	c.validated = true
	return nil
}

// Validated reports whether Validate has succeeded on this value.
func (c *Config) Validated() bool {
	return c.validated
}

// Source returns the file this configuration was loaded from, if any.
func (c *Config) Source() string {
	return c.source
}

// Shape returns the namespace the configuration was loaded for.
func (c *Config) Shape() Shape {
	if c.shape == "" {
		return ShapeUser
	}
	return c.shape
}

func validateBackupDir(dir string) error {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("backup directory cannot be created: %w", err)
	}
	return nil
}

// ResolveOutputFormat applies auto-detection against the output path.
func (c *Config) ResolveOutputFormat(outputPath string) OutputFormat {
	return ResolveOutputFormat(c.Behavior.OutputFormat, outputPath)
}

// ResolveOutputFormat returns armor for text-safe extensions when format is auto.
func ResolveOutputFormat(format OutputFormat, outputPath string) OutputFormat {
	if format != FormatAuto {
		return format
	}
	switch filepath.Ext(outputPath) {
	case ".asc", ".armor", ".pem":
		return FormatArmor
	default:
		return FormatBinary
	}
}

// Clone returns a deep copy. The copy keeps the source and shape but is not validated.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Behavior.Backends = slices.Clone(c.Behavior.Backends)
	clone.RecipientGroups = make(map[string]RecipientGroupConfig, len(c.RecipientGroups))
	for name, group := range c.RecipientGroups {
		clone.RecipientGroups[name] = RecipientGroupConfig{
			Tier:       group.Tier,
			Recipients: slices.Clone(group.Recipients),
			Metadata:   maps.Clone(group.Metadata),
		}
	}
	clone.validated = false
	return &clone
}

func (c *Config) derive(mutate func(*Config)) (*Config, error) {
	clone := c.Clone()
	mutate(clone)
	if err := clone.Validate(); err != nil {
		return nil, err
	}
	return clone, nil
}

// WithSecurityLevel returns a validated copy using level.
func (c *Config) WithSecurityLevel(level SecurityLevel) (*Config, error) {
	return c.derive(func(n *Config) { n.Security.Level = level })
}

// WithRiskThreshold returns a validated copy overriding the level's risk threshold.
func (c *Config) WithRiskThreshold(threshold string) (*Config, error) {
	return c.derive(func(n *Config) { n.Security.RiskThreshold = threshold })
}

// WithRetention returns a validated copy using retention.
func (c *Config) WithRetention(retention RetentionConfig) (*Config, error) {
	return c.derive(func(n *Config) { n.Behavior.Retention = retention })
}

// WithParallelBatchSize returns a validated copy using size workers for batches.
func (c *Config) WithParallelBatchSize(size int) (*Config, error) {
	return c.derive(func(n *Config) { n.Performance.ParallelBatchSize = size })
}

// WithOperationTimeout returns a validated copy using timeout per operation.
func (c *Config) WithOperationTimeout(timeout time.Duration) (*Config, error) {
	return c.derive(func(n *Config) { n.Performance.OperationTimeout = timeout })
}

// WithTTYMethod returns a validated copy using method for passphrase automation.
func (c *Config) WithTTYMethod(method TTYMethod) (*Config, error) {
	return c.derive(func(n *Config) { n.Behavior.TTYMethod = method })
}

// WithOutputFormat returns a validated copy using format.
func (c *Config) WithOutputFormat(format OutputFormat) (*Config, error) {
	return c.derive(func(n *Config) { n.Behavior.OutputFormat = format })
}

// WithTelemetryFormat returns a validated copy writing audit records as format.
func (c *Config) WithTelemetryFormat(format TelemetryFormat) (*Config, error) {
	return c.derive(func(n *Config) { n.Behavior.TelemetryFormat = format })
}

// WithBackupDir returns a validated copy storing backups under dir.
func (c *Config) WithBackupDir(dir string) (*Config, error) {
	return c.derive(func(n *Config) { n.Paths.BackupDir = dir })
}

// AddRecipientGroup defines a new named group on this in-memory configuration.
// Call Save to persist it.
func (c *Config) AddRecipientGroup(name string, group RecipientGroupConfig) error {
	if name == "" {
		return kerrors.Configuration("recipient_groups", fmt.Errorf("group name must not be empty"))
	}
	if _, exists := c.RecipientGroups[name]; exists {
		return kerrors.Configuration("recipient_groups."+name, kerrors.ErrGroupExists)
	}
	if err := validate.Struct(group); err != nil {
		return firstFieldError(err, "recipient_groups."+name)
	}
	if c.RecipientGroups == nil {
		c.RecipientGroups = make(map[string]RecipientGroupConfig)
	}
	c.RecipientGroups[name] = RecipientGroupConfig{
		Tier:       group.Tier,
		Recipients: slices.Clone(group.Recipients),
		Metadata:   maps.Clone(group.Metadata),
	}
	return nil
}

// RemoveRecipientGroup deletes a named group from this in-memory configuration.
func (c *Config) RemoveRecipientGroup(name string) error {
	if _, exists := c.RecipientGroups[name]; !exists {
		return kerrors.Configuration("recipient_groups."+name, kerrors.ErrGroupNotFound)
	}
	delete(c.RecipientGroups, name)
	return nil
}

// RecipientGroup looks up a named group.
func (c *Config) RecipientGroup(name string) (RecipientGroupConfig, bool) {
	group, ok := c.RecipientGroups[name]
	return group, ok
}

// RecipientGroupNames returns the defined group names, sorted.
func (c *Config) RecipientGroupNames() []string {
	names := make([]string, 0, len(c.RecipientGroups))
	for name := range c.RecipientGroups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal compares every persisted field. Empty and nil collections are equal.
func (c *Config) Equal(other *Config) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.Paths != other.Paths || c.Security != other.Security || c.Performance != other.Performance {
		return false
	}
	a, b := c.Behavior, other.Behavior
	if a.OutputFormat != b.OutputFormat || a.TTYMethod != b.TTYMethod ||
		a.TelemetryFormat != b.TelemetryFormat || a.Retention != b.Retention {
		return false
	}
	if !slices.Equal(a.Backends, b.Backends) {
		return false
	}
	if len(c.RecipientGroups) != len(other.RecipientGroups) {
		return false
	}
	for name, group := range c.RecipientGroups {
		otherGroup, ok := other.RecipientGroups[name]
		if !ok || group.Tier != otherGroup.Tier || !slices.Equal(group.Recipients, otherGroup.Recipients) {
			return false
		}
		if len(group.Metadata) != len(otherGroup.Metadata) {
			return false
		}
		if len(group.Metadata) > 0 && !reflect.DeepEqual(group.Metadata, otherGroup.Metadata) {
			return false
		}
	}
	return true
}
