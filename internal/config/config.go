// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"cloudshift/internal/constants"
	"cloudshift/internal/faults"
)

// Config holds the complete application configuration.
type Config struct {
	Environment    string `mapstructure:"environment"`
	Location       string `mapstructure:"location"`
	SubscriptionID string `mapstructure:"subscription-id"`
	ResourceGroup  string `mapstructure:"resource-group"`
	PlanPath       string `mapstructure:"plan"`

	TerraformDir    string        `mapstructure:"terraform-dir"`
	TerraformBinary string        `mapstructure:"terraform-binary"`
	PlanFile        string        `mapstructure:"plan-file"`
	LockTimeout     time.Duration `mapstructure:"lock-timeout"`

	AnsibleBinary         string `mapstructure:"ansible-binary"`
	AnsiblePlaybookBinary string `mapstructure:"ansible-playbook-binary"`
	AnsibleInventory      string `mapstructure:"ansible-inventory"`
	PlaybookDir           string `mapstructure:"playbook-dir"`

	Platform    string `mapstructure:"platform"`
	Provisioner string `mapstructure:"provisioner"`
	Observer    string `mapstructure:"observer"`

	WaveSize             int           `mapstructure:"wave-size"`
	MaxConcurrency       int           `mapstructure:"max-concurrency"`
	MaxRetries           int           `mapstructure:"max-retries"`
	MaxValidationRetries int           `mapstructure:"max-validation-retries"`
	RetryBaseDelay       time.Duration `mapstructure:"retry-base-delay"`
	RetryRules           []string      `mapstructure:"retry-rules"`
	CommandTimeout       time.Duration `mapstructure:"command-timeout"`
	CheckMode            bool          `mapstructure:"check-mode"`

	ReplicateCommand         string `mapstructure:"replicate-command"`
	ReplicationStatusCommand string `mapstructure:"replication-status-command"`
	CutoverCommand           string `mapstructure:"cutover-command"`
	RevertCommand            string `mapstructure:"revert-command"`

	Namespace         string        `mapstructure:"namespace"`
	KubeconfigPath    string        `mapstructure:"kubeconfig"`
	ReadyTimeout      time.Duration `mapstructure:"ready-timeout"`
	SSHUser           string        `mapstructure:"ssh-user"`
	SSHAuthorizedKeys []string      `mapstructure:"ssh-authorized-keys"`

	AuditEnabled   bool   `mapstructure:"audit"`
	AuditDBPath    string `mapstructure:"audit-db"`
	MetricsAddress string `mapstructure:"metrics-address"`
	LogLevel       string `mapstructure:"log-level"`
	Verbose        bool   `mapstructure:"verbose"`
	DryRun         bool   `mapstructure:"dry-run"`
}

// SetDefaults registers Viper defaults.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", constants.DefaultEnvironment)
	v.SetDefault("location", constants.DefaultLocation)
	v.SetDefault("plan", "")
	v.SetDefault("terraform-dir", constants.DefaultTerraformDir)
	v.SetDefault("terraform-binary", constants.DefaultTerraformBinary)
	v.SetDefault("plan-file", constants.DefaultPlanFile)
	v.SetDefault("lock-timeout", constants.DefaultLockTimeout)
	v.SetDefault("ansible-binary", constants.DefaultAnsibleBinary)
	v.SetDefault("ansible-playbook-binary", constants.DefaultAnsiblePlaybookBinary)
	v.SetDefault("ansible-inventory", constants.DefaultAnsibleInventory)
	v.SetDefault("playbook-dir", constants.DefaultPlaybookDir)
	v.SetDefault("platform", constants.PlatformCommand)
	v.SetDefault("provisioner", constants.ProvisionerTerraform)
	v.SetDefault("observer", constants.ObserverTerraform)
	v.SetDefault("wave-size", constants.DefaultWaveSize)
	v.SetDefault("max-concurrency", constants.DefaultMaxConcurrency)
	v.SetDefault("max-retries", constants.DefaultMaxRetries)
	v.SetDefault("max-validation-retries", constants.DefaultMaxValidationRetries)
	v.SetDefault("retry-base-delay", constants.DefaultRetryBaseDelay)
	v.SetDefault("command-timeout", constants.DefaultCommandTimeout)
	v.SetDefault("check-mode", false)
	v.SetDefault("namespace", constants.DefaultNamespace)
	v.SetDefault("kubeconfig", "")
	v.SetDefault("ready-timeout", constants.DefaultReadyTimeout)
	v.SetDefault("ssh-user", constants.DefaultSSHUser)
	v.SetDefault("audit", true)
	v.SetDefault("audit-db", constants.DefaultAuditDBPath)
	v.SetDefault("metrics-address", "")
	v.SetDefault("log-level", constants.DefaultLogLevel)
	v.SetDefault("verbose", false)
	v.SetDefault("dry-run", false)
}

// BindPersistentFlags registers the flags shared by every subcommand.
func BindPersistentFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("config", "", "Path to YAML config file")
	pf.String("namespace", "", "Kubernetes namespace of migrated VMs")
	pf.String("kubeconfig", "", "Path to kubeconfig file")
	pf.String("log-level", "", "Log level (debug|info|warn|error)")
	pf.Bool("verbose", false, "Enable development logging")
}

// BindFlags registers the pipeline flags on the given command.
func BindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("plan", "", "Path to the migration plan")
	f.String("environment", "", "Target environment name")
	f.String("location", "", "Azure location")
	f.String("subscription-id", "", "Azure subscription ID")
	f.String("resource-group", "", "Default resource group for lookups")
	f.String("terraform-dir", "", "Terraform configuration directory")
	f.String("terraform-binary", "", "Terraform binary")
	f.String("plan-file", "", "Terraform plan output file")
	f.Duration("lock-timeout", 0, "Terraform state lock timeout")
	f.String("ansible-binary", "", "Ansible ad-hoc binary")
	f.String("ansible-playbook-binary", "", "Ansible playbook binary")
	f.String("ansible-inventory", "", "Ansible inventory path")
	f.String("playbook-dir", "", "Directory holding the post-migration playbooks")
	f.String("platform", "", "Replication platform (command|kubevirt)")
	f.String("provisioner", "", "Provisioner (terraform|controlplane)")
	f.String("observer", "", "Drift observer (terraform|azure|memory)")
	f.Int("wave-size", 0, "Units per wave")
	f.Int("max-concurrency", 0, "Maximum units in flight per wave")
	f.Int("max-retries", 0, "Retries per phase")
	f.Int("max-validation-retries", 0, "Retries of the validation phase")
	f.Duration("retry-base-delay", 0, "Delay before the first retry")
	f.StringSlice("retry-rule", nil, "Retry policy override phase:kind=retry|fail (repeatable)")
	f.Duration("command-timeout", 0, "Timeout of one external command")
	f.String("replicate-command", "", "Command template that starts replication")
	f.String("replication-status-command", "", "Command template that prints the replication state")
	f.String("cutover-command", "", "Command template that performs cutover")
	f.String("revert-command", "", "Command template that reverts a unit")
	f.Bool("check-mode", false, "Run each unit's playbook with --check during validate")
	f.Duration("ready-timeout", 0, "Timeout for replication and cutover to settle")
	f.String("ssh-user", "", "SSH user for Linux guests")
	f.StringSlice("ssh-key", nil, "SSH authorized key (repeatable)")
	f.Bool("audit", true, "Record the run in the audit database")
	f.String("audit-db", "", "Audit database path")
	f.String("metrics-address", "", "Serve Prometheus metrics on this address")
	f.Bool("dry-run", false, "Print the wave schedule without running it")
}

// LoadConfig loads configuration from flags, environment variables, config file,
// and defaults using the Viper priority chain: flags > env > file > defaults.
func LoadConfig(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetEnvPrefix("CLOUDSHIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, faults.New(faults.InvalidConfiguration, "read config", fmt.Errorf("reading config file: %w", err))
		}
	}

	// Flags only override when explicitly provided.
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed || f.Name == "config" || f.Name == "ssh-key" || f.Name == "retry-rule" {
			return
		}
		v.Set(f.Name, f.Value.String())
	})

	cfg := &Config{
		Environment:              v.GetString("environment"),
		Location:                 v.GetString("location"),
		SubscriptionID:           v.GetString("subscription-id"),
		ResourceGroup:            v.GetString("resource-group"),
		PlanPath:                 v.GetString("plan"),
		TerraformDir:             v.GetString("terraform-dir"),
		TerraformBinary:          v.GetString("terraform-binary"),
		PlanFile:                 v.GetString("plan-file"),
		LockTimeout:              v.GetDuration("lock-timeout"),
		AnsibleBinary:            v.GetString("ansible-binary"),
		AnsiblePlaybookBinary:    v.GetString("ansible-playbook-binary"),
		AnsibleInventory:         v.GetString("ansible-inventory"),
		PlaybookDir:              v.GetString("playbook-dir"),
		Platform:                 strings.ToLower(v.GetString("platform")),
		Provisioner:              strings.ToLower(v.GetString("provisioner")),
		Observer:                 strings.ToLower(v.GetString("observer")),
		WaveSize:                 v.GetInt("wave-size"),
		MaxConcurrency:           v.GetInt("max-concurrency"),
		MaxRetries:               v.GetInt("max-retries"),
		MaxValidationRetries:     v.GetInt("max-validation-retries"),
		RetryBaseDelay:           v.GetDuration("retry-base-delay"),
		CommandTimeout:           v.GetDuration("command-timeout"),
		CheckMode:                v.GetBool("check-mode"),
		ReplicateCommand:         v.GetString("replicate-command"),
		ReplicationStatusCommand: v.GetString("replication-status-command"),
		CutoverCommand:           v.GetString("cutover-command"),
		RevertCommand:            v.GetString("revert-command"),
		Namespace:                v.GetString("namespace"),
		KubeconfigPath:           v.GetString("kubeconfig"),
		ReadyTimeout:             v.GetDuration("ready-timeout"),
		SSHUser:                  v.GetString("ssh-user"),
		AuditEnabled:             v.GetBool("audit"),
		AuditDBPath:              v.GetString("audit-db"),
		MetricsAddress:           v.GetString("metrics-address"),
		LogLevel:                 v.GetString("log-level"),
		Verbose:                  v.GetBool("verbose"),
		DryRun:                   v.GetBool("dry-run"),
	}
	cfg.SSHAuthorizedKeys = resolveSSHKeys(v, cmd)
	cfg.RetryRules = v.GetStringSlice("retry-rules")
	if f := cmd.Flags().Lookup("retry-rule"); f != nil && f.Changed {
		cfg.RetryRules, _ = cmd.Flags().GetStringSlice("retry-rule")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend selectors and numeric bounds.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(key, val string, allowed ...string) {
		for _, a := range allowed {
			if val == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), val))
	}
	oneOf("platform", c.Platform, constants.PlatformCommand, constants.PlatformKubeVirt)
	oneOf("provisioner", c.Provisioner, constants.ProvisionerTerraform, constants.ProvisionerControlPlane)
	oneOf("observer", c.Observer, constants.ObserverTerraform, constants.ObserverAzure, constants.ObserverMemory)

	if c.WaveSize <= 0 {
		errs = append(errs, fmt.Errorf("wave-size must be positive, got %d", c.WaveSize))
	}
	if c.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("max-concurrency must be positive, got %d", c.MaxConcurrency))
	}
	if c.MaxRetries < 0 || c.MaxValidationRetries < 0 {
		errs = append(errs, errors.New("retry limits must not be negative"))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("command-timeout must be positive, got %s", c.CommandTimeout))
	}
	if (c.Provisioner == constants.ProvisionerControlPlane || c.Observer == constants.ObserverAzure) && c.SubscriptionID == "" {
		errs = append(errs, errors.New("subscription-id is required for the Azure control plane"))
	}
	if len(errs) > 0 {
		return faults.New(faults.InvalidConfiguration, "validate config", errors.Join(errs...))
	}
	return nil
}

// resolveSSHKeys resolves SSH authorized keys from CLI flags, env vars, or config file.
// Priority: CLI --ssh-key flags > CLOUDSHIFT_SSH_AUTHORIZED_KEYS env var > YAML config.
func resolveSSHKeys(v *viper.Viper, cmd *cobra.Command) []string {
	if f := cmd.Flags().Lookup("ssh-key"); f != nil && f.Changed {
		keys, _ := cmd.Flags().GetStringSlice("ssh-key")
		if len(keys) > 0 {
			return keys
		}
	}

	envVal := os.Getenv("CLOUDSHIFT_SSH_AUTHORIZED_KEYS")
	if envVal != "" {
		parts := strings.Split(envVal, ",")
		keys := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				keys = append(keys, trimmed)
			}
		}
		if len(keys) > 0 {
			return keys
		}
	}

	return v.GetStringSlice("ssh-authorized-keys")
}
