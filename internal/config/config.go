// Package config loads the layered runtime configuration for the
// orchestration pipeline: built-in defaults, overlaid by system, user, and
// project YAML files, then by CADRE_* environment variables, each layer
// only setting the fields it mentions.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// HostingOptions names the git hosting provider and repository this run
// targets.
type HostingOptions struct {
	Provider   string `yaml:"provider"`
	Owner      string `yaml:"owner"`
	Repo       string `yaml:"repo"`
	BaseBranch string `yaml:"baseBranch"`
}

// AgentOptions configures the external agent launcher subprocess.
type AgentOptions struct {
	Command        string   `yaml:"command"`
	ArgsTemplate   []string `yaml:"argsTemplate"`
	TimeoutSeconds int      `yaml:"timeoutSeconds"`
}

// CommandOptions names the argv commands Phase 1 and Phase 4 run to
// establish and re-check the build/test baseline.
type CommandOptions struct {
	Install []string `yaml:"install,omitempty"`
	Build   []string `yaml:"build,omitempty"`
	Test    []string `yaml:"test,omitempty"`
	Lint    []string `yaml:"lint,omitempty"`
}

// Options is the fully-resolved configuration record for one run of the
// pipeline.
type Options struct {
	MaxParallelIssues       int    `yaml:"maxParallelIssues"`
	MaxParallelAgents       int    `yaml:"maxParallelAgents"`
	MaxRetriesPerTask       int    `yaml:"maxRetriesPerTask"`
	DryRun                  bool   `yaml:"dryRun"`
	Resume                  bool   `yaml:"resume"`
	InvocationDelayMs       int    `yaml:"invocationDelayMs"`
	BuildVerification       bool   `yaml:"buildVerification"`
	TestVerification        bool   `yaml:"testVerification"`
	PerTaskBuildCheck       bool   `yaml:"perTaskBuildCheck"`
	CommitPerTask           bool   `yaml:"commitPerTask"`
	MaxBuildFixRounds       int    `yaml:"maxBuildFixRounds"`
	MaxIntegrationFixRounds int    `yaml:"maxIntegrationFixRounds"`
	AmbiguityThreshold      int    `yaml:"ambiguityThreshold"`
	HaltOnAmbiguity         bool   `yaml:"haltOnAmbiguity"`
	SkipValidation          bool   `yaml:"skipValidation"`
	RespondToReviews        bool   `yaml:"respondToReviews"`
	AutoReplyOnResolved     bool   `yaml:"autoReplyOnResolved"`
	SquashCommits           bool   `yaml:"squashCommits"`
	BranchTemplate          string `yaml:"branchTemplate"`
	ProgressRoot            string `yaml:"progressRoot"`
	WorktreeRoot            string `yaml:"worktreeRoot"`

	Hosting  HostingOptions `yaml:"hosting"`
	Agent    AgentOptions   `yaml:"agent"`
	Commands CommandOptions `yaml:"commands"`
}

// Defaults returns the built-in configuration, the first layer of Load.
func Defaults() *Options {
	return &Options{
		MaxParallelIssues:       3,
		MaxParallelAgents:       2,
		MaxRetriesPerTask:       2,
		InvocationDelayMs:       0,
		BuildVerification:       true,
		TestVerification:        true,
		PerTaskBuildCheck:       true,
		CommitPerTask:           true,
		MaxBuildFixRounds:       2,
		MaxIntegrationFixRounds: 2,
		AmbiguityThreshold:      3,
		HaltOnAmbiguity:         false,
		SquashCommits:           true,
		BranchTemplate:          "cadre/issue-{issue}-{title}",
		ProgressRoot:            ".cadre/issues",
		WorktreeRoot:            ".cadre/worktrees",
		Hosting: HostingOptions{
			BaseBranch: "main",
		},
		Agent: AgentOptions{
			Command:        "claude",
			TimeoutSeconds: 600,
		},
		Commands: CommandOptions{},
	}
}

// systemConfigPath is the system-wide config file; userConfigPath returns
// the per-user one under the home directory, or "" when that cannot be
// resolved.
var systemConfigPath = "/etc/cadre/config.yaml"

func userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "cadre", "config.yaml")
}

// Load resolves Options by layering defaults, system config, user config,
// the project config at projectPath (or ".cadre/config.yaml" if empty),
// and CADRE_* environment variables, in that order. Errors reading the
// optional system/user layers are logged and skipped; an error in the
// project layer (when the file exists) is fatal.
func Load(projectPath string, log *slog.Logger) (*Options, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := Defaults()

	if _, err := os.Stat(systemConfigPath); err == nil {
		if err := mergeFile(opts, systemConfigPath); err != nil {
			log.Warn("failed to load system config", "path", systemConfigPath, "error", err)
		}
	}

	if up := userConfigPath(); up != "" {
		if _, err := os.Stat(up); err == nil {
			if err := mergeFile(opts, up); err != nil {
				log.Warn("failed to load user config", "path", up, "error", err)
			}
		}
	}

	if projectPath == "" {
		projectPath = filepath.Join(".cadre", "config.yaml")
	}
	if _, err := os.Stat(projectPath); err == nil {
		if err := mergeFile(opts, projectPath); err != nil {
			return nil, fmt.Errorf("project config %s: %w", projectPath, err)
		}
	}

	applyEnv(opts)

	return opts, nil
}

// mergeFile strict-decodes the YAML at path directly onto opts: yaml.v3
// only sets fields present in the document, leaving fields already set by
// an earlier layer untouched, so layering is simply repeated decoding onto
// the same struct.
func mergeFile(opts *Options, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return strictUnmarshal(data, opts)
}

// strictUnmarshal rejects unknown top-level or nested keys before
// decoding, per the spec's "unknown options rejected at load time".
func strictUnmarshal(data []byte, out *Options) error {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if len(node.Content) == 0 {
		return nil
	}
	if err := checkUnknownKeys(node.Content[0], reflect.TypeOf(*out), ""); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// checkUnknownKeys walks a YAML mapping node and fails if any key has no
// corresponding yaml-tagged field on t, recursing into nested struct
// fields (Hosting, Agent, Commands).
func checkUnknownKeys(node *yaml.Node, t reflect.Type, path string) error {
	if node.Kind != yaml.MappingNode {
		return nil
	}

	allowed := make(map[string]reflect.StructField, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("yaml"), ",")[0]
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		allowed[name] = f
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]

		field, ok := allowed[key]
		if !ok {
			full := key
			if path != "" {
				full = path + "." + key
			}
			return fmt.Errorf("unknown config key %q", full)
		}

		if field.Type.Kind() == reflect.Struct {
			full := key
			if path != "" {
				full = path + "." + key
			}
			if err := checkUnknownKeys(val, field.Type, full); err != nil {
				return err
			}
		}
	}
	return nil
}

// envBinding pairs an environment variable with the Options field it
// overlays.
type envBinding struct {
	key   string
	apply func(v *viper.Viper, opts *Options)
}

// applyEnv overlays CADRE_* environment variables onto opts, using viper
// purely as the env-var reader; the on-disk layering above is hand-rolled
// YAML decoding, kept separate from this env-var pass.
func applyEnv(opts *Options) {
	v := viper.New()
	v.SetEnvPrefix("CADRE")
	v.AutomaticEnv()

	bindings := []envBinding{
		{"MAX_PARALLEL_ISSUES", func(v *viper.Viper, o *Options) { bindInt(v, "MAX_PARALLEL_ISSUES", &o.MaxParallelIssues) }},
		{"MAX_PARALLEL_AGENTS", func(v *viper.Viper, o *Options) { bindInt(v, "MAX_PARALLEL_AGENTS", &o.MaxParallelAgents) }},
		{"MAX_RETRIES_PER_TASK", func(v *viper.Viper, o *Options) { bindInt(v, "MAX_RETRIES_PER_TASK", &o.MaxRetriesPerTask) }},
		{"DRY_RUN", func(v *viper.Viper, o *Options) { bindBool(v, "DRY_RUN", &o.DryRun) }},
		{"RESUME", func(v *viper.Viper, o *Options) { bindBool(v, "RESUME", &o.Resume) }},
		{"INVOCATION_DELAY_MS", func(v *viper.Viper, o *Options) { bindInt(v, "INVOCATION_DELAY_MS", &o.InvocationDelayMs) }},
		{"BUILD_VERIFICATION", func(v *viper.Viper, o *Options) { bindBool(v, "BUILD_VERIFICATION", &o.BuildVerification) }},
		{"TEST_VERIFICATION", func(v *viper.Viper, o *Options) { bindBool(v, "TEST_VERIFICATION", &o.TestVerification) }},
		{"PER_TASK_BUILD_CHECK", func(v *viper.Viper, o *Options) { bindBool(v, "PER_TASK_BUILD_CHECK", &o.PerTaskBuildCheck) }},
		{"MAX_BUILD_FIX_ROUNDS", func(v *viper.Viper, o *Options) { bindInt(v, "MAX_BUILD_FIX_ROUNDS", &o.MaxBuildFixRounds) }},
		{"MAX_INTEGRATION_FIX_ROUNDS", func(v *viper.Viper, o *Options) {
			bindInt(v, "MAX_INTEGRATION_FIX_ROUNDS", &o.MaxIntegrationFixRounds)
		}},
		{"AMBIGUITY_THRESHOLD", func(v *viper.Viper, o *Options) { bindInt(v, "AMBIGUITY_THRESHOLD", &o.AmbiguityThreshold) }},
		{"HALT_ON_AMBIGUITY", func(v *viper.Viper, o *Options) { bindBool(v, "HALT_ON_AMBIGUITY", &o.HaltOnAmbiguity) }},
		{"SKIP_VALIDATION", func(v *viper.Viper, o *Options) { bindBool(v, "SKIP_VALIDATION", &o.SkipValidation) }},
		{"RESPOND_TO_REVIEWS", func(v *viper.Viper, o *Options) { bindBool(v, "RESPOND_TO_REVIEWS", &o.RespondToReviews) }},
		{"AUTO_REPLY_ON_RESOLVED", func(v *viper.Viper, o *Options) { bindBool(v, "AUTO_REPLY_ON_RESOLVED", &o.AutoReplyOnResolved) }},
		{"SQUASH_COMMITS", func(v *viper.Viper, o *Options) { bindBool(v, "SQUASH_COMMITS", &o.SquashCommits) }},
		{"BRANCH_TEMPLATE", func(v *viper.Viper, o *Options) { bindString(v, "BRANCH_TEMPLATE", &o.BranchTemplate) }},
		{"HOSTING_PROVIDER", func(v *viper.Viper, o *Options) { bindString(v, "HOSTING_PROVIDER", &o.Hosting.Provider) }},
		{"HOSTING_OWNER", func(v *viper.Viper, o *Options) { bindString(v, "HOSTING_OWNER", &o.Hosting.Owner) }},
		{"HOSTING_REPO", func(v *viper.Viper, o *Options) { bindString(v, "HOSTING_REPO", &o.Hosting.Repo) }},
		{"HOSTING_BASE_BRANCH", func(v *viper.Viper, o *Options) { bindString(v, "HOSTING_BASE_BRANCH", &o.Hosting.BaseBranch) }},
		{"AGENT_COMMAND", func(v *viper.Viper, o *Options) { bindString(v, "AGENT_COMMAND", &o.Agent.Command) }},
		{"AGENT_TIMEOUT_SECONDS", func(v *viper.Viper, o *Options) { bindInt(v, "AGENT_TIMEOUT_SECONDS", &o.Agent.TimeoutSeconds) }},
	}

	for _, b := range bindings {
		_ = v.BindEnv(b.key)
		b.apply(v, opts)
	}
}

func bindInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func bindBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

func bindString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}
