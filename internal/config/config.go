// Package config loads the editem configuration file shared by the client
// commands and the daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/knaw-huc/editem/internal/connectors/localexec"
	"github.com/knaw-huc/editem/internal/elapsed"
	"github.com/knaw-huc/editem/internal/models"
	"github.com/knaw-huc/editem/internal/runner"
)

// Config holds both the client and the server configuration.
type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
}

// ClientConfig configures the TUI and the task commands.
type ClientConfig struct {
	// API is the base URL of the task server.
	API string `yaml:"api"`
	// Project scopes requests and push frames. Empty means per-task routes.
	Project string `yaml:"project,omitempty"`
	// Tasks declares the task panes. Empty means ask the server.
	Tasks []string `yaml:"tasks,omitempty"`
	// TimerPolicy is "legacy" or "strict".
	TimerPolicy string `yaml:"timer_policy"`
}

// ServerConfig configures the daemon.
type ServerConfig struct {
	Listen  string `yaml:"listen"`
	DB      string `yaml:"db"`
	WorkDir string `yaml:"workdir,omitempty"`
	// Runner holds the concurrency limits.
	Runner *runner.Config `yaml:"runner"`
	// Tasks are the runnable task definitions.
	Tasks []models.TaskDef `yaml:"tasks"`
	// Allowlist maps commands to their accepted first arguments.
	Allowlist map[string][]string `yaml:"allowlist"`
}

// scriptSnippet prints ten numbered steps, two of them on stderr, with two
// long pauses.
const scriptSnippet = `for i in 1 2 3 4 5 6 7 8 9 10; do
  case $i in
    2|4) echo "script step $i" >&2 ;;
    *) echo "script step $i" ;;
  esac
  case $i in
    3) sleep 5 ;;
    8) sleep 8 ;;
    *) sleep 1 ;;
  esac
done`

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			API:         "http://127.0.0.1:7466",
			TimerPolicy: elapsed.PolicyLegacy.String(),
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:7466",
			DB:     defaultDBPath(),
			Runner: runner.DefaultConfig(),
			Tasks: []models.TaskDef{
				{
					Name:       "function",
					Kind:       models.TaskKindFunction,
					Steps:      10,
					ErrorSteps: []int{2, 4},
					LongSteps:  map[int]int{8: 5, 9: 8},
				},
				{
					Name:    "script",
					Kind:    models.TaskKindScript,
					Command: "sh",
					Args:    []string{"-c", scriptSnippet},
				},
				{
					Name:  "workflow",
					Kind:  models.TaskKindFunction,
					Steps: 10,
				},
			},
			Allowlist: localexec.DefaultAllowlist(),
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "editem.db"
	}
	return filepath.Join(home, ".editem", "editem.db")
}

// DefaultPath returns ~/.editem/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home dir: %w", err)
	}
	return filepath.Join(home, ".editem", "config.yaml"), nil
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadFromHome loads configuration from ~/.editem/config.yaml.
func LoadFromHome() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// Save saves configuration to a YAML file, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Client.API) == "" {
		return fmt.Errorf("client.api is required")
	}
	if _, err := elapsed.ParsePolicy(c.Client.TimerPolicy); err != nil {
		return err
	}
	if c.Server.Runner == nil {
		c.Server.Runner = runner.DefaultConfig()
	}
	if c.Server.Runner.GlobalMax < 1 {
		return fmt.Errorf("server.runner.global_max must be at least 1")
	}

	seen := make(map[string]bool, len(c.Server.Tasks))
	for i, t := range c.Server.Tasks {
		if t.Name == "" || strings.Contains(t.Name, "/") {
			return fmt.Errorf("server.tasks[%d]: invalid name %q", i, t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("server.tasks: duplicate task %q", t.Name)
		}
		seen[t.Name] = true

		switch t.Kind {
		case models.TaskKindFunction:
			if t.Steps < 0 {
				return fmt.Errorf("task %q: steps must not be negative", t.Name)
			}
		case models.TaskKindScript:
			if t.Command == "" {
				return fmt.Errorf("task %q: command is required", t.Name)
			}
		default:
			return fmt.Errorf("task %q: invalid kind %q, must be: function or script", t.Name, t.Kind)
		}
	}
	return nil
}

// Timer returns the elapsed-time policy of the client.
func (c *Config) Timer() elapsed.Policy {
	p, _ := elapsed.ParsePolicy(c.Client.TimerPolicy)
	return p
}
