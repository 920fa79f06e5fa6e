// Package runner executes server tasks in the background and reports their
// progress and outcome to push subscribers.
package runner

import "time"

// Config defines the runner configuration.
type Config struct {
	// GlobalMax is the maximum number of tasks running at once.
	GlobalMax int `yaml:"global_max"`
	// ByConnector limits concurrent runs per connector. Function tasks
	// count against "builtin".
	ByConnector map[string]int `yaml:"by_connector"`
	// StepUnit is the duration of one function task step.
	StepUnit time.Duration `yaml:"step_unit"`
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() *Config {
	return &Config{
		GlobalMax: 10,
		ByConnector: map[string]int{
			"builtin":   10,
			"localexec": 5,
		},
		StepUnit: time.Second,
	}
}

// GetConnectorLimit returns the concurrency limit for a connector.
func (c *Config) GetConnectorLimit(connectorName string) int {
	if limit, ok := c.ByConnector[connectorName]; ok {
		return limit
	}
	return 1
}
