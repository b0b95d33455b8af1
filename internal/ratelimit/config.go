package ratelimit

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Default configuration values for the provider budget.
const (
	DefaultWindowSizeMs     = 60000
	DefaultWarningThreshold = 80
	DefaultPauseThreshold   = 90
)

// Environment variable names for budget configuration.
const (
	EnvBudgetPerWindow  = "PROVIDER_BUDGET_PER_WINDOW"
	EnvBudgetReserved   = "PROVIDER_BUDGET_RESERVED"
	EnvBudgetWindowMs   = "PROVIDER_BUDGET_WINDOW_MS"
	EnvWarningThreshold = "PROVIDER_BUDGET_WARNING_THRESHOLD"
	EnvPauseThreshold   = "PROVIDER_BUDGET_PAUSE_THRESHOLD"
)

// BudgetConfig holds the provider budget settings.
type BudgetConfig struct {
	// TotalPerWindow is the call budget per provider per window.
	// Environment: PROVIDER_BUDGET_PER_WINDOW, Default: 120
	TotalPerWindow int

	// Reserved is the share kept for interactive resolves.
	// Environment: PROVIDER_BUDGET_RESERVED, Default: 60
	Reserved int

	// WindowSizeMs is the window length in milliseconds.
	// Environment: PROVIDER_BUDGET_WINDOW_MS, Default: 60000
	WindowSizeMs int

	// WarningThreshold is the utilization percentage that gets logged.
	WarningThreshold int

	// PauseThreshold is the utilization percentage at which batch loops back off.
	PauseThreshold int
}

// NewBudgetConfig returns the defaults.
func NewBudgetConfig() *BudgetConfig {
	return &BudgetConfig{
		TotalPerWindow:   DefaultTotalBudget,
		Reserved:         DefaultReservedBudget,
		WindowSizeMs:     DefaultWindowSizeMs,
		WarningThreshold: DefaultWarningThreshold,
		PauseThreshold:   DefaultPauseThreshold,
	}
}

// LoadFromEnv loads configuration from environment variables.
// Invalid values are logged and replaced by defaults.
func LoadFromEnv() *BudgetConfig {
	cfg := NewBudgetConfig()

	if val := getEnvInt(EnvBudgetPerWindow, DefaultTotalBudget); val > 0 {
		cfg.TotalPerWindow = val
	} else if os.Getenv(EnvBudgetPerWindow) != "" {
		log.Printf("WARNING: Invalid %s value, using default %d", EnvBudgetPerWindow, DefaultTotalBudget)
	}

	if val := getEnvInt(EnvBudgetReserved, DefaultReservedBudget); val >= 0 {
		cfg.Reserved = val
	} else if os.Getenv(EnvBudgetReserved) != "" {
		log.Printf("WARNING: Invalid %s value, using default %d", EnvBudgetReserved, DefaultReservedBudget)
	}

	if val := getEnvInt(EnvBudgetWindowMs, DefaultWindowSizeMs); val > 0 {
		cfg.WindowSizeMs = val
	} else if os.Getenv(EnvBudgetWindowMs) != "" {
		log.Printf("WARNING: Invalid %s value, using default %d", EnvBudgetWindowMs, DefaultWindowSizeMs)
	}

	if val := getEnvInt(EnvWarningThreshold, DefaultWarningThreshold); val >= 0 && val <= 100 {
		cfg.WarningThreshold = val
	} else if os.Getenv(EnvWarningThreshold) != "" {
		log.Printf("WARNING: Invalid %s value, using default %d", EnvWarningThreshold, DefaultWarningThreshold)
	}

	if val := getEnvInt(EnvPauseThreshold, DefaultPauseThreshold); val >= 0 && val <= 100 {
		cfg.PauseThreshold = val
	} else if os.Getenv(EnvPauseThreshold) != "" {
		log.Printf("WARNING: Invalid %s value, using default %d", EnvPauseThreshold, DefaultPauseThreshold)
	}

	if err := cfg.Validate(); err != nil {
		log.Printf("WARNING: Budget configuration invalid: %v. Using defaults.", err)
		return NewBudgetConfig()
	}
	return cfg
}

// Validate ensures configuration is valid.
func (c *BudgetConfig) Validate() error {
	if c.TotalPerWindow <= 0 {
		return errors.New("TotalPerWindow must be positive")
	}
	if c.Reserved < 0 {
		return errors.New("Reserved cannot be negative")
	}
	if c.Reserved > c.TotalPerWindow {
		return fmt.Errorf("Reserved (%d) exceeds TotalPerWindow (%d)", c.Reserved, c.TotalPerWindow)
	}
	if c.WindowSizeMs <= 0 {
		return errors.New("WindowSizeMs must be positive")
	}
	if c.WarningThreshold < 0 || c.WarningThreshold > 100 {
		return fmt.Errorf("WarningThreshold must be between 0 and 100, got %d", c.WarningThreshold)
	}
	if c.PauseThreshold < 0 || c.PauseThreshold > 100 {
		return fmt.Errorf("PauseThreshold must be between 0 and 100, got %d", c.PauseThreshold)
	}
	if c.WarningThreshold > c.PauseThreshold {
		return fmt.Errorf("WarningThreshold (%d) cannot be greater than PauseThreshold (%d)",
			c.WarningThreshold, c.PauseThreshold)
	}
	return nil
}

// Window returns the window length as a duration.
func (c *BudgetConfig) Window() time.Duration {
	return time.Duration(c.WindowSizeMs) * time.Millisecond
}

// getEnvInt returns -1 when the variable is set but not an integer.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return -1
	}
	return intVal
}

// String returns a string representation of the configuration for logging.
func (c *BudgetConfig) String() string {
	return fmt.Sprintf(
		"BudgetConfig{TotalPerWindow: %d, Reserved: %d, WindowSizeMs: %d, WarningThreshold: %d%%, PauseThreshold: %d%%}",
		c.TotalPerWindow, c.Reserved, c.WindowSizeMs, c.WarningThreshold, c.PauseThreshold,
	)
}
