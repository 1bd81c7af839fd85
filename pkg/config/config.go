// Package config holds engine-wide numeric tolerances and runtime settings.
//
// The tolerance table distinguishes pure-ratio comparisons (exact up to
// floating-point representation) from inverted/multiplied results, which
// accumulate error through the LU solve.
package config

import (
	"os"
	"strconv"
)

// Tolerances is the engine numeric tolerance table.
type Tolerances struct {
	// Ratio applies to pure ratio checks (bridge share sums, deflators).
	Ratio float64 `yaml:"ratio" json:"ratio"`
	// Inverse applies to results of factorized solves and matrix products.
	Inverse float64 `yaml:"inverse" json:"inverse"`
	// RAS is the convergence threshold on max absolute row/column error.
	RAS float64 `yaml:"ras" json:"ras"`
	// RASMaxIterations bounds the RAS loop.
	RASMaxIterations int `yaml:"ras_max_iterations" json:"ras_max_iterations"`
}

// Config holds engine configuration.
type Config struct {
	LogLevel     string
	DatabasePath string
	Tolerances   Tolerances
}

// DefaultTolerances returns the engine defaults.
func DefaultTolerances() Tolerances {
	return Tolerances{
		Ratio:            1e-10,
		Inverse:          1e-6,
		RAS:              1e-8,
		RASMaxIterations: 1000,
	}
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbPath := os.Getenv("IMPACTOS_DB")
	if dbPath == "" {
		dbPath = "impactos.db"
	}

	tol := DefaultTolerances()
	if v := os.Getenv("RAS_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			tol.RAS = f
		}
	}
	if v := os.Getenv("RAS_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			tol.RASMaxIterations = n
		}
	}

	return &Config{
		LogLevel:     logLevel,
		DatabasePath: dbPath,
		Tolerances:   tol,
	}
}
