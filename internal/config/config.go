// Package config collects the service settings from flags and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
)

// Config holds everything the service needs at startup.
type Config struct {
	Addr             string
	LogLevel         string
	ModelsDir        string
	PCAArtifact      string
	SVMArtifact      string
	LogisticArtifact string
	RedisAddr        string
	CacheTTL         time.Duration
	MaxUploadBytes   int64
	ShutdownTimeout  time.Duration
}

// ModelSpec names a classifier artifact and the route it is served under.
type ModelSpec struct {
	Key  string
	Name string
	Path string
}

// Default returns the settings used when nothing is overridden.
func Default() Config {
	return Config{
		Addr:             ":8080",
		LogLevel:         "info",
		ModelsDir:        "models",
		PCAArtifact:      "malaria_pca.json",
		SVMArtifact:      "malaria_svc_model.json",
		LogisticArtifact: "logistic_regression_model.json",
		CacheTTL:         10 * time.Minute,
		MaxUploadBytes:   10 << 20,
		ShutdownTimeout:  15 * time.Second,
	}
}

// Flags returns the CLI flags, each bound to an environment variable.
func Flags() []cli.Flag {
	d := Default()
	return []cli.Flag{
		&cli.StringFlag{Name: "addr", Value: d.Addr, Usage: "Listen address", EnvVars: []string{"ADDR"}},
		&cli.StringFlag{Name: "log-level", Value: d.LogLevel, Usage: "Log level (debug, info, warn, error)", EnvVars: []string{"LOG_LEVEL"}},
		&cli.StringFlag{Name: "models-dir", Value: d.ModelsDir, Usage: "Directory holding the model artifacts", EnvVars: []string{"MODELS_DIR"}},
		&cli.StringFlag{Name: "pca-artifact", Value: d.PCAArtifact, Usage: "PCA artifact, relative to models-dir unless absolute", EnvVars: []string{"PCA_ARTIFACT"}},
		&cli.StringFlag{Name: "svm-artifact", Value: d.SVMArtifact, Usage: "SVM artifact, relative to models-dir unless absolute", EnvVars: []string{"SVM_ARTIFACT"}},
		&cli.StringFlag{Name: "logistic-artifact", Value: d.LogisticArtifact, Usage: "Logistic regression artifact, relative to models-dir unless absolute", EnvVars: []string{"LOGISTIC_ARTIFACT"}},
		&cli.StringFlag{Name: "redis-addr", Usage: "Redis address for the prediction cache; empty disables caching", EnvVars: []string{"REDIS_ADDR"}},
		&cli.DurationFlag{Name: "cache-ttl", Value: d.CacheTTL, Usage: "Lifetime of cached predictions", EnvVars: []string{"CACHE_TTL"}},
		&cli.Int64Flag{Name: "max-upload-bytes", Value: d.MaxUploadBytes, Usage: "Largest accepted request body", EnvVars: []string{"MAX_UPLOAD_BYTES"}},
		&cli.DurationFlag{Name: "shutdown-timeout", Value: d.ShutdownTimeout, Usage: "Grace period for in-flight requests on shutdown", EnvVars: []string{"SHUTDOWN_TIMEOUT"}},
	}
}

// FromContext reads the values of the flags defined by Flags.
func FromContext(c *cli.Context) Config {
	return Config{
		Addr:             c.String("addr"),
		LogLevel:         c.String("log-level"),
		ModelsDir:        c.String("models-dir"),
		PCAArtifact:      c.String("pca-artifact"),
		SVMArtifact:      c.String("svm-artifact"),
		LogisticArtifact: c.String("logistic-artifact"),
		RedisAddr:        c.String("redis-addr"),
		CacheTTL:         c.Duration("cache-ttl"),
		MaxUploadBytes:   c.Int64("max-upload-bytes"),
		ShutdownTimeout:  c.Duration("shutdown-timeout"),
	}
}

// PCAPath resolves the PCA artifact location.
func (c Config) PCAPath() string {
	return c.resolve(c.PCAArtifact)
}

// ModelSpecs lists the classifiers to load, keyed by route name.
func (c Config) ModelSpecs() []ModelSpec {
	return []ModelSpec{
		{Key: "svm", Name: "SVM", Path: c.resolve(c.SVMArtifact)},
		{Key: "logistic", Name: "Logistic Regression", Path: c.resolve(c.LogisticArtifact)},
	}
}

func (c Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.ModelsDir, path)
}

// Validate checks the settings and that every artifact file is present.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cache ttl must not be negative, got %s", c.CacheTTL))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must not be negative, got %s", c.ShutdownTimeout))
	}

	paths := []string{c.PCAPath()}
	for _, spec := range c.ModelSpecs() {
		paths = append(paths, spec.Path)
	}
	for _, path := range paths {
		if path == "" {
			errs = append(errs, errors.New("artifact path is empty"))
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("artifact %s: %w", path, err))
			continue
		}
		if info.IsDir() {
			errs = append(errs, fmt.Errorf("artifact %s is a directory", path))
		}
	}
	return errors.Join(errs...)
}
