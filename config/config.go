// Package config handles loop configuration loading.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/control"
	"github.com/oscilla-xyz/go-oscilla/koopman"
	"github.com/oscilla-xyz/go-oscilla/lyapunov"
)

// Config is the root configuration structure.
type Config struct {
	Network   NetworkConfig   `yaml:"network"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Control   ControlConfig   `yaml:"control"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Storage   StorageConfig   `yaml:"storage"`
}

// NetworkConfig holds oscillator network settings.
type NetworkConfig struct {
	Coupling float64 `yaml:"coupling"`
	Dt       float64 `yaml:"dt"`
}

// BufferConfig holds observation window settings.
type BufferConfig struct {
	Capacity int `yaml:"capacity"`
}

// EstimatorConfig holds spectral fit settings.
type EstimatorConfig struct {
	RegParam         float64          `yaml:"reg_param"`
	LambdaCut        float64          `yaml:"lambda_cut"`
	DominantK        int              `yaml:"dominant_k"`
	Shift            int              `yaml:"shift"`
	Rank             int              `yaml:"rank"`
	Center           bool             `yaml:"center"`
	AnalysisInterval int              `yaml:"analysis_interval"`
	MinModes         int              `yaml:"min_modes"`
	Weighting        string           `yaml:"weighting"` // uniform or lambda
	Dictionary       DictionaryConfig `yaml:"dictionary"`
}

// DictionaryConfig selects the observable dictionary for lifted fits.
type DictionaryConfig struct {
	Type string `yaml:"type"` // direct, rbf or fourier

	// RBF settings
	NCenters int     `yaml:"n_centers"`
	Sigma    float64 `yaml:"sigma"`

	// Fourier settings
	NFrequencies int     `yaml:"n_frequencies"`
	MaxFreq      float64 `yaml:"max_freq"`
}

// ControlConfig holds feedback gain settings.
type ControlConfig struct {
	MinGain float64 `yaml:"min_gain"`
	MaxGain float64 `yaml:"max_gain"`
}

// MonitorConfig holds live monitoring settings.
type MonitorConfig struct {
	TimeoutSeconds     float64 `yaml:"timeout_seconds"`
	StabilityThreshold float64 `yaml:"stability_threshold"`
	SyncThreshold      float64 `yaml:"sync_threshold"`
	BreakerFailures    uint32  `yaml:"breaker_failures"`
	CooldownSeconds    float64 `yaml:"cooldown_seconds"`
	MaxAlertHistory    int     `yaml:"max_alert_history"`
}

// StorageConfig holds run recording settings.
type StorageConfig struct {
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			Coupling: 0.5,
			Dt:       0.1,
		},
		Buffer: BufferConfig{
			Capacity: 100,
		},
		Estimator: EstimatorConfig{
			RegParam:         1e-10,
			LambdaCut:        1.0,
			DominantK:        3,
			Shift:            1,
			Center:           true,
			AnalysisInterval: 25,
			MinModes:         1,
			Weighting:        "uniform",
			Dictionary: DictionaryConfig{
				Type: "direct",
			},
		},
		Control: ControlConfig{
			MinGain: 0.55,
			MaxGain: 1.0,
		},
		Monitor: MonitorConfig{
			TimeoutSeconds:     2.0,
			StabilityThreshold: -0.2,
			SyncThreshold:      0.5,
			BreakerFailures:    3,
			CooldownSeconds:    30.0,
			MaxAlertHistory:    256,
		},
		Storage: StorageConfig{
			Path:    "oscilla.db",
			Enabled: false,
		},
	}
}

// Load loads configuration from a file. Missing keys keep defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns default if not found.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	return Load(path)
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	bad := func(field string, v any) error {
		return fmt.Errorf("config: %s = %v: %w", field, v, oscilla.ErrInvalidConfig)
	}

	if c.Network.Coupling < 0 || math.IsNaN(c.Network.Coupling) {
		return bad("network.coupling", c.Network.Coupling)
	}
	if c.Network.Dt <= 0 || math.IsNaN(c.Network.Dt) {
		return bad("network.dt", c.Network.Dt)
	}
	if c.Buffer.Capacity < 2 {
		return bad("buffer.capacity", c.Buffer.Capacity)
	}
	if c.Estimator.RegParam <= 0 {
		return bad("estimator.reg_param", c.Estimator.RegParam)
	}
	if c.Estimator.LambdaCut <= 0 {
		return bad("estimator.lambda_cut", c.Estimator.LambdaCut)
	}
	if c.Estimator.DominantK < 0 {
		return bad("estimator.dominant_k", c.Estimator.DominantK)
	}
	if c.Estimator.Shift < 1 {
		return bad("estimator.shift", c.Estimator.Shift)
	}
	if c.Estimator.Rank < 0 {
		return bad("estimator.rank", c.Estimator.Rank)
	}
	if c.Estimator.AnalysisInterval < 1 {
		return bad("estimator.analysis_interval", c.Estimator.AnalysisInterval)
	}
	if c.Estimator.MinModes < 1 {
		return bad("estimator.min_modes", c.Estimator.MinModes)
	}
	switch c.Estimator.Weighting {
	case "uniform", "lambda":
	default:
		return bad("estimator.weighting", c.Estimator.Weighting)
	}
	switch c.Estimator.Dictionary.Type {
	case "direct":
	case "rbf":
		if c.Estimator.Dictionary.NCenters < 1 {
			return bad("estimator.dictionary.n_centers", c.Estimator.Dictionary.NCenters)
		}
		if c.Estimator.Dictionary.Sigma <= 0 {
			return bad("estimator.dictionary.sigma", c.Estimator.Dictionary.Sigma)
		}
	case "fourier":
		if c.Estimator.Dictionary.NFrequencies < 1 {
			return bad("estimator.dictionary.n_frequencies", c.Estimator.Dictionary.NFrequencies)
		}
		if c.Estimator.Dictionary.MaxFreq <= 0 {
			return bad("estimator.dictionary.max_freq", c.Estimator.Dictionary.MaxFreq)
		}
	default:
		return bad("estimator.dictionary.type", c.Estimator.Dictionary.Type)
	}
	if c.Control.MinGain < 0 || c.Control.MaxGain > 2 || c.Control.MinGain > c.Control.MaxGain {
		return bad("control.min_gain/max_gain",
			fmt.Sprintf("[%g, %g]", c.Control.MinGain, c.Control.MaxGain))
	}
	if c.Monitor.TimeoutSeconds <= 0 {
		return bad("monitor.timeout_seconds", c.Monitor.TimeoutSeconds)
	}
	if c.Monitor.SyncThreshold < 0 || c.Monitor.SyncThreshold > 1 {
		return bad("monitor.sync_threshold", c.Monitor.SyncThreshold)
	}
	if c.Monitor.StabilityThreshold < -1 || c.Monitor.StabilityThreshold > 1 {
		return bad("monitor.stability_threshold", c.Monitor.StabilityThreshold)
	}
	if c.Monitor.BreakerFailures < 1 {
		return bad("monitor.breaker_failures", c.Monitor.BreakerFailures)
	}
	if c.Monitor.CooldownSeconds <= 0 {
		return bad("monitor.cooldown_seconds", c.Monitor.CooldownSeconds)
	}
	if c.Monitor.MaxAlertHistory < 1 {
		return bad("monitor.max_alert_history", c.Monitor.MaxAlertHistory)
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return bad("storage.path", c.Storage.Path)
	}
	return nil
}

// EstimatorOptions maps the estimator section to fit options.
func (c *Config) EstimatorOptions() koopman.Options {
	return koopman.Options{
		RegParam:  c.Estimator.RegParam,
		LambdaCut: c.Estimator.LambdaCut,
		DominantK: c.Estimator.DominantK,
		Shift:     c.Estimator.Shift,
		Rank:      c.Estimator.Rank,
		Center:    c.Estimator.Center,
	}
}

// ControllerOptions maps the control section to controller options.
func (c *Config) ControllerOptions() control.Options {
	return control.Options{
		MinGain: c.Control.MinGain,
		MaxGain: c.Control.MaxGain,
	}
}

// CertificateOptions maps the estimator section to certificate options.
func (c *Config) CertificateOptions() lyapunov.Options {
	opts := lyapunov.DefaultOptions()
	opts.MinModes = c.Estimator.MinModes
	if c.Estimator.Weighting == "lambda" {
		opts.Weights = lyapunov.WeightLambda
	}
	return opts
}

// Dictionary builds the configured observable dictionary for a state of
// the given dimension. RBF centers are spread along the diagonal of the
// phase cube, which covers the near-synchronized manifold.
func (c *Config) Dictionary(dim int) (koopman.Dictionary, error) {
	d := c.Estimator.Dictionary
	switch d.Type {
	case "direct", "":
		return koopman.NewDirectDictionary(dim)
	case "rbf":
		centers := make([][]float64, d.NCenters)
		for i := range centers {
			centers[i] = make([]float64, dim)
			frac := 0.5
			if d.NCenters > 1 {
				frac = float64(i) / float64(d.NCenters-1)
			}
			for j := range centers[i] {
				centers[i][j] = -math.Pi + 2*math.Pi*frac
			}
		}
		return koopman.NewRBFDictionary(centers, d.Sigma)
	case "fourier":
		return koopman.NewFourierDictionary(dim, d.NFrequencies, d.MaxFreq)
	default:
		return nil, fmt.Errorf("config: dictionary type %q: %w",
			d.Type, oscilla.ErrInvalidConfig)
	}
}

// AnalysisTimeout returns the monitor timeout as a duration.
func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.Monitor.TimeoutSeconds * float64(time.Second))
}

// BreakerCooldown returns the breaker cooldown as a duration.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Monitor.CooldownSeconds * float64(time.Second))
}
