package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del gate.
type Config struct {
	Gate     GateConfig     `yaml:"gate"`
	Shadow   ShadowConfig   `yaml:"shadow"`
	Learning LearningConfig `yaml:"learning"`
	Feed     FeedConfig     `yaml:"feed"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// GateConfig controla la evaluación de señales.
type GateConfig struct {
	MinCompositeScore  float64 `yaml:"min_composite_score"`
	MaxSpreadBps       float64 `yaml:"max_spread_bps"`
	MaxSnapshotAgeSecs int     `yaml:"max_snapshot_age_seconds"`
	MaxPerSymbol       int     `yaml:"max_per_symbol"`
	SweepSeconds       int     `yaml:"sweep_seconds"` // cadencia del barrido de TTL
	DefaultTTLSeconds  int     `yaml:"default_ttl_seconds"`
}

// ShadowConfig controla la simulación contrafactual.
type ShadowConfig struct {
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	ProfitTargetPct float64 `yaml:"profit_target_pct"`
	MaxHoldSeconds  int     `yaml:"max_hold_seconds"`
	SweepSeconds    int     `yaml:"sweep_seconds"`
}

// LearningConfig controla la adaptación de pesos.
type LearningConfig struct {
	CadenceSeconds int     `yaml:"cadence_seconds"`
	MinSamples     int     `yaml:"min_samples"`
	LearningRate   float64 `yaml:"learning_rate"`
}

// FeedConfig contiene los endpoints del feed de mercado.
type FeedConfig struct {
	BaseURL   string   `yaml:"base_url"`
	StreamURL string   `yaml:"stream_url"`
	Symbols   []string `yaml:"symbols"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Default devuelve la configuración por defecto, sin leer ningún archivo.
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// GateSweep devuelve la cadencia del barrido de TTL como time.Duration.
func (c *Config) GateSweep() time.Duration {
	return time.Duration(c.Gate.SweepSeconds) * time.Second
}

// DefaultTTL devuelve el TTL por defecto de una señal.
func (c *Config) DefaultTTL() time.Duration {
	return time.Duration(c.Gate.DefaultTTLSeconds) * time.Second
}

// MaxHold devuelve la ventana máxima de una posición shadow.
func (c *Config) MaxHold() time.Duration {
	return time.Duration(c.Shadow.MaxHoldSeconds) * time.Second
}

// ShadowSweep devuelve la cadencia del barrido shadow.
func (c *Config) ShadowSweep() time.Duration {
	return time.Duration(c.Shadow.SweepSeconds) * time.Second
}

// LearningCadence devuelve el intervalo entre ciclos de aprendizaje.
func (c *Config) LearningCadence() time.Duration {
	return time.Duration(c.Learning.CadenceSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("FEED_BASE_URL"); v != "" {
		cfg.Feed.BaseURL = v
	}
	if v := os.Getenv("FEED_STREAM_URL"); v != "" {
		cfg.Feed.StreamURL = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Gate.MinCompositeScore <= 0 {
		cfg.Gate.MinCompositeScore = 0.10
	}
	if cfg.Gate.MaxSpreadBps <= 0 {
		cfg.Gate.MaxSpreadBps = 50
	}
	if cfg.Gate.MaxSnapshotAgeSecs <= 0 {
		cfg.Gate.MaxSnapshotAgeSecs = 5
	}
	if cfg.Gate.MaxPerSymbol <= 0 {
		cfg.Gate.MaxPerSymbol = 3
	}
	if cfg.Gate.SweepSeconds <= 0 {
		cfg.Gate.SweepSeconds = 5
	}
	if cfg.Gate.DefaultTTLSeconds <= 0 {
		cfg.Gate.DefaultTTLSeconds = 120
	}
	if cfg.Shadow.StopLossPct <= 0 {
		cfg.Shadow.StopLossPct = 0.02
	}
	if cfg.Shadow.ProfitTargetPct <= 0 {
		cfg.Shadow.ProfitTargetPct = 0.03
	}
	if cfg.Shadow.MaxHoldSeconds <= 0 {
		cfg.Shadow.MaxHoldSeconds = 3600
	}
	if cfg.Shadow.SweepSeconds <= 0 {
		cfg.Shadow.SweepSeconds = 10
	}
	if cfg.Learning.CadenceSeconds <= 0 {
		cfg.Learning.CadenceSeconds = 300
	}
	if cfg.Learning.MinSamples <= 0 {
		cfg.Learning.MinSamples = 10
	}
	if cfg.Learning.LearningRate <= 0 {
		cfg.Learning.LearningRate = 4.0
	}
	if len(cfg.Feed.Symbols) == 0 {
		cfg.Feed.Symbols = []string{"BTC-USD", "ETH-USD"}
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "shadowgate.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
