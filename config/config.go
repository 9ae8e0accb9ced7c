// Package config loads environment-based settings shared by the fleet services.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// ScaleConfig defines robot/job counts for a named fleet scale.
type ScaleConfig struct {
	Robots int
	Jobs   int
}

// ScaleMap defines the default scale presets.
var ScaleMap = map[string]ScaleConfig{
	"mini":  {Robots: 5, Jobs: 5},
	"small": {Robots: 5, Jobs: 25},
	"demo":  {Robots: 10, Jobs: 50},
	"large": {Robots: 20, Jobs: 100},
}

// ValidScale reports whether name is a known scale preset.
func ValidScale(name string) bool {
	_, ok := ScaleMap[name]
	return ok
}

// ValidMode reports whether name is a supported dispatch mode.
func ValidMode(name string) bool {
	return name == "baseline" || name == "ga"
}

// Sim groups simulation engine parameters.
type Sim struct {
	TickHz                int
	WorldSize             float64
	MaxSimSeconds         int
	ServiceTimeS          int
	RobotSpeedMin         float64
	RobotSpeedMax         float64
	ChargeRate            float64
	ChargeResumeThreshold float64
	SlackMinS             int
	SlackMaxS             int
}

// GA groups genetic-algorithm parameters.
type GA struct {
	PopulationSize  int
	Generations     int
	EliteSize       int
	MutationRate    float64
	CrossoverRate   float64
	ReplanIntervalS int
}

// Config stores parsed environment configuration for all services.
type Config struct {
	DefaultScale string
	DefaultSeed  int
	DefaultMode  string

	Sim Sim
	GA  GA

	BatteryThreshold float64

	APIPort       int
	OptimizerPort int
	ViewerPort    int
	OptimizerURL  string

	RabbitHost   string
	RabbitPort   string
	RabbitUser   string
	RabbitPass   string
	ExchangeName string

	SQLitePath string
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DefaultScale: getenv("FLEET_SCALE", "demo"),
		DefaultMode:  getenv("FLEET_MODE", "baseline"),
		RabbitHost:   getenv("RABBITMQ_HOST", "rabbitmq"),
		RabbitPort:   getenv("RABBITMQ_PORT", "5672"),
		RabbitUser:   getenv("RABBITMQ_USER", "amr"),
		RabbitPass:   getenv("RABBITMQ_PASS", "amrpass"),
		ExchangeName: getenv("EXCHANGE_NAME", "amr.events"),
		SQLitePath:   getenv("SQLITE_PATH", "fleet.db"),
		OptimizerURL: getenv("OPTIMIZER_URL", "http://optimizer:8001"),
	}

	var err error
	if cfg.DefaultSeed, err = intEnv("FLEET_SEED", 42); err != nil {
		return nil, err
	}
	if cfg.APIPort, err = intEnv("FLEET_API_PORT", 8000); err != nil {
		return nil, err
	}
	if cfg.OptimizerPort, err = intEnv("OPTIMIZER_PORT", 8001); err != nil {
		return nil, err
	}
	if cfg.ViewerPort, err = intEnv("VIEWER_PORT", 8002); err != nil {
		return nil, err
	}
	if cfg.Sim.TickHz, err = intEnv("SIM_TICK_HZ", 5); err != nil {
		return nil, err
	}
	if cfg.Sim.WorldSize, err = floatEnv("WORLD_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.Sim.MaxSimSeconds, err = intEnv("MAX_SIM_SECONDS", 3600); err != nil {
		return nil, err
	}
	if cfg.Sim.ServiceTimeS, err = intEnv("SERVICE_TIME_S", 5); err != nil {
		return nil, err
	}
	if cfg.Sim.RobotSpeedMin, err = floatEnv("ROBOT_SPEED_MIN", 1.0); err != nil {
		return nil, err
	}
	if cfg.Sim.RobotSpeedMax, err = floatEnv("ROBOT_SPEED_MAX", 2.0); err != nil {
		return nil, err
	}
	if cfg.Sim.ChargeRate, err = floatEnv("CHARGE_RATE", 5.0); err != nil {
		return nil, err
	}
	if cfg.Sim.ChargeResumeThreshold, err = floatEnv("CHARGE_RESUME_THRESHOLD", 20.0); err != nil {
		return nil, err
	}
	if cfg.Sim.SlackMinS, err = intEnv("DEADLINE_SLACK_MIN_S", 30); err != nil {
		return nil, err
	}
	if cfg.Sim.SlackMaxS, err = intEnv("DEADLINE_SLACK_MAX_S", 240); err != nil {
		return nil, err
	}
	if cfg.BatteryThreshold, err = floatEnv("BATTERY_THRESHOLD", 20.0); err != nil {
		return nil, err
	}
	if cfg.GA.PopulationSize, err = intEnv("GA_POPULATION_SIZE", 64); err != nil {
		return nil, err
	}
	if cfg.GA.Generations, err = intEnv("GA_GENERATIONS", 80); err != nil {
		return nil, err
	}
	if cfg.GA.EliteSize, err = intEnv("GA_ELITE_SIZE", 4); err != nil {
		return nil, err
	}
	if cfg.GA.MutationRate, err = floatEnv("GA_MUTATION_RATE", 0.10); err != nil {
		return nil, err
	}
	if cfg.GA.CrossoverRate, err = floatEnv("GA_CROSSOVER_RATE", 0.90); err != nil {
		return nil, err
	}
	if cfg.GA.ReplanIntervalS, err = intEnv("GA_REPLAN_INTERVAL_S", 0); err != nil {
		return nil, err
	}

	if !ValidScale(cfg.DefaultScale) {
		return nil, fmt.Errorf("invalid FLEET_SCALE: %s", cfg.DefaultScale)
	}
	if !ValidMode(cfg.DefaultMode) {
		return nil, fmt.Errorf("invalid FLEET_MODE: %s", cfg.DefaultMode)
	}
	if cfg.Sim.TickHz <= 0 {
		return nil, fmt.Errorf("SIM_TICK_HZ must be > 0")
	}
	if cfg.Sim.RobotSpeedMin <= 0 || cfg.Sim.RobotSpeedMax < cfg.Sim.RobotSpeedMin {
		return nil, fmt.Errorf("invalid robot speed range [%v, %v]", cfg.Sim.RobotSpeedMin, cfg.Sim.RobotSpeedMax)
	}
	return cfg, nil
}

// RabbitURL returns the AMQP URL used by publishers and consumers.
func (c *Config) RabbitURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.RabbitUser, c.RabbitPass, c.RabbitHost, c.RabbitPort)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid int for %s: %q: %w", key, raw, err)
	}
	return v, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float for %s: %q: %w", key, raw, err)
	}
	return v, nil
}
