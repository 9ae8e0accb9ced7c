package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSettings mirrors the optional YAML settings file. Zero values leave the
// corresponding environment/default value untouched.
type FileSettings struct {
	Sim struct {
		TickHz        int     `yaml:"tick_hz"`
		WorldSize     float64 `yaml:"world_size"`
		MaxSimSeconds int     `yaml:"max_sim_seconds"`
		ServiceTimeS  int     `yaml:"service_time_s"`
		RobotSpeedMin float64 `yaml:"robot_speed_min"`
		RobotSpeedMax float64 `yaml:"robot_speed_max"`
	} `yaml:"sim"`
	GA struct {
		PopulationSize  int     `yaml:"population_size"`
		Generations     int     `yaml:"generations"`
		EliteSize       int     `yaml:"elite_size"`
		MutationRate    float64 `yaml:"mutation_rate"`
		CrossoverRate   float64 `yaml:"crossover_rate"`
		ReplanIntervalS int     `yaml:"replan_interval_s"`
	} `yaml:"ga"`
	BatteryThreshold float64 `yaml:"battery_threshold"`
}

// ApplyFile overlays settings from a YAML file onto cfg.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}
	var fs FileSettings
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return fmt.Errorf("parse settings file: %w", err)
	}
	if fs.Sim.TickHz > 0 {
		c.Sim.TickHz = fs.Sim.TickHz
	}
	if fs.Sim.WorldSize > 0 {
		c.Sim.WorldSize = fs.Sim.WorldSize
	}
	if fs.Sim.MaxSimSeconds > 0 {
		c.Sim.MaxSimSeconds = fs.Sim.MaxSimSeconds
	}
	if fs.Sim.ServiceTimeS > 0 {
		c.Sim.ServiceTimeS = fs.Sim.ServiceTimeS
	}
	if fs.Sim.RobotSpeedMin > 0 {
		c.Sim.RobotSpeedMin = fs.Sim.RobotSpeedMin
	}
	if fs.Sim.RobotSpeedMax > 0 {
		c.Sim.RobotSpeedMax = fs.Sim.RobotSpeedMax
	}
	if fs.GA.PopulationSize > 0 {
		c.GA.PopulationSize = fs.GA.PopulationSize
	}
	if fs.GA.Generations > 0 {
		c.GA.Generations = fs.GA.Generations
	}
	if fs.GA.EliteSize > 0 {
		c.GA.EliteSize = fs.GA.EliteSize
	}
	if fs.GA.MutationRate > 0 {
		c.GA.MutationRate = fs.GA.MutationRate
	}
	if fs.GA.CrossoverRate > 0 {
		c.GA.CrossoverRate = fs.GA.CrossoverRate
	}
	if fs.GA.ReplanIntervalS > 0 {
		c.GA.ReplanIntervalS = fs.GA.ReplanIntervalS
	}
	if fs.BatteryThreshold > 0 {
		c.BatteryThreshold = fs.BatteryThreshold
	}
	return nil
}
