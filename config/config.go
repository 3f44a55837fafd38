// Package config loads host application settings from the environment and optional .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/arloliu/go-gcodelink/stream"
)

// Config holds the settings of a G-code host process.
type Config struct {
	// Printer
	PrinterID   string
	SerialPort  string
	BaudRate    int
	UseEmulator bool
	LineNumbers bool
	AckTimeout  time.Duration

	// Pause
	PauseGCode           string
	ResumeGCode          string
	LayersToPause        []int
	FilamentRunoutSensor bool
	PerimeterSpeed       float64

	// HTTP
	HTTPAddr string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MQTT
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	// Application
	LogLevel string
}

// Load reads the given .env files, or ./.env when none are given, then builds a Config
// from the environment. A missing .env file is not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load env file: %w", err)
	}

	cfg := &Config{
		PrinterID:       getEnv("PRINTER_ID", "printer-1"),
		SerialPort:      getEnv("SERIAL_PORT", ""),
		PauseGCode:      getEnv("PAUSE_GCODE", ""),
		ResumeGCode:     getEnv("RESUME_GCODE", ""),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", ""),
		DBName:          getEnv("DB_NAME", "gcodelink"),
		RedisHost:       getEnv("REDIS_HOST", "localhost"),
		RedisPort:       getEnv("REDIS_PORT", "6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		MQTTBroker:      getEnv("MQTT_BROKER", ""),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "gcodelink"),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "gcodelink"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.BaudRate, err = strconv.Atoi(getEnv("BAUD_RATE", "115200")); err != nil {
		return nil, fmt.Errorf("config: BAUD_RATE: %w", err)
	}
	if cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("config: REDIS_DB: %w", err)
	}
	if cfg.UseEmulator, err = strconv.ParseBool(getEnv("USE_EMULATOR", "true")); err != nil {
		return nil, fmt.Errorf("config: USE_EMULATOR: %w", err)
	}
	if cfg.LineNumbers, err = strconv.ParseBool(getEnv("LINE_NUMBERS", "true")); err != nil {
		return nil, fmt.Errorf("config: LINE_NUMBERS: %w", err)
	}
	if cfg.FilamentRunoutSensor, err = strconv.ParseBool(getEnv("FILAMENT_RUNOUT_SENSOR", "false")); err != nil {
		return nil, fmt.Errorf("config: FILAMENT_RUNOUT_SENSOR: %w", err)
	}
	if cfg.PerimeterSpeed, err = strconv.ParseFloat(getEnv("PERIMETER_SPEED", "0"), 64); err != nil {
		return nil, fmt.Errorf("config: PERIMETER_SPEED: %w", err)
	}
	if cfg.AckTimeout, err = time.ParseDuration(getEnv("ACK_TIMEOUT", "2m")); err != nil {
		return nil, fmt.Errorf("config: ACK_TIMEOUT: %w", err)
	}
	if cfg.LayersToPause, err = parseInts(getEnv("LAYERS_TO_PAUSE", "")); err != nil {
		return nil, fmt.Errorf("config: LAYERS_TO_PAUSE: %w", err)
	}

	return cfg, nil
}

// PauseSettings returns the pause stage settings.
func (c *Config) PauseSettings() stream.PauseSettings {
	return stream.PauseSettings{
		PauseGCode:           c.PauseGCode,
		ResumeGCode:          c.ResumeGCode,
		LayersToPause:        c.LayersToPause,
		FilamentRunoutSensor: c.FilamentRunoutSensor,
		PerimeterSpeed:       c.PerimeterSpeed,
	}
}

// PostgresDSN returns the connection string for the pause journal.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// RedisAddr returns the host:port of the snapshot store.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseInts parses a comma separated list such as "2, 5,10".
func parseInts(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}

	return out, nil
}
