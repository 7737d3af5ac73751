package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDRecorder string
	MQTTClientIDWeb      string
	MQTTClientIDDisplay  string
	MQTTClientIDConsole  string
	MQTTClientIDProtocol string

	// Topics
	TopicSamples          string
	TopicBlinkStats       string
	TopicRecordingState   string
	TopicRecordingCommand string
	TopicProtocolEvent    string
	TopicProgress         string
	TopicCalibration      string
	TopicPose             string

	// SIEV Hardware
	SIEVSerialPort     string
	SIEVBaudRate       int
	SIEVTimeoutSeconds int

	// Acquisition
	SampleRateHz float64
	CameraDevice string

	// Recording
	DataPath        string
	FlushIntervalMs int
	FlushThreshold  int

	// Analysis
	SaccadeThreshold  float64 // °/s
	MinVCLDurationSec float64
	BlinkMinSec       float64
	BlinkMaxSec       float64

	// Calibration
	CalibrationDwellMs int

	// Web Server
	WebServerPort int

	// Display
	DisplayUpdateInterval int // milliseconds

	// Console
	ConsoleLogInterval int // milliseconds
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported (lowercase) so other packages cannot access it directly.
//     This enforces encapsulation and prevents external code from modifying config without proper locking.
//     Has package-level scope (visible to all functions in this package, persists for program lifetime).
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access. Write lock (Lock) for initialization,
//     read lock (RLock) for Get() allows multiple concurrent readers without blocking each other.
//
// External code must use InitGlobal() to set and Get() to read, ensuring thread safety.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := &Config{}
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_RECORDER":
		c.MQTTClientIDRecorder = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_PROTOCOL":
		c.MQTTClientIDProtocol = value

	// Topics
	case "TOPIC_SAMPLES":
		c.TopicSamples = value
	case "TOPIC_BLINK_STATS":
		c.TopicBlinkStats = value
	case "TOPIC_RECORDING_STATE":
		c.TopicRecordingState = value
	case "TOPIC_RECORDING_COMMAND":
		c.TopicRecordingCommand = value
	case "TOPIC_PROTOCOL_EVENT":
		c.TopicProtocolEvent = value
	case "TOPIC_PROGRESS":
		c.TopicProgress = value
	case "TOPIC_CALIBRATION":
		c.TopicCalibration = value
	case "TOPIC_POSE":
		c.TopicPose = value

	// SIEV Hardware
	case "SIEV_SERIAL_PORT":
		c.SIEVSerialPort = value
	case "SIEV_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SIEV_BAUD_RATE %q: %w", value, err)
		}
		c.SIEVBaudRate = rate
	case "SIEV_TIMEOUT_SECONDS":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SIEV_TIMEOUT_SECONDS %q: %w", value, err)
		}
		if secs < 1 || secs > 10 {
			return fmt.Errorf("SIEV_TIMEOUT_SECONDS must be 1-10, got %d", secs)
		}
		c.SIEVTimeoutSeconds = secs

	// Acquisition
	case "SAMPLE_RATE_HZ":
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid SAMPLE_RATE_HZ %q: %w", value, err)
		}
		if rate <= 0 {
			return fmt.Errorf("SAMPLE_RATE_HZ must be positive, got %g", rate)
		}
		c.SampleRateHz = rate
	case "CAMERA_DEVICE":
		c.CameraDevice = value

	// Recording
	case "DATA_PATH":
		c.DataPath = value
	case "FLUSH_INTERVAL_MS":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid FLUSH_INTERVAL_MS %q: %w", value, err)
		}
		c.FlushIntervalMs = interval
	case "FLUSH_THRESHOLD":
		threshold, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid FLUSH_THRESHOLD %q: %w", value, err)
		}
		if threshold < 1 {
			return fmt.Errorf("FLUSH_THRESHOLD must be positive, got %d", threshold)
		}
		c.FlushThreshold = threshold

	// Analysis
	case "SACCADE_THRESHOLD":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid SACCADE_THRESHOLD %q: %w", value, err)
		}
		c.SaccadeThreshold = v
	case "MIN_VCL_DURATION_SEC":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid MIN_VCL_DURATION_SEC %q: %w", value, err)
		}
		c.MinVCLDurationSec = v
	case "BLINK_MIN_SEC":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid BLINK_MIN_SEC %q: %w", value, err)
		}
		c.BlinkMinSec = v
	case "BLINK_MAX_SEC":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid BLINK_MAX_SEC %q: %w", value, err)
		}
		c.BlinkMaxSec = v

	// Calibration
	case "CALIBRATION_DWELL_MS":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CALIBRATION_DWELL_MS %q: %w", value, err)
		}
		c.CalibrationDwellMs = ms

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval

	// Console
	case "CONSOLE_LOG_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CONSOLE_LOG_INTERVAL %q: %w", value, err)
		}
		c.ConsoleLogInterval = interval

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.SIEVSerialPort == "" {
		return fmt.Errorf("SIEV_SERIAL_PORT is required")
	}
	if c.SIEVBaudRate == 0 {
		return fmt.Errorf("SIEV_BAUD_RATE is required")
	}
	if c.SampleRateHz == 0 {
		return fmt.Errorf("SAMPLE_RATE_HZ is required")
	}
	if c.DataPath == "" {
		return fmt.Errorf("DATA_PATH is required")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
// Acquires write lock (configMu.Lock) during initialization to prevent concurrent access.
// This is the only function that can set globalConfig.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
// Uses read lock (configMu.RLock) to allow multiple concurrent readers without blocking.
// This is thread-safe and efficient for concurrent access across goroutines.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
