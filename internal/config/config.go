// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Transport TransportConfig `mapstructure:"transport"`
	Framer    FramerConfig    `mapstructure:"framer"`
	PSU       PSUConfig       `mapstructure:"psu"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	API       APIConfig       `mapstructure:"api"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// TransportConfig selects and configures the link to the instrument
type TransportConfig struct {
	Type   string       `mapstructure:"type"`   // "serial", "gpib", "tcp", "sim"
	Serial SerialConfig `mapstructure:"serial"` // Used if Type is "serial"
	GPIB   GPIBConfig   `mapstructure:"gpib"`   // Used if Type is "gpib"
	Tcp    TcpConfig    `mapstructure:"tcp"`    // Used if Type is "tcp"
	Sim    SimConfig    `mapstructure:"sim"`    // Used if Type is "sim"
}

// SerialConfig defines RS-232 settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"` // Read and write timeout

	// Flow control. Not supported by the serial driver; must stay false.
	XonXoff bool `mapstructure:"xonxoff"`
	DsrDtr  bool `mapstructure:"dsrdtr"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// GPIBConfig defines GPIB board/device settings
type GPIBConfig struct {
	Board   int           `mapstructure:"board"`
	Address int           `mapstructure:"address"` // Primary address, 0-30
	Library string        `mapstructure:"library"` // NI-488.2 compatible DLL
	Pause   time.Duration `mapstructure:"pause"`   // Settle time after open and writes
}

// TcpConfig defines raw socket settings
type TcpConfig struct {
	Address string        `mapstructure:"address"` // e.g. "192.168.1.100:9221"
	Timeout time.Duration `mapstructure:"timeout"`
}

// SimConfig defines the simulated power supply
type SimConfig struct {
	Identity    string            `mapstructure:"identity"`
	SettleReads int               `mapstructure:"settle_reads"` // Truncated setpoint reads after each write
	Load        float64           `mapstructure:"load"`         // Load resistance in ohms
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap", "sql"
	Path string `mapstructure:"path"` // File path for "file/mmap", DSN for "sql"
}

// FramerConfig defines command framing
type FramerConfig struct {
	Terminator string `mapstructure:"terminator"`
	Encoding   string `mapstructure:"encoding"` // WHATWG encoding label, e.g. "utf-8", "latin1"
	MaxRead    int    `mapstructure:"max_read"`
}

// PSUConfig defines the power supply safety policy
type PSUConfig struct {
	VoltageLimit  float64       `mapstructure:"voltage_limit"`
	CurrentLimit  float64       `mapstructure:"current_limit"`
	OVP           float64       `mapstructure:"ovp"`
	OCP           float64       `mapstructure:"ocp"`
	LowRangeLimit float64       `mapstructure:"low_range_limit"`
	AutoRange     bool          `mapstructure:"auto_range"`
	InitialRange  int           `mapstructure:"initial_range"`
	PollAttempts  int           `mapstructure:"poll_attempts"`
	PollMinLength int           `mapstructure:"poll_min_length"`
	PollDelay     time.Duration `mapstructure:"poll_delay"`
}

// BridgeConfig defines the link sharing server
type BridgeConfig struct {
	Address string `mapstructure:"address"` // Empty disables the bridge
}

// APIConfig defines the HTTP control API
type APIConfig struct {
	Address string `mapstructure:"address"` // Empty disables the API
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("transport.type", "serial")
	v.SetDefault("transport.serial.device", "/dev/ttyUSB0")
	v.SetDefault("transport.serial.baud_rate", 9600)
	v.SetDefault("transport.serial.data_bits", 8)
	v.SetDefault("transport.serial.parity", "N")
	v.SetDefault("transport.serial.stop_bits", 1)
	v.SetDefault("transport.gpib.library", "ni4882.dll")
	v.SetDefault("transport.gpib.pause", 100*time.Millisecond)
	v.SetDefault("transport.sim.identity", "THURLBY THANDAR, PL303-P, 0, 3.05-4.06")
	v.SetDefault("transport.sim.load", 100.0)
	v.SetDefault("transport.sim.persistence.type", "memory")
	v.SetDefault("framer.terminator", "\n")
	v.SetDefault("framer.encoding", "utf-8")
	v.SetDefault("framer.max_read", 4096)
	v.SetDefault("psu.voltage_limit", 30.0)
	v.SetDefault("psu.current_limit", 1.0)
	v.SetDefault("psu.ovp", 30.0)
	v.SetDefault("psu.ocp", 1.0)
	v.SetDefault("psu.low_range_limit", 0.5)
	v.SetDefault("psu.initial_range", 2)
	v.SetDefault("psu.poll_attempts", 100)
	v.SetDefault("psu.poll_min_length", 8)
}

// LoadConfig loads configuration from file, environment and command-line flags.
// Without an explicit file a missing config file is not an error.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/instrlink/")
		v.AddConfigPath("$HOME/.instrlink")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("INSTRLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind pflags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.fixup(); err != nil {
		return nil, err
	}
	return &config, nil
}

// fixup normalizes values and rejects settings no component can honour.
func (c *Config) fixup() error {
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Transport.Type = strings.ToLower(c.Transport.Type)

	switch c.Transport.Type {
	case "serial":
		if err := fixupSerial(&c.Transport.Serial); err != nil {
			return err
		}
	case "gpib":
		if c.Transport.GPIB.Address < 0 || c.Transport.GPIB.Address > 30 {
			return fmt.Errorf("invalid gpib address %d (must be 0-30)", c.Transport.GPIB.Address)
		}
	case "tcp":
		if c.Transport.Tcp.Address == "" {
			return fmt.Errorf("tcp transport requires an address")
		}
		if c.Transport.Tcp.Timeout == 0 {
			c.Transport.Tcp.Timeout = 2 * time.Second
		}
	case "sim":
	default:
		return fmt.Errorf("unknown transport type %q", c.Transport.Type)
	}

	term, err := unescape(c.Framer.Terminator)
	if err != nil {
		return fmt.Errorf("invalid framer terminator %q: %w", c.Framer.Terminator, err)
	}
	if term == "" {
		return fmt.Errorf("framer terminator must not be empty")
	}
	c.Framer.Terminator = term

	p := &c.PSU
	if p.VoltageLimit <= 0 || p.CurrentLimit <= 0 {
		return fmt.Errorf("psu limits must be positive (voltage %v, current %v)", p.VoltageLimit, p.CurrentLimit)
	}
	if p.InitialRange != 1 && p.InitialRange != 2 {
		return fmt.Errorf("invalid psu initial range %d (must be 1 or 2)", p.InitialRange)
	}
	if p.PollAttempts < 1 {
		p.PollAttempts = 1
	}
	return nil
}

func fixupSerial(s *SerialConfig) error {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 100 * time.Millisecond
	}
	if s.XonXoff || s.DsrDtr {
		return fmt.Errorf("serial flow control (xonxoff %v, dsrdtr %v) is not supported", s.XonXoff, s.DsrDtr)
	}
	return nil
}

// unescape turns a terminator given as `\n` or `\r\n` on the command line into
// the control characters it names.
func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	return strconv.Unquote(`"` + s + `"`)
}
