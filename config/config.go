package config

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config 服务端全部可调参数，未填写的字段使用 Default 中的值
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Admission AdmissionConfig `yaml:"admission"`
	Log       LogConfig       `yaml:"log"`
	Stats     StatsConfig     `yaml:"stats"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr"`
	TickRate        int    `yaml:"tick_rate"`
	SendQueue       int    `yaml:"send_queue"`
	MaxMessageBytes int64  `yaml:"max_message_bytes"`
}

type AdmissionConfig struct {
	TotalLimit        int  `yaml:"total_limit"`
	OriginLimit       int  `yaml:"origin_limit"`
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

type LogConfig struct {
	// File 为空时只输出到控制台
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console | json
	Console    bool   `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type StatsConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Default 默认配置：60 TPS，全局 2000 连接，单来源 10 连接
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":6970",
			TickRate:        60,
			SendQueue:       256,
			MaxMessageBytes: 1 << 10,
		},
		Admission: AdmissionConfig{
			TotalLimit:  2000,
			OriginLimit: 10,
		},
		Log: LogConfig{
			File:       "koil.log",
			Level:      "debug",
			Format:     "console",
			Console:    true,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Stats: StatsConfig{IntervalSeconds: 5},
	}
}

// Load 读取 YAML 配置。path 为空时读 KOIL_CONFIG；都没有则返回默认值。
// 缺省字段保持默认值。监听地址优先级：配置文件 -> KOIL_ADDR -> 默认
func Load(path string) (Config, error) {
	cfg := Default()
	defaultAddr := cfg.Server.Addr
	cfg.Server.Addr = ""
	if path == "" {
		path = os.Getenv("KOIL_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = os.Getenv("KOIL_ADDR")
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultAddr
	}
	return cfg, cfg.Validate()
}

// Validate 拒绝会让服务无法运行的取值
func (c Config) Validate() error {
	var errs []error
	if c.Server.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("server.tick_rate must be positive, got %d", c.Server.TickRate))
	}
	if c.Server.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("server.send_queue must be positive, got %d", c.Server.SendQueue))
	}
	if c.Admission.TotalLimit <= 0 || c.Admission.OriginLimit <= 0 {
		errs = append(errs, fmt.Errorf("admission limits must be positive, got total=%d origin=%d",
			c.Admission.TotalLimit, c.Admission.OriginLimit))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	return multierr.Combine(errs...)
}
