// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/sprucehealth/callbridge/model"
)

const (
	CarrierVonage = "vonage"
	CarrierTwilio = "twilio"

	BackendLocal = "local"
	BackendS3    = "s3"
)

type Config struct {
	Mode          string `mapstructure:"mode"`
	Port          int    `mapstructure:"port"`
	LogLevel      string `mapstructure:"log_level"`
	PublicBaseURL string `mapstructure:"public_base_url"`

	ServicePhoneNumber string `mapstructure:"service_phone_number"`
	CalleeNumber       string `mapstructure:"callee_number"`
	RecordAllCalls     bool   `mapstructure:"record_all_calls"`
	ProcessorServer    string `mapstructure:"processor_server"`
	CallFlow           string `mapstructure:"call_flow"`
	Carrier            string `mapstructure:"carrier"`

	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Session   SessionConfig   `mapstructure:"session"`
	Vonage    VonageConfig    `mapstructure:"vonage"`
	Twilio    TwilioConfig    `mapstructure:"twilio"`
	Recording RecordingConfig `mapstructure:"recording"`
}

type DispatchConfig struct {
	CallsPerSecond float64       `mapstructure:"calls_per_second"`
	ExtraDelay     time.Duration `mapstructure:"extra_delay"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

type SessionConfig struct {
	GraceDelay   time.Duration `mapstructure:"grace_delay"`
	SignalDigits string        `mapstructure:"signal_digits"`
	RingTimeout  time.Duration `mapstructure:"ring_timeout"`
}

type VonageConfig struct {
	AppID          string        `mapstructure:"app_id"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	VoiceBaseURL   string        `mapstructure:"voice_base_url"`
	APIBaseURL     string        `mapstructure:"api_base_url"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
}

type TwilioConfig struct {
	AccountSID   string `mapstructure:"account_sid"`
	AuthToken    string `mapstructure:"auth_token"`
	SocketSIPURI string `mapstructure:"socket_sip_uri"`
}

type RecordingConfig struct {
	Backend string   `mapstructure:"backend"`
	Dir     string   `mapstructure:"dir"`
	S3      S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// CallFlowMode returns the parsed call flow mode
func (c *Config) CallFlowMode() model.CallFlowMode {
	m, _ := model.ParseCallFlowMode(c.CallFlow)
	return m
}

// legacyEnv lists the flat variable names older deployments use
var legacyEnv = map[string][]string{
	"port":                           {"PORT", "VCR_PORT"},
	"vonage.app_id":                  {"APP_ID"},
	"vonage.api_key":                 {"API_KEY"},
	"vonage.api_secret":              {"API_SECRET"},
	"vonage.api_base_url":            {"API_BASE_URL"},
	"recording.s3.region":            {"AWS_REGION"},
	"recording.s3.access_key_id":     {"AWS_ACCESS_KEY_ID"},
	"recording.s3.secret_access_key": {"AWS_SECRET_ACCESS_KEY"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8000)
	v.SetDefault("log_level", "info")
	v.SetDefault("public_base_url", "")

	v.SetDefault("service_phone_number", "")
	v.SetDefault("callee_number", "")
	v.SetDefault("record_all_calls", false)
	v.SetDefault("processor_server", "")
	v.SetDefault("call_flow", string(model.Combined))
	v.SetDefault("carrier", CarrierVonage)

	v.SetDefault("dispatch.calls_per_second", 1.0)
	v.SetDefault("dispatch.extra_delay", "0s")
	v.SetDefault("dispatch.max_attempts", 0)

	v.SetDefault("session.grace_delay", "10s")
	v.SetDefault("session.signal_digits", "8")
	v.SetDefault("session.ring_timeout", "45s")

	v.SetDefault("vonage.app_id", "")
	v.SetDefault("vonage.api_key", "")
	v.SetDefault("vonage.api_secret", "")
	v.SetDefault("vonage.private_key_path", "./.private.key")
	v.SetDefault("vonage.voice_base_url", "https://api.nexmo.com")
	v.SetDefault("vonage.api_base_url", "https://api.nexmo.com")
	v.SetDefault("vonage.token_ttl", "15m")

	v.SetDefault("twilio.account_sid", "")
	v.SetDefault("twilio.auth_token", "")
	v.SetDefault("twilio.socket_sip_uri", "")

	v.SetDefault("recording.backend", BackendLocal)
	v.SetDefault("recording.dir", "./post-call-data")
	v.SetDefault("recording.s3.bucket", "")
	v.SetDefault("recording.s3.prefix", "")
	v.SetDefault("recording.s3.region", "")
	v.SetDefault("recording.s3.endpoint", "")
	v.SetDefault("recording.s3.use_path_style", false)
	v.SetDefault("recording.s3.access_key_id", "")
	v.SetDefault("recording.s3.secret_access_key", "")
}

// Load reads configuration from file, .env and environment, in increasing
// precedence. An empty path selects config/config.<CONFIG_ENV>.yaml.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		env := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, env}, names...)...); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		log.Warn().Str("module", "config").Str("file", path).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", path).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// loadDotEnv exports variables from a dotenv file without overriding the
// process environment
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return err
		}
	}
	return nil
}

var digitsRe = regexp.MustCompile(`^[0-9*#]+$`)

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Port <= 0 || c.Port > 65535 {
		add("port %d out of range", c.Port)
	}
	switch c.Mode {
	case "debug", "release", "test":
	default:
		add("mode must be debug, release or test, got %q", c.Mode)
	}
	if c.ServicePhoneNumber == "" {
		add("service_phone_number is required")
	}
	if c.ProcessorServer == "" {
		add("processor_server is required")
	}
	if !(c.Dispatch.CallsPerSecond > 0) {
		add("dispatch.calls_per_second must be positive, got %v", c.Dispatch.CallsPerSecond)
	}
	if c.Dispatch.ExtraDelay < 0 {
		add("dispatch.extra_delay must not be negative")
	}
	if c.Dispatch.MaxAttempts < 0 {
		add("dispatch.max_attempts must not be negative")
	}
	if c.Session.GraceDelay < 0 {
		add("session.grace_delay must not be negative")
	}
	if !digitsRe.MatchString(c.Session.SignalDigits) {
		add("session.signal_digits %q is not a DTMF sequence", c.Session.SignalDigits)
	}

	mode, err := model.ParseCallFlowMode(c.CallFlow)
	if err != nil {
		errs = append(errs, err)
	}

	switch c.Carrier {
	case CarrierVonage:
		if c.Vonage.AppID == "" {
			add("vonage.app_id is required")
		}
		if c.Vonage.PrivateKeyPath == "" {
			add("vonage.private_key_path is required")
		}
	case CarrierTwilio:
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			add("twilio.account_sid and twilio.auth_token are required")
		}
		if c.Twilio.SocketSIPURI == "" {
			add("twilio.socket_sip_uri is required")
		}
		if err == nil && mode != model.BridgedConference {
			add("carrier twilio only supports call_flow %s", model.BridgedConference)
		}
	default:
		add("unknown carrier %q", c.Carrier)
	}

	switch c.Recording.Backend {
	case BackendLocal:
		if c.Recording.Dir == "" {
			add("recording.dir is required")
		}
	case BackendS3:
		if c.Recording.S3.Bucket == "" || c.Recording.S3.Region == "" {
			add("recording.s3.bucket and recording.s3.region are required")
		}
	default:
		add("unknown recording backend %q", c.Recording.Backend)
	}

	return errors.Join(errs...)
}
