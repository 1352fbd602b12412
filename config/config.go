// Package config loads the site configuration from env.yaml and the
// environment.
package config

import (
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"
)

const (
	DEFAULT_DATABASE        = "(default)"
	DEFAULT_NAMESPACE       = "site"
	DEFAULT_ADDR            = ":8080"
	DEFAULT_VERIFY_INTERVAL = 15 * time.Minute

	envPrefix = "GAMESITE_"
)

// SMTP describes the mail relay used for contact notifications.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// Configured is true if there is enough information to send mail.
func (s SMTP) Configured() bool {
	return s.Host != "" && s.From != "" && s.To != ""
}

type Config struct {
	Project         string        `yaml:"project"`
	Database        string        `yaml:"database"`
	Namespace       string        `yaml:"namespace"`
	Bucket          string        `yaml:"bucket"`
	Host            string        `yaml:"host"`
	Addr            string        `yaml:"addr"`
	Admins          []string      `yaml:"admins"`
	CredentialsFile string        `yaml:"credentials_file"`
	FirebaseAPIKey  string        `yaml:"firebase_api_key"`
	SMTP            SMTP          `yaml:"smtp"`
	VerifyInterval  time.Duration `yaml:"verify_interval"`
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result.
//
// A verify_interval left out gets DEFAULT_VERIFY_INTERVAL; an explicit 0 turns
// verification of queued webmentions off.
func Load(path string) (*Config, error) {
	cfg := &Config{
		VerifyInterval: DEFAULT_VERIFY_INTERVAL,
	}
	if path != "" {
		b, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("Not a valid yaml file %q: %w", path, err)
		}
	}
	if err := FromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv overrides fields of cfg with GAMESITE_* environment variables.
func FromEnv(cfg *Config) error {
	str := map[string]*string{
		"PROJECT":          &cfg.Project,
		"DATABASE":         &cfg.Database,
		"NAMESPACE":        &cfg.Namespace,
		"BUCKET":           &cfg.Bucket,
		"HOST":             &cfg.Host,
		"ADDR":             &cfg.Addr,
		"CREDENTIALS_FILE": &cfg.CredentialsFile,
		"FIREBASE_API_KEY": &cfg.FirebaseAPIKey,
		"SMTP_HOST":        &cfg.SMTP.Host,
		"SMTP_USER":        &cfg.SMTP.User,
		"SMTP_PASSWORD":    &cfg.SMTP.Password,
		"SMTP_FROM":        &cfg.SMTP.From,
		"SMTP_TO":          &cfg.SMTP.To,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "ADMINS"); ok {
		cfg.Admins = splitList(v)
	}
	if v, ok := os.LookupEnv(envPrefix + "SMTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("Invalid %sSMTP_PORT %q: %w", envPrefix, v, err)
		}
		cfg.SMTP.Port = port
	}
	if v, ok := os.LookupEnv(envPrefix + "VERIFY_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("Invalid %sVERIFY_INTERVAL %q: %w", envPrefix, v, err)
		}
		cfg.VerifyInterval = d
	}
	return nil
}

func splitList(s string) []string {
	ret := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	return ret
}

func (c *Config) setDefaults() {
	if c.Database == "" {
		c.Database = DEFAULT_DATABASE
	}
	if c.Namespace == "" {
		c.Namespace = DEFAULT_NAMESPACE
	}
	if c.Addr == "" {
		c.Addr = DEFAULT_ADDR
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	c.Host = strings.TrimSuffix(c.Host, "/")
}

func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project is required.")
	}
	if c.Host == "" {
		return fmt.Errorf("host is required.")
	}
	u, err := url.Parse(c.Host)
	if err != nil {
		return fmt.Errorf("host is not a valid URL: %w", err)
	}
	if u.Scheme != "https" && u.Hostname() != "localhost" {
		return fmt.Errorf("host must use https.")
	}
	if c.VerifyInterval < 0 {
		return fmt.Errorf("verify_interval must not be negative.")
	}
	return nil
}

// Hostname is the host part of Host, used to validate webmention targets.
func (c *Config) Hostname() string {
	u, err := url.Parse(c.Host)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// IsAdminEmail returns true if email is one of the bootstrap administrators.
func (c *Config) IsAdminEmail(email string) bool {
	for _, admin := range c.Admins {
		if strings.EqualFold(admin, email) {
			return true
		}
	}
	return false
}
