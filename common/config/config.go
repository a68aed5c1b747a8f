package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const DefaultXrayBaseURL = "https://xray.cloud.getxray.app/api/v2"

// Config is the reporter configuration. Every field can be set from the
// process environment; a YAML file may provide the same values.
type Config struct {
	Xray   Xray   `yaml:"xray"`
	Jira   Jira   `yaml:"jira"`
	Logger Logger `yaml:"logger"`
}

type Xray struct {
	ClientId     string `yaml:"clientId" env:"XRAY_CLIENT_ID"`
	ClientSecret string `yaml:"clientSecret" env:"XRAY_CLIENT_SECRET"`
	// BaseURL hosts both the authenticate and graphql endpoints
	BaseURL string        `yaml:"baseUrl" env:"XRAY_BASE_URL" env-default:"https://xray.cloud.getxray.app/api/v2"`
	Timeout time.Duration `yaml:"timeout" env:"XRAY_TIMEOUT" env-default:"15s"`
	// Retries applies to transport failures and 5xx responses only, 0 disables retrying
	Retries int `yaml:"retries" env:"XRAY_RETRIES" env-default:"0"`
	// TokenTTL of 0 keeps the token for the lifetime of the process
	TokenTTL time.Duration `yaml:"tokenTtl" env:"XRAY_TOKEN_TTL" env-default:"0s"`
}

type Jira struct {
	ProjectKey string `yaml:"projectKey" env:"JIRA_PROJECT_KEY"`
	BaseURL    string `yaml:"baseUrl" env:"JIRA_BASE_URL"`
	// Auth is sent verbatim as the Authorization header, e.g. "Basic dXNlcjp0b2tlbg=="
	Auth    string        `yaml:"auth" env:"JIRA_AUTH"`
	Timeout time.Duration `yaml:"timeout" env:"JIRA_TIMEOUT" env-default:"15s"`
}

// Logger config
type Logger struct {
	ReportCaller bool   `yaml:"reportCaller" env:"LOG_REPORT_CALLER" env-default:"false"`
	Encoding     string `yaml:"encoding" env:"LOG_ENCODING" env-default:"text"`
	Level        string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Output       string `yaml:"output" env:"LOG_OUTPUT" env-default:"stdout"`
}

// LoadConfig resolves the configuration. Variables from envFile (".env" when
// empty) are added to the environment without overriding what is already set,
// then the YAML file at configFile is read, if given, and finally the
// environment is applied on top.
func LoadConfig(configFile, envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrapf(err, "failed to load %s", envFile)
	}

	var c Config
	var err error
	if configFile != "" {
		err = cleanenv.ReadConfig(configFile, &c)
	} else {
		err = cleanenv.ReadEnv(&c)
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to read configuration")
	}
	return &c, nil
}

// Validate checks that the values needed to talk to Xray and Jira are present.
func (c *Config) Validate() error {
	return c.validate(true, true)
}

// ValidateXray checks the values the Xray client needs, the project key
// included since executions are scoped to it.
func (c *Config) ValidateXray() error {
	return c.validate(true, false)
}

// ValidateJira checks the values the Jira client needs.
func (c *Config) ValidateJira() error {
	return c.validate(false, true)
}

func (c *Config) validate(xray, jira bool) error {
	var missing []string
	if xray {
		if c.Xray.ClientId == "" {
			missing = append(missing, "XRAY_CLIENT_ID")
		}
		if c.Xray.ClientSecret == "" {
			missing = append(missing, "XRAY_CLIENT_SECRET")
		}
		if c.Jira.ProjectKey == "" {
			missing = append(missing, "JIRA_PROJECT_KEY")
		}
	}
	if jira && c.Jira.BaseURL == "" {
		missing = append(missing, "JIRA_BASE_URL")
	}
	if len(missing) != 0 {
		return fmt.Errorf("configuration incomplete, missing %v", missing)
	}
	if xray && c.Xray.Retries < 0 {
		return fmt.Errorf("XRAY_RETRIES must not be negative, got %d", c.Xray.Retries)
	}
	return nil
}

// Dump renders the resolved configuration as YAML with credentials masked.
func (c Config) Dump() ([]byte, error) {
	c.Xray.ClientSecret = mask(c.Xray.ClientSecret)
	c.Jira.Auth = mask(c.Jira.Auth)
	return yaml.Marshal(c)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
