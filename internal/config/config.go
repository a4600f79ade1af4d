package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/coherent-in/shotbuzz-e2e/internal/actor"
	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
)

const envPrefix = "SHOTBUZZ"

// Config is the run configuration.
type Config struct {
	App       AppConfig                    `mapstructure:"app"`
	Browser   BrowserConfig                `mapstructure:"browser"`
	Poll      PollConfig                   `mapstructure:"poll"`
	Scenario  ScenarioConfig               `mapstructure:"scenario"`
	API       APIConfig                    `mapstructure:"api"`
	Users     map[string]actor.Credentials `mapstructure:"users"`
	UsersFile string                       `mapstructure:"users_file"`
	Shot      ShotConfig                   `mapstructure:"shot"`
	Report    ReportConfig                 `mapstructure:"report"`
}

type AppConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIURL  string `mapstructure:"api_url"`
	Env     string `mapstructure:"env"`
}

type BrowserConfig struct {
	Headless    bool          `mapstructure:"headless"`
	SlowMo      time.Duration `mapstructure:"slow_mo"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Screenshots bool          `mapstructure:"screenshots"`
	Videos      bool          `mapstructure:"videos"`
	ResultsDir  string        `mapstructure:"results_dir"`
	Install     bool          `mapstructure:"install"`
	Verbose     bool          `mapstructure:"verbose"`
}

type PollConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Interval time.Duration `mapstructure:"interval"`
}

type ScenarioConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Parallel int           `mapstructure:"parallel"`
}

type APIConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	Debug      bool          `mapstructure:"debug"`
}

// ShotConfig names the people and labels the suite expects to see.
type ShotConfig struct {
	Prefix     string `mapstructure:"prefix"`
	Supervisor string `mapstructure:"supervisor"`
	TeamLead   string `mapstructure:"team_lead"`
	HOD        string `mapstructure:"hod"`
	Complexity string `mapstructure:"complexity"`
}

type ReportConfig struct {
	File        string `mapstructure:"file"`
	Format      string `mapstructure:"format"`
	MetricsFile string `mapstructure:"metrics_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.base_url", "https://shotbuzz-dev-master.coherent.in")
	v.SetDefault("app.api_url", "")
	v.SetDefault("app.env", "dev")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.slow_mo", 0)
	v.SetDefault("browser.timeout", 30*time.Second)
	v.SetDefault("browser.screenshots", true)
	v.SetDefault("browser.videos", false)
	v.SetDefault("browser.results_dir", "./test-results")
	v.SetDefault("browser.install", true)
	v.SetDefault("browser.verbose", false)

	v.SetDefault("poll.timeout", 20*time.Second)
	v.SetDefault("poll.interval", 500*time.Millisecond)
	v.SetDefault("scenario.timeout", 3*time.Minute)
	v.SetDefault("scenario.parallel", 1)

	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.retry_count", 0)
	v.SetDefault("api.debug", false)

	for _, r := range actor.Roles {
		v.SetDefault("users."+string(r)+".email", "")
		v.SetDefault("users."+string(r)+".password", "")
	}
	v.SetDefault("users_file", "")

	v.SetDefault("shot.prefix", "F7")
	v.SetDefault("shot.supervisor", "Mitchel John")
	v.SetDefault("shot.team_lead", "Vidya Shree")
	v.SetDefault("shot.hod", "TravisHead")
	v.SetDefault("shot.complexity", "EASY")

	v.SetDefault("report.file", "")
	v.SetDefault("report.format", "json")
	v.SetDefault("report.metrics_file", "")
}

// Load reads configuration from configFile (or shotbuzz.yaml in . or
// ./config when empty), then envFile when given, then SHOTBUZZ_*
// environment variables. Later sources win.
func Load(configFile, envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, failure.Wrap(err, failure.KindConfig, "read config file")
		}
	} else {
		v.SetConfigName("shotbuzz")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, failure.Wrap(err, failure.KindConfig, "read config file")
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if envFile != "" {
		if err := mergeDotenv(v, envFile); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, failure.Wrap(err, failure.KindConfig, "unmarshal config")
	}
	if cfg.App.APIURL == "" {
		cfg.App.APIURL = cfg.App.BaseURL
	}
	if cfg.UsersFile != "" {
		if err := cfg.mergeUsersFile(cfg.UsersFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeDotenv applies SHOTBUZZ_* entries of a .env file. Real environment
// variables still take precedence.
func mergeDotenv(v *viper.Viper, path string) error {
	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("dotenv")
	if err := ev.ReadInConfig(); err != nil {
		return failure.Wrap(err, failure.KindConfig, "read env file")
	}

	byEnv := make(map[string]string)
	for _, key := range v.AllKeys() {
		byEnv[strings.ToLower(envPrefix+"_"+strings.ReplaceAll(key, ".", "_"))] = key
	}
	for name, val := range ev.AllSettings() {
		key, ok := byEnv[strings.ToLower(name)]
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(strings.ToUpper(name)); set {
			continue
		}
		v.Set(key, val)
	}
	return nil
}

// usersFile is the credentials layout shared with the web team's fixtures.
type usersFile struct {
	AdminUser      actor.Credentials `json:"adminUser"`
	HeadUser       actor.Credentials `json:"headUser"`
	SupervisorUser actor.Credentials `json:"supervisorUser"`
	TLUser         actor.Credentials `json:"tlUser"`
}

// mergeUsersFile fills roles that have no credentials yet.
func (c *Config) mergeUsersFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return failure.Wrap(err, failure.KindConfig, "read users file")
	}
	var uf usersFile
	if err := json.Unmarshal(raw, &uf); err != nil {
		return failure.Wrap(err, failure.KindConfig, "parse users file")
	}
	if c.Users == nil {
		c.Users = make(map[string]actor.Credentials)
	}
	for role, creds := range map[actor.Role]actor.Credentials{
		actor.RoleAdmin:      uf.AdminUser,
		actor.RoleHead:       uf.HeadUser,
		actor.RoleSupervisor: uf.SupervisorUser,
		actor.RoleTeamLead:   uf.TLUser,
	} {
		if c.Users[string(role)].IsZero() && !creds.IsZero() {
			c.Users[string(role)] = creds
		}
	}
	return nil
}

// Credentials returns the configured credentials keyed by role.
func (c *Config) Credentials() map[actor.Role]actor.Credentials {
	out := make(map[actor.Role]actor.Credentials, len(c.Users))
	for name, creds := range c.Users {
		role, err := actor.ParseRole(name)
		if err != nil || creds.IsZero() {
			continue
		}
		out[role] = creds
	}
	return out
}

// Validate checks the static invariants of the configuration.
func (c *Config) Validate() error {
	if c.App.BaseURL == "" {
		return failure.New(failure.KindConfig, "app.base_url is required")
	}
	if c.Poll.Interval <= 0 {
		return failure.New(failure.KindConfig, "poll.interval must be positive")
	}
	if c.Poll.Timeout <= c.Poll.Interval {
		return failure.New(failure.KindConfig, "poll.timeout (%s) must exceed poll.interval (%s)", c.Poll.Timeout, c.Poll.Interval)
	}
	if c.Scenario.Timeout <= 0 {
		return failure.New(failure.KindConfig, "scenario.timeout must be positive")
	}
	if c.Scenario.Parallel < 1 {
		return failure.New(failure.KindConfig, "scenario.parallel must be at least 1")
	}
	switch c.Report.Format {
	case "json", "yaml":
	default:
		return failure.New(failure.KindConfig, "report.format must be json or yaml, got %q", c.Report.Format)
	}
	return nil
}

// RequireRoles fails when any of roles has no credentials.
func (c *Config) RequireRoles(roles ...actor.Role) error {
	creds := c.Credentials()
	var missing []string
	for _, r := range roles {
		if _, ok := creds[r]; !ok {
			missing = append(missing, string(r))
		}
	}
	if len(missing) > 0 {
		return failure.New(failure.KindConfig, "no credentials for roles: %s (set users.<role>.email/password or users_file)", strings.Join(missing, ", "))
	}
	return nil
}

// Watch reloads the configuration whenever configFile changes and hands the
// result to onChange. Used by long-running scheduled runs.
func Watch(configFile, envFile string, onChange func(*Config, error)) error {
	if configFile == "" {
		return fmt.Errorf("watch needs an explicit config file")
	}
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return failure.Wrap(err, failure.KindConfig, "read config file")
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(Load(configFile, envFile))
	})
	v.WatchConfig()
	return nil
}
