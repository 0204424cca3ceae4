package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the VK harvester
type Config struct {
	// VK API settings
	VK VKConfig `yaml:"vk" json:"vk"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Harvest (pagination / batching) settings
	Harvest HarvestConfig `yaml:"harvest" json:"harvest"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// VKConfig holds VK-specific configuration
type VKConfig struct {
	AccessToken    string        `yaml:"access_token" json:"access_token"`
	APIVersion     string        `yaml:"api_version" json:"api_version"`
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// RateLimitConfig holds rate limiting configuration.
// The free VK API allows roughly 3 requests per second per token, and
// long runs get throttled unless the client pauses periodically.
type RateLimitConfig struct {
	RequestInterval time.Duration `yaml:"request_interval" json:"request_interval"`
	CooldownEvery   int           `yaml:"cooldown_every" json:"cooldown_every"`
	CooldownDelay   time.Duration `yaml:"cooldown_delay" json:"cooldown_delay"`
}

// HarvestConfig holds pagination and batching configuration
type HarvestConfig struct {
	// BatchWidth is the number of page calls folded into one execute script.
	// VK allows at most 25 API calls per script.
	BatchWidth      int           `yaml:"batch_width" json:"batch_width"`
	BatchWidthFloor int           `yaml:"batch_width_floor" json:"batch_width_floor"`
	BatchWidthStep  int           `yaml:"batch_width_step" json:"batch_width_step"`
	BatchPause      time.Duration `yaml:"batch_pause" json:"batch_pause"`
	// ProfileBatchSize bounds how many user ids go into one users.get call.
	ProfileBatchSize int `yaml:"profile_batch_size" json:"profile_batch_size"`
	// Overwrite forces re-harvesting accounts whose snapshot already exists.
	Overwrite bool `yaml:"overwrite" json:"overwrite"`
	// GroupRepostText and UserRepostText control whether repost bodies are
	// stored in the snapshot. Repost source ids are stored regardless.
	GroupRepostText bool `yaml:"group_repost_text" json:"group_repost_text"`
	UserRepostText  bool `yaml:"user_repost_text" json:"user_repost_text"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	// Language names the corpus; snapshots go to <base>/<language> for groups
	// and <base>/<language>/users for individuals.
	Language      string `yaml:"language" json:"language"`
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
	// TargetList overrides the default <language>_vk_urls.txt location.
	TargetList string `yaml:"target_list" json:"target_list"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		VK: VKConfig{
			APIVersion:     "5.95",
			BaseURL:        "https://api.vk.com/method",
			RequestTimeout: 60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestInterval: 350 * time.Millisecond,
			CooldownEvery:   1000,
			CooldownDelay:   100 * time.Second,
		},
		Harvest: HarvestConfig{
			BatchWidth:       25,
			BatchWidthFloor:  5,
			BatchWidthStep:   5,
			BatchPause:       500 * time.Millisecond,
			ProfileBatchSize: 200,
			Overwrite:        false,
			GroupRepostText:  true,
			UserRepostText:   false,
		},
		Output: OutputConfig{
			Language:      "",
			BaseDirectory: ".",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if token := os.Getenv("VKHARVEST_ACCESS_TOKEN"); token != "" {
		c.VK.AccessToken = token
	}
	if version := os.Getenv("VKHARVEST_API_VERSION"); version != "" {
		c.VK.APIVersion = version
	}
	if baseURL := os.Getenv("VKHARVEST_BASE_URL"); baseURL != "" {
		c.VK.BaseURL = baseURL
	}
	if lang := os.Getenv("VKHARVEST_LANGUAGE"); lang != "" {
		c.Output.Language = lang
	}
	if outputDir := os.Getenv("VKHARVEST_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}

	if interval := os.Getenv("VKHARVEST_REQUEST_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid VKHARVEST_REQUEST_INTERVAL: %w", err)
		}
		c.RateLimit.RequestInterval = d
	}

	if width := os.Getenv("VKHARVEST_BATCH_WIDTH"); width != "" {
		var val int
		fmt.Sscanf(width, "%d", &val)
		if val > 0 {
			c.Harvest.BatchWidth = val
		}
	}

	if overwrite := os.Getenv("VKHARVEST_OVERWRITE"); overwrite != "" {
		c.Harvest.Overwrite = strings.ToLower(overwrite) == "true"
	}

	if logLevel := os.Getenv("VKHARVEST_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	// Check in order of precedence
	locations := []string{
		".vkharvest.yaml",
		".vkharvest.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "vkharvest", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "vkharvest", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".vkharvest.yaml"),
		filepath.Join(os.Getenv("HOME"), ".vkharvest.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Output.Language == "" {
		errs = append(errs, errors.New("corpus language is required"))
	}
	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	if c.VK.BaseURL == "" {
		errs = append(errs, errors.New("VK API base URL is required"))
	}
	if c.VK.APIVersion == "" {
		errs = append(errs, errors.New("VK API version is required"))
	}
	if c.VK.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	if c.RateLimit.RequestInterval <= 0 {
		errs = append(errs, errors.New("request interval must be positive"))
	}
	if c.RateLimit.CooldownEvery <= 0 {
		errs = append(errs, errors.New("cooldown threshold must be positive"))
	}

	if c.Harvest.BatchWidth <= 0 {
		errs = append(errs, errors.New("batch width must be positive"))
	}
	if c.Harvest.BatchWidth > 25 {
		errs = append(errs, errors.New("batch width cannot exceed 25 calls per script"))
	}
	if c.Harvest.BatchWidthFloor <= 0 || c.Harvest.BatchWidthFloor > c.Harvest.BatchWidth {
		errs = append(errs, errors.New("batch width floor must be positive and not exceed the batch width"))
	}
	if c.Harvest.BatchWidthStep <= 0 {
		errs = append(errs, errors.New("batch width step must be positive"))
	}
	if c.Harvest.ProfileBatchSize <= 0 || c.Harvest.ProfileBatchSize > 200 {
		errs = append(errs, errors.New("profile batch size must be between 1 and 200"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if token, ok := flags["access-token"].(string); ok && token != "" {
		c.VK.AccessToken = token
	}
	if lang, ok := flags["language"].(string); ok && lang != "" {
		c.Output.Language = lang
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if targetList, ok := flags["targets"].(string); ok && targetList != "" {
		c.Output.TargetList = targetList
	}
	if width, ok := flags["batch-width"].(int); ok && width > 0 {
		c.Harvest.BatchWidth = width
	}
	if overwrite, ok := flags["overwrite"].(bool); ok {
		c.Harvest.Overwrite = overwrite
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// TargetListPath returns the effective target list location.
// The default layout keeps one URL list per corpus, <language>_vk_urls.txt,
// next to the output directory.
func (c *Config) TargetListPath() string {
	if c.Output.TargetList != "" {
		return c.Output.TargetList
	}
	return filepath.Join(c.Output.BaseDirectory, c.Output.Language+"_vk_urls.txt")
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".env"))
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".vkharvest.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
