package feed

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/rss-intel/app/news"
)

const (
	defaultMaxItems = 15
	defaultTimeout  = 30
)

type ConfigCache struct {
	topicsDir string
	cache     map[string]*Config
	mu        sync.RWMutex
}

func NewConfigCache(topicsDir string) *ConfigCache {
	return &ConfigCache{
		topicsDir: topicsDir,
		cache:     make(map[string]*Config),
	}
}

func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.topicsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.topicsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		topic := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := cc.LoadConfig(topic)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Configuration loaded", "topic", topic, "enabled", config.Settings.Enabled, "endpoints", len(config.Endpoints))
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(topic string) (*Config, error) {
	configFile := cc.getConfigFilePath(topic)
	topicConfig, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	topicConfig.Name = topic

	if err := cc.validateConfig(topicConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[topicConfig.Name] = topicConfig

	return topicConfig, nil
}

func (cc *ConfigCache) GetConfig(topic string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	topicConfig, ok := cc.cache[topic]
	if !ok {
		return nil, fmt.Errorf("topic config with name '%s' not found", topic)
	}
	return topicConfig, nil
}

func (cc *ConfigCache) GetConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configsCopy := make(map[string]*Config, len(cc.cache))
	for k, v := range cc.cache {
		configsCopy[k] = v
	}
	return configsCopy
}

// ActiveTopics lists enabled topics in name order.
func (cc *ConfigCache) ActiveTopics() []string {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	topics := make([]string, 0, len(cc.cache))
	for name, topicConfig := range cc.cache {
		if topicConfig.Settings.Enabled {
			topics = append(topics, name)
		}
	}
	slices.Sort(topics)
	return topics
}

func (cc *ConfigCache) ListEndpoints(topic string) ([]ConfigEndpoint, error) {
	topicConfig, err := cc.GetConfig(topic)
	if err != nil {
		return nil, err
	}
	return slices.Clone(topicConfig.Endpoints), nil
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var topicConfig Config
	if err := yaml.Unmarshal(data, &topicConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if topicConfig.Settings.MaxItems == 0 {
		topicConfig.Settings.MaxItems = defaultMaxItems
	}
	if topicConfig.Settings.Timeout == 0 {
		topicConfig.Settings.Timeout = defaultTimeout
	}
	for i, endpoint := range topicConfig.Endpoints {
		if endpoint.Hint == "" {
			topicConfig.Endpoints[i].Hint = InferSourceHint(endpoint.URL)
		}
	}

	return &topicConfig, nil
}

// InferSourceHint guesses the hint of an endpoint from its URL: top-of-week
// and top-of-month listings carry a t=week or t=month query parameter.
func InferSourceHint(rawURL string) news.SourceHint {
	u, err := url.Parse(rawURL)
	if err != nil {
		return news.HintPrimary
	}

	switch u.Query().Get("t") {
	case "month":
		return news.HintMonthlyTop
	case "week":
		return news.HintWeeklyTop
	default:
		return news.HintPrimary
	}
}

func (cc *ConfigCache) validateConfig(topicConfig *Config) error {
	if topicConfig == nil {
		return fmt.Errorf("topicConfig is nil")
	}

	if topicConfig.Name == "" {
		return fmt.Errorf("topic name is required")
	}
	if len(topicConfig.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}

	for i, endpoint := range topicConfig.Endpoints {
		if endpoint.URL == "" {
			return fmt.Errorf("endpoint URL at index %d is required", i)
		}
		if _, err := url.ParseRequestURI(endpoint.URL); err != nil {
			return fmt.Errorf("invalid endpoint URL at index %d: %w", i, err)
		}
		if _, err := news.ParseSourceHint(string(endpoint.Hint)); err != nil {
			return fmt.Errorf("invalid endpoint at index %d: %w", i, err)
		}
	}

	nonNegativeFields := map[string]int{
		"max items": topicConfig.Settings.MaxItems,
		"timeout":   topicConfig.Settings.Timeout,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	validFields := map[string]bool{
		"title":       true,
		"description": true,
		"content":     true,
		"authors":     true,
		"link":        true,
		"categories":  true,
	}

	for i, filter := range topicConfig.Filters {
		if !validFields[filter.Field] {
			return fmt.Errorf("invalid filter field at index %d: %s", i, filter.Field)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return fmt.Errorf("filter at index %d must have at least one include or exclude rule", i)
		}
	}

	return nil
}

func (cc *ConfigCache) getConfigFilePath(topic string) string {
	return filepath.Join(cc.topicsDir, topic+".yml")
}
