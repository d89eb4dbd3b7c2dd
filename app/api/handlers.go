package api

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-intel/app/tasks"
)

func NewHandler(store SnapshotReader, configCache TopicCatalog, scheduler tasks.TaskSchedulerInterface, models ModelSelector, version string) *Handler {
	return &Handler{
		store:       store,
		configCache: configCache,
		scheduler:   scheduler,
		models:      models,
		version:     version,
	}
}

// GetTopic always answers with a complete snapshot, empty when the topic has
// not been published yet.
func (h *Handler) GetTopic(c *gin.Context) {
	topic := c.Param("topic")
	if topic == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	snapshot := h.store.Read(topic)

	c.Header("X-Snapshot-Version", strconv.FormatUint(snapshot.Version(), 10))
	if !snapshot.PublishedAt().IsZero() {
		c.Header("X-Last-Updated", snapshot.PublishedAt().Format(time.RFC3339))
	}

	c.JSON(http.StatusOK, snapshot.View())
}

func (h *Handler) GetHealth(c *gin.Context) {
	stats := h.store.Stats()

	c.JSON(http.StatusOK, gin.H{
		"timestamp":             time.Now().In(time.Local).Format(time.RFC3339),
		"version":               h.version,
		"loaded_configurations": h.configCache.GetConfigCount(),
		"published_topics":      stats.Topics,
	})
}

func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"scheduler": h.scheduler.Stats(),
		"cache":     h.store.Stats(),
		"models":    h.models.State(),
	})
}

func (h *Handler) APIListTopics(c *gin.Context) {
	configs := h.configCache.GetConfigs()

	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	slices.Sort(names)

	topics := make([]gin.H, 0, len(names))
	for _, name := range names {
		topicConfig := configs[name]
		snapshot := h.store.Read(name)

		topicInfo := gin.H{
			"name":            name,
			"enabled":         topicConfig.Settings.Enabled,
			"endpoints":       topicConfig.Endpoints,
			"max_items":       topicConfig.Settings.MaxItems,
			"timeout":         (time.Duration(topicConfig.Settings.Timeout) * time.Second).String(),
			"extract_content": topicConfig.Settings.ExtractContent,
			"filters":         len(topicConfig.Filters),
			"version":         snapshot.Version(),
			"items":           snapshot.Len(),
			"degraded":        snapshot.Degraded(),
		}
		if !snapshot.PublishedAt().IsZero() {
			topicInfo["published_at"] = snapshot.PublishedAt()
		}

		topics = append(topics, topicInfo)
	}

	c.JSON(http.StatusOK, gin.H{
		"topics": topics,
		"total":  len(topics),
	})
}

func (h *Handler) APIRefreshTopic(c *gin.Context) {
	topic := c.Param("topic")

	topicConfig, err := h.configCache.GetConfig(topic)
	if err != nil {
		slog.Error("Topic configuration not found", "topic", topic, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Topic configuration not found"})
		return
	}
	if !topicConfig.Settings.Enabled {
		c.JSON(http.StatusConflict, gin.H{"error": "Topic is disabled"})
		return
	}

	if err := h.scheduler.TriggerRefresh(topic); err != nil {
		if errors.Is(err, tasks.ErrTopicBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": "Refresh already in progress", "topic": topic})
			return
		}
		slog.Error("Failed to trigger refresh", "topic", topic, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to schedule refresh"})
		return
	}

	slog.Info("Refresh triggered", "topic", topic)
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled", "topic": topic})
}

func (h *Handler) APIResetModels(c *gin.Context) {
	h.models.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset", "models": h.models.State()})
}
