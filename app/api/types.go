package api

import (
	"github.com/lysyi3m/rss-intel/app/cache"
	"github.com/lysyi3m/rss-intel/app/feed"
	"github.com/lysyi3m/rss-intel/app/inference"
	"github.com/lysyi3m/rss-intel/app/news"
	"github.com/lysyi3m/rss-intel/app/tasks"
)

type SnapshotReader interface {
	Read(topic string) *news.Snapshot
	Stats() cache.Stats
}

type TopicCatalog interface {
	GetConfig(topic string) (*feed.Config, error)
	GetConfigs() map[string]*feed.Config
	GetConfigCount() int
}

type ModelSelector interface {
	State() map[inference.ModelClass]inference.ChainState
	Reset()
}

var (
	_ SnapshotReader = (*cache.Store)(nil)
	_ TopicCatalog   = (*feed.ConfigCache)(nil)
	_ ModelSelector  = (*inference.Client)(nil)
)

type Handler struct {
	store       SnapshotReader
	configCache TopicCatalog
	scheduler   tasks.TaskSchedulerInterface
	models      ModelSelector
	version     string
}
