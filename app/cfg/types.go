package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath    string
	TopicsDir string

	// HTTP server
	Port         string
	APIAccessKey string

	// Refresh scheduling
	WorkerCount       int
	SchedulerInterval int
	CycleDeadline     int

	// Inference backend
	InferenceURL      string
	FastModel         string
	PowerfulModel     string
	FallbackModels    []string
	FastTimeout       int
	PowerfulTimeout   int
	ColdStartGrace    int
	KeepAlive         int
	MaxRetries        int
	RetryBaseDelay    int
	RetryMaxDelay     int
	FallbackThreshold int
	RequestsPerMinute int

	// Enrichment
	EnrichTimeout     int
	EnrichConcurrency int
	TargetLanguage    string

	// Categorization and cache
	BreakingWindow int
	MaxBreaking    int
	MaxRecent      int
	MaxPopular     int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c *Cfg) Interval() time.Duration        { return seconds(c.SchedulerInterval) }
func (c *Cfg) Deadline() time.Duration        { return seconds(c.CycleDeadline) }
func (c *Cfg) FastBudget() time.Duration      { return seconds(c.FastTimeout) }
func (c *Cfg) PowerfulBudget() time.Duration  { return seconds(c.PowerfulTimeout) }
func (c *Cfg) ColdStart() time.Duration       { return seconds(c.ColdStartGrace) }
func (c *Cfg) KeepAliveWindow() time.Duration { return seconds(c.KeepAlive) }
func (c *Cfg) EnrichBudget() time.Duration    { return seconds(c.EnrichTimeout) }
func (c *Cfg) BreakingAge() time.Duration     { return time.Duration(c.BreakingWindow) * time.Hour }
func (c *Cfg) RetryBase() time.Duration       { return time.Duration(c.RetryBaseDelay) * time.Millisecond }
func (c *Cfg) RetryMax() time.Duration        { return seconds(c.RetryMaxDelay) }
