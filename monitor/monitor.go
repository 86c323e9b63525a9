package monitor

import (
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Collector keeps in-memory counters for the upload pipeline. It satisfies
// services.PipelineObserver.
type Collector struct {
	mu        sync.Mutex
	startedAt time.Time
	outcomes  map[string]int64
	stages    map[string]*stageStats
}

type stageStats struct {
	count int64
	total time.Duration
	max   time.Duration
}

// StageSnapshot is the JSON view of one pipeline stage.
type StageSnapshot struct {
	Count     int64   `json:"count"`
	AverageMS float64 `json:"average_ms"`
	MaxMS     float64 `json:"max_ms"`
}

// Snapshot is the JSON view of the collector.
type Snapshot struct {
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Goroutines    int                      `json:"goroutines"`
	HeapAllocMB   float64                  `json:"heap_alloc_mb"`
	UploadsTotal  int64                    `json:"uploads_total"`
	Outcomes      map[string]int64         `json:"outcomes"`
	Stages        map[string]StageSnapshot `json:"stages"`
	StageOrder    []string                 `json:"stage_order"`
}

func NewCollector() *Collector {
	return &Collector{
		startedAt: time.Now(),
		outcomes:  make(map[string]int64),
		stages:    make(map[string]*stageStats),
	}
}

func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stages[stage]
	if !ok {
		s = &stageStats{}
		c.stages[stage] = s
	}
	s.count++
	s.total += d
	if d > s.max {
		s.max = d
	}
}

func (c *Collector) ObserveOutcome(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[code]++
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func (c *Collector) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(mem.HeapAlloc) / (1024 * 1024),
		Outcomes:      make(map[string]int64, len(c.outcomes)),
		Stages:        make(map[string]StageSnapshot, len(c.stages)),
	}
	for code, n := range c.outcomes {
		snap.Outcomes[code] = n
		snap.UploadsTotal += n
	}
	for name, s := range c.stages {
		avg := time.Duration(0)
		if s.count > 0 {
			avg = s.total / time.Duration(s.count)
		}
		snap.Stages[name] = StageSnapshot{Count: s.count, AverageMS: ms(avg), MaxMS: ms(s.max)}
		snap.StageOrder = append(snap.StageOrder, name)
	}
	sort.Strings(snap.StageOrder)
	return snap
}

// Handler serves the snapshot as JSON.
func (c *Collector) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"success": true, "metrics": c.Snapshot()})
	}
}
