package ingestion

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/narrativescanner/scanner/internal/models"
)

// Metrics holds ingestion metrics across all crawls since startup
type Metrics struct {
	mu sync.RWMutex

	TotalMentions    int                            `json:"total_mentions"`
	TotalInserted    int                            `json:"total_inserted"`
	TotalDuplicates  int                            `json:"total_duplicates"`
	TotalSkipped     int                            `json:"total_skipped"`
	LastRun          time.Time                      `json:"last_run"`
	LastRunDuration  string                         `json:"last_run_duration"`
	SourceMetrics    map[models.Source]int          `json:"source_metrics"`
	FailedPartitions map[models.Source]int          `json:"failed_partitions"`
	ErrorCount       int                            `json:"error_count"`
	LastResults      map[models.Source]SourceResult `json:"last_results"`
}

// SourceResult is the outcome of the most recent crawl of one source
type SourceResult struct {
	At         time.Time `json:"at"`
	Saved      int       `json:"saved"`
	Inserted   int       `json:"inserted"`
	Duplicates int       `json:"duplicates"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`
}

// NewMetrics returns empty metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SourceMetrics:    make(map[models.Source]int),
		FailedPartitions: make(map[models.Source]int),
		LastResults:      make(map[models.Source]SourceResult),
	}
}

func (m *Metrics) record(source models.Source, result Result, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.TotalMentions += result.Saved
	m.TotalInserted += result.Inserted
	m.TotalDuplicates += result.Duplicates
	m.TotalSkipped += result.Skipped
	m.LastRun = now
	m.LastRunDuration = duration.String()
	m.SourceMetrics[source] += result.Saved
	m.FailedPartitions[source] += len(result.FailedPartitions)

	last := SourceResult{
		At:         now,
		Saved:      result.Saved,
		Inserted:   result.Inserted,
		Duplicates: result.Duplicates,
		Skipped:    result.Skipped,
	}
	if err != nil {
		m.ErrorCount++
		last.Error = err.Error()
	}
	m.LastResults[source] = last
}

// GetMetrics returns current metrics as JSON
func (m *Metrics) GetMetrics() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, _ := json.MarshalIndent(m, "", "  ")
	return string(data)
}
