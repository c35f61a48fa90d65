// Package monitor keeps the latest monitoring rows fetched from the API and
// derives the per-metric readings the dashboard shows.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"dashmonitor/dashctl/internal/api"
	"dashmonitor/dashctl/internal/observability"
)

const unknownServer = "Unknown"

type Source interface {
	Data(ctx context.Context, q api.MonitorQuery) ([]api.MonitorRecord, error)
	Stats(ctx context.Context, q api.MonitorQuery) ([]api.ServerStats, error)
	Add(ctx context.Context, s api.MetricSubmission) error
}

// Reading is one metric of the newest row, shaped for display.
type Reading struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Usage  float64 `json:"usage"`
	Time   string  `json:"time"`
	Metric string  `json:"metric"`
}

type Store struct {
	src Source
	log *slog.Logger

	mu      sync.RWMutex
	records []api.MonitorRecord
	loading bool
	err     string
}

func NewStore(src Source, logger *slog.Logger) *Store {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Store{src: src, log: logger}
}

// Fetch replaces the held rows. A failure is kept in Err and also returned;
// the rows from the previous successful fetch stay in place.
func (s *Store) Fetch(ctx context.Context, q api.MonitorQuery) error {
	s.mu.Lock()
	s.loading = true
	s.err = ""
	s.mu.Unlock()

	rows, err := s.src.Data(ctx, q)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.err = errorText(err, "fetch monitor data failed")
		s.log.Warn("fetch monitor data failed", "error", err)
		return err
	}
	if rows == nil {
		rows = []api.MonitorRecord{}
	}
	s.records = rows
	return nil
}

// Add submits one sample and refreshes the held rows.
func (s *Store) Add(ctx context.Context, sub api.MetricSubmission) error {
	if err := s.src.Add(ctx, sub); err != nil {
		s.mu.Lock()
		s.err = errorText(err, "add monitor data failed")
		s.mu.Unlock()
		return err
	}
	return s.Fetch(ctx, api.MonitorQuery{})
}

func (s *Store) Stats(ctx context.Context, q api.MonitorQuery) ([]api.ServerStats, error) {
	stats, err := s.src.Stats(ctx, q)
	if err != nil {
		s.mu.Lock()
		s.err = errorText(err, "fetch monitor stats failed")
		s.mu.Unlock()
		return nil, err
	}
	return stats, nil
}

func (s *Store) Records() []api.MonitorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]api.MonitorRecord(nil), s.records...)
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Store) LatestCPU() (Reading, bool) {
	return s.latest("cpu", func(r api.MonitorRecord) any { return r.CPUValue })
}

func (s *Store) LatestMemory() (Reading, bool) {
	return s.latest("memory", func(r api.MonitorRecord) any { return r.MemoryValue })
}

func (s *Store) LatestDisk() (Reading, bool) {
	return s.latest("disk", func(r api.MonitorRecord) any { return r.DiskValue })
}

func (s *Store) latest(metric string, value func(api.MonitorRecord) any) (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return Reading{}, false
	}
	last := s.records[len(s.records)-1]
	name := unknownServer
	if last.Server != nil && last.Server.ServerName != "" {
		name = last.Server.ServerName
	}
	return Reading{
		ID:     last.ID,
		Name:   name,
		Usage:  parseUsage(value(last)),
		Time:   last.RecordedAt,
		Metric: metric,
	}, true
}

// parseUsage accepts the numeric and string encodings the API has used and
// falls back to 0.
func parseUsage(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case json.Number:
		f, _ := x.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		return f
	case nil:
		return 0
	default:
		f, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(x)), 64)
		if err != nil {
			return 0
		}
		return f
	}
}

func errorText(err error, fallback string) string {
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fallback
}
