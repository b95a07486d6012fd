// Package health reports liveness of the API and the readiness of its backing stores.
package health

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"
)

const pingTimeout = 2 * time.Second

// Corpus is a retrieval corpus that loads lazily.
type Corpus interface {
	Corpus() string
	Ready() bool
}

// Report is the /health payload.
type Report struct {
	OK       bool            `json:"ok"`
	Database string          `json:"database"`
	Corpora  map[string]bool `json:"corpora"`
}

// Service encapsulates health-related checks.
type Service struct {
	DB      *sql.DB
	Corpora []Corpus

	group singleflight.Group
}

// NewService constructs a new health service.
func NewService(db *sql.DB, corpora ...Corpus) *Service {
	return &Service{DB: db, Corpora: corpora}
}

// Status returns the health payload. Concurrent callers share one database ping.
// An unloaded corpus is reported but does not make the service unhealthy.
func (s *Service) Status(ctx context.Context) Report {
	v, _, _ := s.group.Do("status", func() (any, error) {
		return s.check(ctx), nil
	})
	return v.(Report)
}

func (s *Service) check(ctx context.Context) Report {
	report := Report{OK: true, Database: "memory", Corpora: map[string]bool{}}
	if s.DB != nil {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := s.DB.PingContext(pingCtx); err != nil {
			report.OK = false
			report.Database = "unreachable"
		} else {
			report.Database = "ok"
		}
	}
	for _, c := range s.Corpora {
		report.Corpora[c.Corpus()] = c.Ready()
	}
	return report
}

// CorpusNames lists the tracked corpora in sorted order.
func (s *Service) CorpusNames() []string {
	names := make([]string, 0, len(s.Corpora))
	for _, c := range s.Corpora {
		names = append(names, c.Corpus())
	}
	sort.Strings(names)
	return names
}
