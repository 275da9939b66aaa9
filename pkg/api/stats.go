package api

import (
	"runtime"
	"sort"
	"time"

	"usenetstreamer/pkg/stream"
)

// ActivePreparation is a stream that is being prepared right now.
type ActivePreparation struct {
	Key     string    `json:"key"`
	Title   string    `json:"title"`
	JobID   string    `json:"job_id,omitempty"`
	Stage   string    `json:"stage"`
	Started time.Time `json:"started"`
	Updated time.Time `json:"updated"`
}

// SystemStats represents the current state of the application
type SystemStats struct {
	Timestamp          time.Time           `json:"timestamp"`
	UptimeSeconds      int64               `json:"uptime_seconds"`
	Goroutines         int                 `json:"goroutines"`
	DashboardClients   int                 `json:"dashboard_clients"`
	ActivePreparations []ActivePreparation `json:"active_preparations"`
	RecentEvents       []stream.Event      `json:"recent_events"`
}

// collectStats gathers a snapshot for the dashboard
func (s *Server) collectStats() SystemStats {
	now := time.Now()
	stats := SystemStats{
		Timestamp:        now,
		UptimeSeconds:    int64(now.Sub(s.started).Seconds()),
		Goroutines:       runtime.NumGoroutine(),
		DashboardClients: s.ClientCount(),
	}

	s.mu.RLock()
	stats.ActivePreparations = make([]ActivePreparation, 0, len(s.active))
	for _, prep := range s.active {
		stats.ActivePreparations = append(stats.ActivePreparations, *prep)
	}
	stats.RecentEvents = make([]stream.Event, len(s.recent))
	copy(stats.RecentEvents, s.recent)
	s.mu.RUnlock()

	// Oldest first
	sort.Slice(stats.ActivePreparations, func(i, j int) bool {
		return stats.ActivePreparations[i].Started.Before(stats.ActivePreparations[j].Started)
	})

	return stats
}
