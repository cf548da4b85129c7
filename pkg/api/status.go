package api

import (
	"sync"
	"time"

	"streamgate/pkg/provider"
)

// Status is the /api/status response body
type Status struct {
	UptimeSeconds  int              `json:"uptimeSeconds"`
	ActiveSessions int              `json:"activeSessions"`
	SessionTTL     int              `json:"sessionTtlSeconds"`
	Providers      []ProviderHealth `json:"providers"`
}

// ProviderHealth is one provider's reachability as of the last ping
type ProviderHealth struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

func (s *Server) collectStatus() Status {
	stats := s.sessions.Stats()

	health := make([]ProviderHealth, len(s.providers))
	var wg sync.WaitGroup
	for i := range s.providers {
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			start := time.Now()
			err := p.Ping()
			h := ProviderHealth{
				Name:      p.Name(),
				Healthy:   err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				h.Error = err.Error()
			}
			health[i] = h
		}(i, s.providers[i])
	}
	wg.Wait()

	return Status{
		UptimeSeconds:  int(time.Since(s.startedAt) / time.Second),
		ActiveSessions: stats.ActiveSessions,
		SessionTTL:     stats.TTLSeconds,
		Providers:      health,
	}
}
