package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthCheckTimeout bounds all health checks together.
const healthCheckTimeout = 2 * time.Second

// HealthCheck checks one dependency.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

type checkFunc struct {
	name  string
	check func(context.Context) error
}

func (c checkFunc) Name() string                    { return c.name }
func (c checkFunc) Check(ctx context.Context) error { return c.check(ctx) }

// NewHealthCheck adapts a ping function, e.g. Transport.Ping or pgxpool.Pool.Ping.
func NewHealthCheck(name string, check func(context.Context) error) HealthCheck {
	return checkFunc{name: name, check: check}
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every health check concurrently. It answers 200 when all pass
// and 503 when any fails or does not finish within healthCheckTimeout.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if len(s.HealthChecks) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	type checkResult struct {
		name string
		err  error
	}
	results := make(chan checkResult, len(s.HealthChecks))
	for _, hc := range s.HealthChecks {
		go func(p HealthCheck) {
			var err error
			defer func() {
				if rvr := recover(); rvr != nil {
					err = fmt.Errorf("health check panicked: %v", rvr)
				}
				results <- checkResult{name: p.Name(), err: err}
			}()
			err = p.Check(ctx)
		}(hc)
	}

	components := make(map[string]componentStatus, len(s.HealthChecks))
	healthy := true
collect:
	for range s.HealthChecks {
		select {
		case res := <-results:
			if res.err != nil {
				healthy = false
				components[res.name] = componentStatus{Status: "unhealthy", Message: res.err.Error()}
				continue
			}
			components[res.name] = componentStatus{Status: "healthy"}
		case <-ctx.Done():
			break collect
		}
	}
	for _, hc := range s.HealthChecks {
		if _, ok := components[hc.Name()]; !ok {
			healthy = false
			components[hc.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		}
	}

	if healthy {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy", Components: components})
		return
	}
	JSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Components: components})
}
