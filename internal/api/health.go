package api

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Dependency is something readiness probes ping. A failing required
// dependency makes the service unready; an optional one only degrades it.
type Dependency struct {
	Name     string
	Required bool
	Ping     func(ctx context.Context) error
}

type HealthHandler struct {
	deps    []Dependency
	env     string
	version string
}

func NewHealthHandler(deps []Dependency, env, version string) *HealthHandler {
	return &HealthHandler{
		deps:    deps,
		env:     env,
		version: version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	type result struct {
		dep Dependency
		err error
	}
	results := make([]result, len(h.deps))

	var wg sync.WaitGroup
	for i, dep := range h.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pingCtx, pingCancel := context.WithTimeout(ctx, time.Second)
			defer pingCancel()
			results[i] = result{dep: dep, err: dep.Ping(pingCtx)}
		}()
	}
	wg.Wait()

	deps := make(map[string]string, len(results))
	status := "ok"
	for _, res := range results {
		if res.err == nil {
			deps[res.dep.Name] = "ok"
			continue
		}
		deps[res.dep.Name] = "down"
		switch {
		case res.dep.Required:
			status = "error"
		case status == "ok":
			status = "degraded"
		}
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	})
}
