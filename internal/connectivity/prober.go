package connectivity

import (
	"context"
	"net/http"
	"time"

	"fieldsync/internal/config"
)

// State describes the last known reachability of the backend.
type State string

const (
	// StateUnknown is the initial state before any probe completes. Callers
	// treat unknown as not reachable; a drain never starts on a guess.
	StateUnknown     State = "unknown"
	StateReachable   State = "reachable"
	StateUnreachable State = "unreachable"
)

// Prober answers a single reachability question about the backend.
type Prober interface {
	Probe(ctx context.Context) State
}

// HTTPProber checks backend reachability with a HEAD request against the
// health endpoint. Any HTTP response counts as reachable; only transport
// failures mean the network is down.
type HTTPProber struct {
	healthURL string
	client    *http.Client
	timeout   time.Duration
}

// NewHTTPProber builds a prober from the configured backend health URL.
func NewHTTPProber(cfg *config.Config) *HTTPProber {
	timeout := time.Duration(cfg.Sync.ProbeTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		healthURL: cfg.HealthURL(),
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
	}
}

func (p *HTTPProber) Probe(ctx context.Context) State {
	if p.healthURL == "" {
		return StateUnknown
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, p.healthURL, nil)
	if err != nil {
		return StateUnreachable
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return StateUnreachable
	}
	defer resp.Body.Close()

	return StateReachable
}
