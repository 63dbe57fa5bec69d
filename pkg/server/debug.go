package server

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

const debugTimeout = 10 * time.Second

type checkResult struct {
	Success      bool     `json:"success"`
	Error        string   `json:"error,omitempty"`
	Addresses    []string `json:"addresses,omitempty"`
	StatusCode   int      `json:"status_code,omitempty"`
	Response     string   `json:"response,omitempty"`
	TokenPreview string   `json:"token_preview,omitempty"`
}

// handleConnectivity checks DNS, the vendor API and token generation and
// reports each independently.
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	results := map[string]checkResult{
		"dns_resolution":   s.checkDNS(ctx),
		"lumentree_api":    s.checkAPI(ctx),
		"token_generation": s.checkToken(ctx),
	}
	writeJSON(w, results)
}

func (s *Server) checkDNS(ctx context.Context) checkResult {
	u, err := url.Parse(s.prober.BaseURL())
	if err != nil {
		return checkResult{Error: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, debugTimeout)
	defer cancel()
	addrs, err := s.lookupHost(ctx, u.Hostname())
	if err != nil {
		return checkResult{Error: err.Error()}
	}
	return checkResult{Success: true, Addresses: addrs}
}

func (s *Server) checkAPI(ctx context.Context) checkResult {
	ctx, cancel := context.WithTimeout(ctx, debugTimeout)
	defer cancel()
	status, body, err := s.prober.Ping(ctx)
	if err != nil {
		return checkResult{Error: err.Error()}
	}
	return checkResult{
		Success:    status >= 200 && status < 300,
		StatusCode: status,
		Response:   body,
	}
}

func (s *Server) checkToken(ctx context.Context) checkResult {
	ctx, cancel := context.WithTimeout(ctx, debugTimeout)
	defer cancel()
	token, err := s.prober.GenerateToken(ctx, s.probeDevice)
	if err != nil {
		return checkResult{Error: err.Error()}
	}
	preview := token
	if len(preview) > 8 {
		preview = preview[:8]
	}
	return checkResult{
		Success:      token != "",
		TokenPreview: preview + "...",
	}
}
