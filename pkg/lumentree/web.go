package lumentree

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lumentreeinfo/lumentree/pkg/log"
	"github.com/lumentreeinfo/lumentree/pkg/metrics"
	"github.com/lumentreeinfo/lumentree/pkg/types"
)

const DefaultWebURL = "https://lumentree.net/api"

// Web fetches chart data from the lumentree.net site. Responses are passed
// through as raw JSON.
type Web struct {
	baseURL string
	monthly *http.Client
	soc     *http.Client
}

// NewWeb creates a Web client. Monthly and SOC requests use separate clients
// so they can carry different timeouts.
func NewWeb(baseURL string, monthly, soc *http.Client) *Web {
	return &Web{
		baseURL: strings.TrimRight(baseURL, "/"),
		monthly: monthly,
		soc:     soc,
	}
}

func (w *Web) get(ctx context.Context, client *http.Client, endpoint string, segments ...string) (json.RawMessage, error) {
	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, endpoint)
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	u := w.baseURL + "/" + strings.Join(escaped, "/")

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := w.do(client, req)
	metrics.ObserveUpstream("web_"+endpoint, start, err)
	return body, err
}

func (w *Web) do(client *http.Client, req *http.Request) (json.RawMessage, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid json from %s", req.URL.Path)
	}
	return json.RawMessage(body), nil
}

// Monthly returns the device's monthly energy chart data.
func (w *Web) Monthly(ctx context.Context, deviceID string) (json.RawMessage, error) {
	body, err := w.get(ctx, w.monthly, "monthly", deviceID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch monthly data", slog.String("deviceId", deviceID), slog.Any("error", err))
		return nil, err
	}
	return body, nil
}

// SOC returns the device's state-of-charge timeline for date (yyyy-MM-dd).
func (w *Web) SOC(ctx context.Context, deviceID, date string) (json.RawMessage, error) {
	body, err := w.get(ctx, w.soc, "soc", deviceID, date)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch soc data", slog.String("deviceId", deviceID), slog.String("date", date), slog.Any("error", err))
		return nil, err
	}
	return body, nil
}

type socSample struct {
	SOC float64 `json:"soc"`
	T   string  `json:"t"`
}

// SOCHistory fetches the SOC timeline and converts it to the shape pushed to
// hub subscribers.
func (w *Web) SOCHistory(ctx context.Context, deviceID string, date time.Time) (types.SOCData, error) {
	day := date.Format(types.DateLayout)
	body, err := w.SOC(ctx, deviceID, day)
	if err != nil {
		return types.SOCData{}, err
	}
	samples, err := parseTimeline(body)
	if err != nil {
		return types.SOCData{}, err
	}
	history := make([]types.SOCPoint, 0, len(samples))
	for _, s := range samples {
		history = append(history, types.SOCPoint{Time: s.T, SOC: s.SOC})
	}
	return types.SOCData{
		DeviceID: deviceID,
		Date:     day,
		History:  history,
	}, nil
}

// parseTimeline accepts either a bare array of samples or an object with a
// timeline field.
func parseTimeline(body json.RawMessage) ([]socSample, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var samples []socSample
		if err := json.Unmarshal(trimmed, &samples); err != nil {
			return nil, fmt.Errorf("failed to decode soc timeline: %w", err)
		}
		return samples, nil
	}
	var wrapped struct {
		Timeline []socSample `json:"timeline"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode soc timeline: %w", err)
	}
	return wrapped.Timeline, nil
}
