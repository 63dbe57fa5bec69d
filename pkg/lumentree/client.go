package lumentree

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lumentreeinfo/lumentree/pkg/log"
	"github.com/lumentreeinfo/lumentree/pkg/metrics"
	"github.com/lumentreeinfo/lumentree/pkg/types"
)

const (
	DefaultBaseURL = "http://lesvr.suntcn.com/lesvr"

	serverTimePath   = "getServerTime"
	shareDevicesPath = "shareDevices"

	returnValueOK           = 1
	returnValueTokenInvalid = 401
)

// TokenSource hands out per-device upstream tokens.
type TokenSource interface {
	Token(ctx context.Context, deviceID string) (string, error)
	Invalidate(ctx context.Context, deviceID, token string)
}

// Client talks to the Lumentree vendor API. Every authenticated call asks the
// TokenSource for the device's token and, if the vendor rejects it, drops it
// and retries once with a fresh one.
type Client struct {
	client  *http.Client
	baseURL string
	tokens  TokenSource
	limiter *rate.Limiter
}

// NewClient creates a client. A nil limiter means unlimited.
func NewClient(baseURL string, httpClient *http.Client, limiter *rate.Limiter) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	} else if limiter.Limit() != rate.Inf && limiter.Burst() < 1 {
		// a finite limit with no burst rejects every Wait
		limiter.SetBurst(1)
	}
	return &Client{
		client:  httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: limiter,
	}
}

// SetTokenSource sets where authenticated calls get their tokens.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// BaseURL returns the vendor API base.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type envelope struct {
	ReturnValue int             `json:"returnValue"`
	Msg         string          `json:"msg"`
	Data        json.RawMessage `json:"data"`
}

func (e envelope) hasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

func (c *Client) endpointURL(endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	u = u.JoinPath(endpoint)
	if params != nil {
		u.RawQuery = params.Encode()
	}
	return u.String(), nil
}

func (c *Client) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := c.endpointURL(endpoint, params)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, "GET", u, nil)
}

func (c *Client) newPostFormRequest(ctx context.Context, endpoint string, data url.Values) (*http.Request, error) {
	u, err := c.endpointURL(endpoint, nil)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// send performs one round trip and decodes the envelope. The returned bool is
// true when the vendor rejected the token.
func (c *Client) send(req *http.Request, endpoint string) (envelope, bool, error) {
	ctx := req.Context()
	if err := c.limiter.Wait(ctx); err != nil {
		return envelope{}, false, classify(err)
	}

	start := time.Now()
	env, rejected, err := c.roundTrip(req)
	metrics.ObserveUpstream(endpoint, start, err)
	return env, rejected, err
}

func (c *Client) roundTrip(req *http.Request) (envelope, bool, error) {
	ctx := req.Context()
	resp, err := c.client.Do(req)
	if err != nil {
		return envelope{}, false, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return envelope{}, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return envelope{}, false, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, false, classify(err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode lumentree response", slog.Any("error", err), slog.String("body", truncate(string(body), 500)))
		return envelope{}, false, fmt.Errorf("failed to decode lumentree response: %w", err)
	}
	if env.ReturnValue == returnValueTokenInvalid {
		return env, true, nil
	}
	return env, false, nil
}

// call performs an authenticated GET for the device and returns the envelope.
func (c *Client) call(ctx context.Context, deviceID, endpoint string, params url.Values) (envelope, error) {
	if c.tokens == nil {
		return envelope{}, errors.New("lumentree client has no token source")
	}

	// we try up to 2 times because the vendor may drop a token before its ttl
	for i := 0; i < 2; i++ {
		token, err := c.tokens.Token(ctx, deviceID)
		if err != nil {
			return envelope{}, err
		}

		req, err := c.newGetRequest(ctx, endpoint, params)
		if err != nil {
			return envelope{}, err
		}
		req.Header.Set("Authorization", token)

		env, rejected, err := c.send(req, endpoint)
		if err != nil {
			return envelope{}, err
		}
		if rejected {
			log.Ctx(ctx).DebugContext(ctx, "lumentree token rejected", slog.String("deviceId", deviceID), slog.String("endpoint", endpoint))
			c.tokens.Invalidate(ctx, deviceID, token)
			continue
		}
		return env, nil
	}
	return envelope{}, fmt.Errorf("%w: token rejected twice", ErrAuthFailure)
}

// fetch calls the endpoint and decodes a successful envelope's data into dest.
// It returns false if the vendor answered without data.
func (c *Client) fetch(ctx context.Context, deviceID, endpoint string, params url.Values, dest interface{}) (bool, error) {
	env, err := c.call(ctx, deviceID, endpoint, params)
	if err != nil {
		return false, err
	}
	if env.ReturnValue != returnValueOK || !env.hasData() {
		log.Ctx(ctx).DebugContext(ctx, "lumentree returned no data",
			slog.String("endpoint", endpoint),
			slog.Int("returnValue", env.ReturnValue),
			slog.String("msg", env.Msg),
		)
		return false, nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode lumentree data", slog.String("endpoint", endpoint), slog.Any("error", err))
		return false, fmt.Errorf("failed to decode %s data: %w", endpoint, err)
	}
	return true, nil
}

// GetServerTime returns the vendor's clock string. It needs no token and is
// the first step of a login.
func (c *Client) GetServerTime(ctx context.Context) (string, error) {
	req, err := c.newGetRequest(ctx, serverTimePath, nil)
	if err != nil {
		return "", err
	}
	env, _, err := c.send(req, serverTimePath)
	if err != nil {
		return "", err
	}
	if env.ReturnValue != returnValueOK {
		return "", fmt.Errorf("getServerTime failed: %s", env.Msg)
	}
	var res struct {
		ServerTime json.RawMessage `json:"serverTime"`
	}
	if err := json.Unmarshal(env.Data, &res); err != nil {
		return "", fmt.Errorf("failed to decode server time: %w", err)
	}
	st := strings.Trim(string(res.ServerTime), `"`)
	if st == "" {
		return "", errors.New("empty server time")
	}
	return st, nil
}

// GenerateToken logs in for a single device and returns the issued token.
func (c *Client) GenerateToken(ctx context.Context, deviceID string) (string, error) {
	if deviceID == "" {
		return "", errors.New("missing deviceID")
	}
	serverTime, err := c.GetServerTime(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}

	data := url.Values{}
	data.Set("deviceIds", deviceID)
	data.Set("serverTime", serverTime)

	req, err := c.newPostFormRequest(ctx, shareDevicesPath, data)
	if err != nil {
		return "", err
	}
	env, _, err := c.send(req, shareDevicesPath)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "lumentree login failed", slog.String("deviceId", deviceID), slog.Any("error", err))
		return "", fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}
	if env.ReturnValue != returnValueOK {
		return "", fmt.Errorf("%w: %s", ErrAuthFailure, env.Msg)
	}
	var res struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &res); err != nil || res.Token == "" {
		return "", fmt.Errorf("%w: no token in response", ErrAuthFailure)
	}
	log.Ctx(ctx).DebugContext(ctx, "lumentree login success", slog.String("deviceId", deviceID))
	return res.Token, nil
}

func dayParams(deviceID string, date time.Time) url.Values {
	params := url.Values{}
	params.Set("deviceId", deviceID)
	params.Set("queryDate", date.Format(types.DateLayout))
	return params
}

// GetDeviceInfo returns the device's metadata or ErrDeviceNotFound.
func (c *Client) GetDeviceInfo(ctx context.Context, deviceID string) (*types.DeviceInfo, error) {
	params := url.Values{}
	params.Set("deviceId", deviceID)

	var info types.DeviceInfo
	ok, err := c.fetch(ctx, deviceID, "deviceInfo", params, &info)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDeviceNotFound
	}
	if info.DeviceID == "" {
		info.DeviceID = deviceID
	}
	return &info, nil
}

// GetPVDayData returns the PV table for the day. A nil table with a nil error
// means the vendor had no PV data.
func (c *Client) GetPVDayData(ctx context.Context, deviceID string, date time.Time) (*types.Table, error) {
	var res struct {
		PV *types.Table `json:"pv"`
	}
	if _, err := c.fetch(ctx, deviceID, "getPVDayData", dayParams(deviceID, date), &res); err != nil {
		return nil, err
	}
	return res.PV, nil
}

// GetBatDayData returns the battery table for the day.
func (c *Client) GetBatDayData(ctx context.Context, deviceID string, date time.Time) (*types.BatData, error) {
	var res types.BatData
	ok, err := c.fetch(ctx, deviceID, "getBatDayData", dayParams(deviceID, date), &res)
	if err != nil || !ok || len(res.Bats) == 0 {
		return nil, err
	}
	return &res, nil
}

// GetOtherDayData returns the essential load, grid and home load tables for
// the day. Any of them may be nil.
func (c *Client) GetOtherDayData(ctx context.Context, deviceID string, date time.Time) (types.OtherDayData, error) {
	var res types.OtherDayData
	if _, err := c.fetch(ctx, deviceID, "getOtherDayData", dayParams(deviceID, date), &res); err != nil {
		return types.OtherDayData{}, err
	}
	return res, nil
}

// GetRealTimeData returns the device's live power snapshot.
func (c *Client) GetRealTimeData(ctx context.Context, deviceID string) (types.RealTimeData, error) {
	params := url.Values{}
	params.Set("deviceId", deviceID)

	var res types.RealTimeData
	ok, err := c.fetch(ctx, deviceID, "getRealTimeData", params, &res)
	if err != nil {
		return types.RealTimeData{}, err
	}
	if !ok {
		return types.RealTimeData{}, ErrDeviceNotFound
	}
	res.DeviceID = deviceID
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	if res.PVTotalPower == 0 {
		res.PVTotalPower = res.PV1Power + res.PV2Power
	}
	return res, nil
}

// GetBatteryCells returns the per-cell battery voltages.
func (c *Client) GetBatteryCells(ctx context.Context, deviceID string) (types.BatteryCellData, error) {
	params := url.Values{}
	params.Set("deviceId", deviceID)

	var res struct {
		Cells []float64 `json:"cells"`
	}
	ok, err := c.fetch(ctx, deviceID, "getBatteryCells", params, &res)
	if err != nil {
		return types.BatteryCellData{}, err
	}
	if !ok {
		return types.BatteryCellData{}, ErrDeviceNotFound
	}
	return types.BatteryCellData{
		DeviceID:  deviceID,
		Timestamp: time.Now(),
		Cells:     res.Cells,
	}, nil
}

// Ping checks the vendor API is reachable and returns a prefix of the raw
// server-time response body alongside its status.
func (c *Client) Ping(ctx context.Context) (int, string, error) {
	req, err := c.newGetRequest(ctx, serverTimePath, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", classify(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return resp.StatusCode, "", classify(err)
	}
	return resp.StatusCode, truncate(string(body), 500), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
