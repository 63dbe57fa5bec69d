package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lumentreeinfo/lumentree/pkg/gateway"
	"github.com/lumentreeinfo/lumentree/pkg/log"
	"github.com/lumentreeinfo/lumentree/pkg/lumentree"
	"github.com/lumentreeinfo/lumentree/pkg/types"
)

// deviceID reads the path's device ID and attaches it to the request's
// logger. It writes a 400 and returns false if the ID is blank.
func (s *Server) deviceID(w http.ResponseWriter, r *http.Request) (string, *http.Request, bool) {
	deviceID := strings.TrimSpace(r.PathValue("deviceId"))
	if deviceID == "" {
		log.Ctx(r.Context()).WarnContext(r.Context(), "device ID is empty")
		writeAPIError(w, apiError{Error: "Device ID is required", Code: codeMissingDevice}, http.StatusBadRequest)
		return "", r, false
	}
	return deviceID, r.WithContext(log.WithDevice(r.Context(), deviceID)), true
}

func (s *Server) handleMissingDevice(w http.ResponseWriter, r *http.Request) {
	s.deviceID(w, r)
}

// parseDate accepts yyyy-MM-dd or RFC 3339 and returns the date in loc.
func parseDate(v string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(types.DateLayout, v, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", v)
	}
	return t.In(loc), nil
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, r, ok := s.deviceID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	now := s.devices.Now()
	date := now
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := parseDate(v, now.Location())
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse date, using current date instead", slog.String("date", v))
		} else {
			date = parsed
		}
	}

	data, err := s.devices.GetAllDeviceData(ctx, deviceID, date)
	if err != nil {
		if errors.Is(err, lumentree.ErrDeviceNotFound) {
			log.Ctx(ctx).WarnContext(ctx, "no device info found", slog.Any("error", err))
			writeDeviceNotFound(w, deviceID)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get device data", slog.Any("error", err))
		writeInternalError(w, err)
		return
	}

	log.Ctx(ctx).DebugContext(ctx, "returning device data", slog.String("date", date.Format(types.DateLayout)))
	writeJSON(w, data.WithDefaults())
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	deviceID, r, ok := s.deviceID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	sum, err := s.devices.Today(ctx, deviceID)
	if err != nil {
		if errors.Is(err, gateway.ErrNoData) {
			writeAPIError(w, apiError{
				Error:    fmt.Sprintf("No data found for device %s", deviceID),
				Code:     codeNoData,
				DeviceID: deviceID,
			}, http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get today data", slog.Any("error", err))
		writeInternalError(w, err)
		return
	}
	writeJSON(w, sum)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	deviceID, r, ok := s.deviceID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	now := s.devices.Now()
	from := now.AddDate(0, -1, 0)
	to := now
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := parseDate(v, now.Location())
		if err != nil {
			writeAPIError(w, apiError{Error: err.Error(), Code: codeInvalidDate}, http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := parseDate(v, now.Location())
		if err != nil {
			writeAPIError(w, apiError{Error: err.Error(), Code: codeInvalidDate}, http.StatusBadRequest)
			return
		}
		to = parsed
	}

	sum, err := s.devices.Summary(ctx, deviceID, from, to)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidRange) {
			writeAPIError(w, apiError{Error: err.Error(), Code: codeInvalidRange}, http.StatusBadRequest)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get summary data", slog.Any("error", err))
		writeInternalError(w, err)
		return
	}
	writeJSON(w, sum)
}
