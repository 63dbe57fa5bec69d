package server

import (
	"log/slog"
	"net/http"

	"github.com/lumentreeinfo/lumentree/pkg/log"
	"github.com/lumentreeinfo/lumentree/pkg/types"
)

func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	deviceID, r, ok := s.deviceID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	body, err := s.charts.Monthly(ctx, deviceID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch monthly data", slog.Any("error", err))
		writeUpstreamError(w, err, "monthly data")
		return
	}
	writeRaw(w, body)
}

func (s *Server) handleSOC(w http.ResponseWriter, r *http.Request) {
	deviceID, r, ok := s.deviceID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	now := s.devices.Now()
	date := now.Format(types.DateLayout)
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := parseDate(v, now.Location())
		if err != nil {
			writeAPIError(w, apiError{Error: err.Error(), Code: codeInvalidDate}, http.StatusBadRequest)
			return
		}
		date = parsed.Format(types.DateLayout)
	}

	body, err := s.charts.SOC(ctx, deviceID, date)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch soc data", slog.String("date", date), slog.Any("error", err))
		writeUpstreamError(w, err, "SOC data")
		return
	}
	writeRaw(w, body)
}

func writeRaw(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		panic(http.ErrAbortHandler)
	}
}
