package lumentree

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeb(t *testing.T) {
	t.Run("Monthly Passthrough", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/monthly/P1", r.URL.Path)
			w.Write([]byte(`{"months":[{"m":"2025-07","pv":312.4}]}`))
		}))
		defer ts.Close()

		w := NewWeb(ts.URL+"/api", ts.Client(), ts.Client())
		body, err := w.Monthly(context.Background(), "P1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"months":[{"m":"2025-07","pv":312.4}]}`, string(body))
	})

	t.Run("Status Forwarded", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
		defer ts.Close()

		w := NewWeb(ts.URL, ts.Client(), ts.Client())
		_, err := w.SOC(context.Background(), "P1", "2025-08-01")
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusTeapot, se.StatusCode)
	})

	t.Run("Timeout", func(t *testing.T) {
		release := make(chan struct{})
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer ts.Close()
		defer close(release)

		slow := ts.Client()
		slow.Timeout = 50 * time.Millisecond
		w := NewWeb(ts.URL, ts.Client(), slow)
		_, err := w.SOC(context.Background(), "P1", "2025-08-01")
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("Connect Failure", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		url := ts.URL
		ts.Close()

		w := NewWeb(url, http.DefaultClient, http.DefaultClient)
		_, err := w.Monthly(context.Background(), "P1")
		assert.ErrorIs(t, err, ErrConnect)
	})

	t.Run("SOC History", func(t *testing.T) {
		for name, payload := range map[string]string{
			"array":   `[{"soc":55,"t":"00:00"},{"soc":56.5,"t":"00:05"}]`,
			"wrapped": `{"timeline":[{"soc":55,"t":"00:00"},{"soc":56.5,"t":"00:05"}]}`,
		} {
			t.Run(name, func(t *testing.T) {
				ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(t, "/soc/P1/2025-08-01", r.URL.Path)
					w.Write([]byte(payload))
				}))
				defer ts.Close()

				w := NewWeb(ts.URL, ts.Client(), ts.Client())
				soc, err := w.SOCHistory(context.Background(), "P1", time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
				require.NoError(t, err)
				assert.Equal(t, "P1", soc.DeviceID)
				assert.Equal(t, "2025-08-01", soc.Date)
				require.Len(t, soc.History, 2)
				assert.Equal(t, "00:05", soc.History[1].Time)
				assert.Equal(t, 56.5, soc.History[1].SOC)
			})
		}
	})
}
