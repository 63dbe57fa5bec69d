package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumentreeinfo/lumentree/pkg/hub"
)

func TestServer(t *testing.T) {
	t.Run("Healthz", func(t *testing.T) {
		srv := newTestServer(&mockDevices{}, nil, nil)
		w := serve(t, srv, "/healthz")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", w.Body.String())
	})

	t.Run("Metrics", func(t *testing.T) {
		srv := newTestServer(&mockDevices{}, nil, nil)
		serve(t, srv, "/device/")
		w := serve(t, srv, "/metrics")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "lumentree_http_requests_total")
	})

	t.Run("Unknown Route", func(t *testing.T) {
		srv := newTestServer(&mockDevices{}, nil, nil)
		w := serve(t, srv, "/nope")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Gzip", func(t *testing.T) {
		srv := newTestServer(&mockDevices{}, nil, nil)
		req := httptest.NewRequest("GET", "/device/", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Header().Get("Vary"), "Accept-Encoding")
	})

	t.Run("Device Hub Mounted", func(t *testing.T) {
		h := hub.New(nil)
		srv := newTestServer(&mockDevices{}, nil, nil)
		srv.hub = h

		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/deviceHub", nil)
		require.NoError(t, err)
		defer ws.Close()

		require.NoError(t, ws.WriteJSON(hub.Message{Type: hub.MethodSubscribe, DeviceID: "P1"}))
		var msg hub.Message
		require.NoError(t, ws.ReadJSON(&msg))
		assert.Equal(t, hub.MethodSubscriptionConfirmed, msg.Type)
		assert.Equal(t, 1, h.SubscriberCount("P1"))
	})
}
