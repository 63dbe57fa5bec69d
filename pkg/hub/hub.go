package hub

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lumentreeinfo/lumentree/pkg/log"
	"github.com/lumentreeinfo/lumentree/pkg/metrics"
	"github.com/lumentreeinfo/lumentree/pkg/types"
)

// ErrMissingDevice is returned when a frame names no device.
var ErrMissingDevice = errors.New("device id is required")

// Subscriber is a connected client. Send must not block; it returns false if
// the message could not be queued.
type Subscriber interface {
	ID() string
	Send(msg []byte) bool
}

// Source serves on-demand device reads for connected clients.
type Source interface {
	GetRealTimeData(ctx context.Context, deviceID string) (types.RealTimeData, error)
	GetBatteryCells(ctx context.Context, deviceID string) (types.BatteryCellData, error)
}

// Hub tracks which clients watch which device. Each client watches at most
// one device at a time.
type Hub struct {
	source Source

	mu          sync.RWMutex
	clients     map[string]Subscriber
	current     map[string]string
	devices     map[string]map[string]Subscriber
	onSubscribe func(s Subscriber, deviceID string)
}

// New creates a Hub. source may be nil if on-demand requests are not served.
func New(source Source) *Hub {
	return &Hub{
		source:  source,
		clients: make(map[string]Subscriber),
		current: make(map[string]string),
		devices: make(map[string]map[string]Subscriber),
	}
}

// Register adds a connected client.
func (h *Hub) Register(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[s.ID()]; !ok {
		metrics.HubConnections.Inc()
	}
	h.clients[s.ID()] = s
}

// Remove drops a client and every subscription it held.
func (h *Hub) Remove(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[s.ID()]; ok {
		metrics.HubConnections.Dec()
	}
	delete(h.clients, s.ID())
	h.unsubscribeLocked(s.ID())
}

func (h *Hub) unsubscribeLocked(clientID string) {
	deviceID, ok := h.current[clientID]
	if !ok {
		return
	}
	delete(h.current, clientID)
	if subs, ok := h.devices[deviceID]; ok {
		delete(subs, clientID)
		if len(subs) == 0 {
			delete(h.devices, deviceID)
		}
	}
	metrics.HubSubscribedDevices.Set(float64(len(h.devices)))
}

// OnSubscribe sets fn to be called whenever a client starts watching a
// device it was not already watching. fn must not block.
func (h *Hub) OnSubscribe(fn func(s Subscriber, deviceID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSubscribe = fn
}

// Subscribe points the client at deviceID, dropping any previous
// subscription. Subscribing again to the same device is a no-op apart from
// the confirmation.
func (h *Hub) Subscribe(ctx context.Context, s Subscriber, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrMissingDevice
	}

	var changed func(Subscriber, string)
	h.mu.Lock()
	if _, ok := h.clients[s.ID()]; !ok {
		h.clients[s.ID()] = s
		metrics.HubConnections.Inc()
	}
	if prev, ok := h.current[s.ID()]; !ok || prev != deviceID {
		changed = h.onSubscribe
		h.unsubscribeLocked(s.ID())
		subs, ok := h.devices[deviceID]
		if !ok {
			subs = make(map[string]Subscriber)
			h.devices[deviceID] = subs
		}
		subs[s.ID()] = s
		h.current[s.ID()] = deviceID
		metrics.HubSubscribedDevices.Set(float64(len(h.devices)))
	}
	h.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "client subscribed", slog.String("clientId", s.ID()), slog.String("deviceId", deviceID))
	h.send(ctx, s, MethodSubscriptionConfirmed, deviceID, deviceID)
	if changed != nil {
		changed(s, deviceID)
	}
	return nil
}

// Unsubscribe removes the client's subscription to deviceID if it has one.
func (h *Hub) Unsubscribe(ctx context.Context, s Subscriber, deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.current[s.ID()]; ok && cur == strings.TrimSpace(deviceID) {
		h.unsubscribeLocked(s.ID())
		log.Ctx(ctx).DebugContext(ctx, "client unsubscribed", slog.String("clientId", s.ID()), slog.String("deviceId", cur))
	}
}

// SubscriberCount returns how many clients watch deviceID.
func (h *Hub) SubscriberCount(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices[deviceID])
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscription returns the device the client watches.
func (h *Hub) Subscription(clientID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.current[clientID]
	return d, ok
}

// Devices returns the devices with at least one subscriber, sorted.
func (h *Hub) Devices() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	devices := make([]string, 0, len(h.devices))
	for d := range h.devices {
		devices = append(devices, d)
	}
	sort.Strings(devices)
	return devices
}

func (h *Hub) subscribers(deviceID string) []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := make([]Subscriber, 0, len(h.devices[deviceID]))
	for _, s := range h.devices[deviceID] {
		subs = append(subs, s)
	}
	return subs
}

func (h *Hub) send(ctx context.Context, s Subscriber, method, deviceID string, payload interface{}) bool {
	msg, err := encode(method, deviceID, payload)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to encode message", slog.String("type", method), slog.Any("error", err))
		return false
	}
	return h.deliver(ctx, s, method, msg)
}

func (h *Hub) deliver(ctx context.Context, s Subscriber, method string, msg []byte) bool {
	if !s.Send(msg) {
		metrics.HubMessages.WithLabelValues(method, "dropped").Inc()
		log.Ctx(ctx).WarnContext(ctx, "dropped message for client", slog.String("clientId", s.ID()), slog.String("type", method))
		return false
	}
	metrics.HubMessages.WithLabelValues(method, "sent").Inc()
	return true
}

// broadcast encodes once and delivers to every subscriber of the device. It
// returns how many clients accepted the message.
func (h *Hub) broadcast(ctx context.Context, method, deviceID string, payload interface{}) int {
	subs := h.subscribers(deviceID)
	if len(subs) == 0 {
		return 0
	}
	msg, err := encode(method, deviceID, payload)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to encode broadcast", slog.String("type", method), slog.Any("error", err))
		return 0
	}
	var delivered int
	for _, s := range subs {
		if h.deliver(ctx, s, method, msg) {
			delivered++
		}
	}
	return delivered
}

// BroadcastRealTime pushes a real-time snapshot to the device's subscribers.
func (h *Hub) BroadcastRealTime(ctx context.Context, deviceID string, data types.RealTimeData) int {
	return h.broadcast(ctx, MethodRealTime, deviceID, data)
}

// BroadcastCellData pushes battery cell voltages to the device's subscribers.
func (h *Hub) BroadcastCellData(ctx context.Context, deviceID string, data types.BatteryCellData) int {
	return h.broadcast(ctx, MethodCellData, deviceID, data)
}

// BroadcastSOC pushes the state-of-charge history to the device's
// subscribers.
func (h *Hub) BroadcastSOC(ctx context.Context, deviceID string, data types.SOCData) int {
	return h.broadcast(ctx, MethodSOC, deviceID, data)
}

// SendError tells a single client its frame could not be handled.
func (h *Hub) SendError(ctx context.Context, s Subscriber, deviceID string, err error) {
	h.send(ctx, s, MethodError, deviceID, err.Error())
}

// Handle dispatches one client frame.
func (h *Hub) Handle(ctx context.Context, s Subscriber, msg Message) error {
	switch msg.Type {
	case MethodSubscribe:
		return h.Subscribe(ctx, s, msg.DeviceID)
	case MethodUnsubscribe:
		h.Unsubscribe(ctx, s, msg.DeviceID)
		return nil
	case MethodRequestCells:
		return h.requestCells(ctx, s, msg.DeviceID)
	default:
		return errors.New("unknown method: " + msg.Type)
	}
}

// requestCells fetches cell data now and replies to the requester only.
func (h *Hub) requestCells(ctx context.Context, s Subscriber, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrMissingDevice
	}
	if h.source == nil {
		return errors.New("battery cell data unavailable")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cells, err := h.source.GetBatteryCells(ctx, deviceID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get battery cells", slog.String("deviceId", deviceID), slog.Any("error", err))
		return errors.New("failed to fetch battery cell data")
	}
	h.send(ctx, s, MethodCellData, deviceID, cells)
	return nil
}
