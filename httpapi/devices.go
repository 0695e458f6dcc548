package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meross-go/device"
	"github.com/nerrad567/meross-go/model"
	"github.com/nerrad567/meross-go/ratelimit"
)

// commandTimeout bounds state writes issued through the API. Device
// commands carry their own ACK deadline underneath; this is a
// safety net for the HTTP request as a whole.
const commandTimeout = 35 * time.Second

// deviceSummary is the list-view projection of one device.
type deviceSummary struct {
	UUID       string   `json:"uuid"`
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Online     string   `json:"online"`
	LANAddress string   `json:"lan_address,omitempty"`
	Firmware   string   `json:"firmware,omitempty"`
	Hardware   string   `json:"hardware,omitempty"`
	Channels   int      `json:"channels"`
	Abilities  []string `json:"abilities,omitempty"`
}

func summarise(d *device.Device, withAbilities bool) deviceSummary {
	info := d.Info()
	s := deviceSummary{
		UUID:       d.UUID(),
		Name:       d.Name(),
		Type:       d.Type(),
		Online:     d.Online().String(),
		LANAddress: d.LANAddress(),
		Firmware:   info.FirmwareVersion,
		Hardware:   info.HardwareVersion,
		Channels:   len(info.Channels),
	}
	if withAbilities {
		abilities := d.Abilities()
		s.Abilities = make([]string, 0, len(abilities))
		for ns := range abilities {
			s.Abilities = append(s.Abilities, ns)
		}
	}
	return s
}

// handleListDevices returns all devices, with optional query filters.
//
// Query parameters:
//   - type: filter by model identifier (e.g. mss310)
//   - name: filter by user-assigned name
//   - online: "true" keeps only online devices
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var devices []*device.Device
	switch {
	case r.URL.Query().Get("type") != "":
		devices = s.manager.FindByType(r.URL.Query().Get("type"))
	case r.URL.Query().Get("name") != "":
		devices = s.manager.FindByName(r.URL.Query().Get("name"))
	default:
		devices = s.manager.Devices()
	}

	if r.URL.Query().Get("online") == "true" {
		devices = filterOnline(devices)
	}

	summaries := make([]deviceSummary, 0, len(devices))
	for _, d := range devices {
		summaries = append(summaries, summarise(d, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": summaries, "count": len(summaries)})
}

func filterOnline(devices []*device.Device) []*device.Device {
	kept := devices[:0:0]
	for _, d := range devices {
		if d.Online() == model.OnlineStatusOnline {
			kept = append(kept, d)
		}
	}
	return kept
}

// handleGetDevice returns one device with its full ability list.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, summarise(d, true))
}

// channelState is the state of one switchable channel.
type channelState struct {
	Channel int  `json:"channel"`
	On      bool `json:"on"`
}

// handleGetDeviceState returns the cached state of a device: switch
// positions, power readings and climate state where the device
// reports them. Only state already known from pushes and refreshes is
// returned; no device round trip happens.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}

	state := map[string]any{
		"uuid":   d.UUID(),
		"online": d.Online().String(),
	}

	if toggle, ok := d.ToggleX(); ok {
		var channels []channelState
		for _, ch := range d.Info().Channels {
			if on, known := toggle.IsOn(ch.Index); known {
				channels = append(channels, channelState{Channel: ch.Index, On: on})
			}
		}
		state["switches"] = channels
	}

	if elec, ok := d.Electricity(); ok {
		var samples []any
		for _, ch := range d.Info().Channels {
			if sample, known := elec.Last(ch.Index); known {
				samples = append(samples, map[string]any{
					"channel":    sample.Channel,
					"current_a":  sample.CurrentA,
					"voltage_v":  sample.VoltageV,
					"power_w":    sample.PowerW,
					"sampled_at": sample.SampledAt,
				})
			}
		}
		state["power"] = samples
	}

	if garage, ok := d.GarageOpener(); ok {
		if open, known := garage.IsOpen(0); known {
			state["garage_open"] = open
		}
	}

	if shutter, ok := d.RollerShutter(); ok {
		state["shutter_state"] = shutter.State(0).String()
	}

	if thermostat, ok := d.Thermostat(); ok {
		if ts, known := thermostat.State(0); known {
			state["thermostat"] = ts
		}
	}

	writeJSON(w, http.StatusOK, state)
}

// setStateRequest is the body of a state write.
type setStateRequest struct {
	Channel int  `json:"channel"`
	On      bool `json:"on"`
}

// handleSetDeviceState switches one channel on or off.
func (s *Server) handleSetDeviceState(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}

	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	err := switchChannel(ctx, d, req.Channel, req.On)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, channelState{Channel: req.Channel, On: req.On})
	case errors.Is(err, ratelimit.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "device is rate limited, retry later")
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timed out"):
		writeError(w, http.StatusGatewayTimeout, "device_timeout", "device did not acknowledge the command")
	default:
		s.logger.Error("state write failed", "uuid", d.UUID(), "error", err)
		writeInternalError(w, "command failed")
	}
}

// switchChannel drives whichever switch capability the device has.
func switchChannel(ctx context.Context, d *device.Device, channel int, on bool) error {
	if toggle, ok := d.ToggleX(); ok {
		if on {
			return toggle.TurnOn(ctx, channel)
		}
		return toggle.TurnOff(ctx, channel)
	}
	if toggle, ok := d.Toggle(); ok {
		if on {
			return toggle.TurnOn(ctx)
		}
		return toggle.TurnOff(ctx)
	}
	return errors.New("device has no switch capability")
}

// historyQueryLimit caps the history page size.
const historyQueryLimit = 200

// handleDeviceHistory returns the recorded push notifications for a
// device, newest first.
//
// Query parameters:
//   - limit: maximum entries to return (default 50, max 200)
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "push history is not enabled")
		return
	}
	d, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > historyQueryLimit {
			writeBadRequest(w, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	entries, err := s.history.History(r.Context(), d.UUID(), limit)
	if err != nil {
		s.logger.Error("reading push history", "uuid", d.UUID(), "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// subdeviceSummary is the projection of one hub subdevice.
type subdeviceSummary struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Online string `json:"online"`
}

// handleListSubdevices returns the subdevices paired behind a hub.
func (s *Server) handleListSubdevices(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}
	if _, isHub := d.Hub(); !isHub {
		writeError(w, http.StatusConflict, ErrCodeConflict, "device is not a hub")
		return
	}

	subs := d.Subdevices()
	summaries := make([]subdeviceSummary, 0, len(subs))
	for _, sub := range subs {
		summaries = append(summaries, subdeviceSummary{
			ID:     sub.ID(),
			Type:   sub.Type(),
			Name:   sub.Name(),
			Online: sub.Online().String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"subdevices": summaries, "count": len(summaries)})
}

// handleDiscover triggers a discovery pass against the cloud
// inventory and reports what changed.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	result, err := s.manager.Discover(r.Context())
	if err != nil {
		s.logger.Error("discovery via API failed", "error", err)
		writeUnavailable(w, "discovery failed")
		return
	}

	failed := make([]string, 0, len(result.Failed))
	for uuid := range result.Failed {
		failed = append(failed, uuid)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"added":   len(result.Added),
		"updated": len(result.Updated),
		"missing": result.Missing,
		"failed":  failed,
	})
}

// deviceFromPath resolves the {uuid} path parameter to a device,
// writing a 404 when it is unknown.
func (s *Server) deviceFromPath(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	uuid := chi.URLParam(r, "uuid")
	d, err := s.manager.Device(uuid)
	if err != nil {
		writeNotFound(w, "unknown device")
		return nil, false
	}
	return d, true
}
