// Package ha speaks the Home Assistant WebSocket API: token auth
// handshake, then id-matched command/result exchanges.
package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/electrification-bus/hass-atlas/internal/models"
	"github.com/electrification-bus/hass-atlas/internal/registry"
)

const commandTimeout = 30 * time.Second

// Client is a connected, authenticated WebSocket session. Not safe for
// concurrent use; callers serialize commands.
type Client struct {
	conn  *websocket.Conn
	log   zerolog.Logger
	msgID int
}

type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WebsocketURL converts the configured base URL to the API endpoint.
func WebsocketURL(baseURL string) string {
	base := strings.TrimSuffix(baseURL, "/")
	base = strings.Replace(base, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	return base + "/api/websocket"
}

// Connect dials the API and performs the auth handshake.
func Connect(ctx context.Context, baseURL, token string, log zerolog.Logger) (*Client, error) {
	wsURL := WebsocketURL(baseURL)
	log.Debug().Str("url", wsURL).Msg("connecting")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}
	c := &Client{conn: conn, log: log}

	var hello wsMessage
	if err := c.read(ctx, &hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		conn.Close()
		return nil, fmt.Errorf("expected auth_required, got %q", hello.Type)
	}

	auth := map[string]string{"type": "auth", "access_token": token}
	if err := c.write(ctx, auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending auth: %w", err)
	}
	var result wsMessage
	if err := c.read(ctx, &result); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading auth result: %w", err)
	}
	if result.Type != "auth_ok" {
		conn.Close()
		return nil, fmt.Errorf("auth failed: %s", result.Message)
	}

	log.Debug().Msg("authenticated")
	return c, nil
}

// Close shuts the session down.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SendCommand sends one command and waits for its matching result.
// Extra payload fields beyond the type go in payload, which may be nil.
func (c *Client) SendCommand(ctx context.Context, msgType string, payload map[string]interface{}) (json.RawMessage, error) {
	c.msgID++
	msg := map[string]interface{}{"id": c.msgID, "type": msgType}
	for k, v := range payload {
		msg[k] = v
	}
	if err := c.write(ctx, msg); err != nil {
		return nil, fmt.Errorf("sending %s: %w", msgType, err)
	}

	// Skip unrelated messages, e.g. event pushes, until our id shows up.
	for {
		var resp wsMessage
		if err := c.read(ctx, &resp); err != nil {
			return nil, fmt.Errorf("awaiting %s result: %w", msgType, err)
		}
		if resp.ID != c.msgID {
			continue
		}
		if !resp.Success {
			errMsg := "unknown error"
			if resp.Error != nil {
				errMsg = resp.Error.Message
			}
			return nil, fmt.Errorf("%s failed: %s", msgType, errMsg)
		}
		return resp.Result, nil
	}
}

func (c *Client) write(ctx context.Context, v interface{}) error {
	c.setDeadline(ctx)
	return c.conn.WriteJSON(v)
}

func (c *Client) read(ctx context.Context, v *wsMessage) error {
	c.setDeadline(ctx)
	return c.conn.ReadJSON(v)
}

func (c *Client) setDeadline(ctx context.Context) {
	deadline := time.Now().Add(commandTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)
	c.conn.SetWriteDeadline(deadline)
}

func (c *Client) fetchInto(ctx context.Context, msgType string, out interface{}) error {
	raw, err := c.SendCommand(ctx, msgType, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", msgType, err)
	}
	return nil
}

// FetchDevices lists the device registry.
func (c *Client) FetchDevices(ctx context.Context) ([]*models.Device, error) {
	var devices []*models.Device
	err := c.fetchInto(ctx, "config/device_registry/list", &devices)
	return devices, err
}

// FetchEntities lists the entity registry.
func (c *Client) FetchEntities(ctx context.Context) ([]*models.Entity, error) {
	var entities []*models.Entity
	err := c.fetchInto(ctx, "config/entity_registry/list", &entities)
	return entities, err
}

// FetchAreas lists the area registry.
func (c *Client) FetchAreas(ctx context.Context) ([]models.Area, error) {
	var areas []models.Area
	err := c.fetchInto(ctx, "config/area_registry/list", &areas)
	return areas, err
}

// FetchStates returns all live entity states.
func (c *Client) FetchStates(ctx context.Context) ([]models.State, error) {
	var states []models.State
	err := c.fetchInto(ctx, "get_states", &states)
	return states, err
}

// FetchEnergyPrefs returns the current Energy Dashboard configuration.
// A fresh installation has none; that comes back as empty preferences.
func (c *Client) FetchEnergyPrefs(ctx context.Context) (models.EnergyPreferences, error) {
	var prefs models.EnergyPreferences
	raw, err := c.SendCommand(ctx, "energy/get_prefs", nil)
	if err != nil {
		if strings.Contains(err.Error(), "not_found") {
			return prefs, nil
		}
		return prefs, err
	}
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return prefs, fmt.Errorf("decoding energy prefs: %w", err)
	}
	return prefs, nil
}

// SaveEnergyPrefs writes the Energy Dashboard configuration.
func (c *Client) SaveEnergyPrefs(ctx context.Context, prefs models.EnergyPreferences) error {
	sources := prefs.EnergySources
	if sources == nil {
		sources = []models.EnergySource{}
	}
	consumption := prefs.DeviceConsumption
	if consumption == nil {
		consumption = []models.DeviceConsumption{}
	}
	payload := map[string]interface{}{
		"energy_sources":     sources,
		"device_consumption": consumption,
	}
	if len(prefs.DeviceConsumptionWater) > 0 {
		payload["device_consumption_water"] = prefs.DeviceConsumptionWater
	}
	_, err := c.SendCommand(ctx, "energy/save_prefs", payload)
	return err
}

// FetchSnapshot pulls everything the resolver needs in one pass.
func (c *Client) FetchSnapshot(ctx context.Context) (*registry.Snapshot, error) {
	devices, err := c.FetchDevices(ctx)
	if err != nil {
		return nil, err
	}
	entities, err := c.FetchEntities(ctx)
	if err != nil {
		return nil, err
	}
	areas, err := c.FetchAreas(ctx)
	if err != nil {
		return nil, err
	}
	states, err := c.FetchStates(ctx)
	if err != nil {
		return nil, err
	}
	prefs, err := c.FetchEnergyPrefs(ctx)
	if err != nil {
		return nil, err
	}

	snap := &registry.Snapshot{
		Devices:  devices,
		Entities: entities,
		Areas:    areas,
		States:   registry.StateMap(states),
		Prefs:    prefs,
	}
	snap.AttachEntities()
	snap.Enrich()
	return snap, nil
}
