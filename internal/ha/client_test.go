package ha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electrification-bus/hass-atlas/internal/models"
)

type fakeHA struct {
	token   string
	results map[string]interface{}
	saved   map[string]json.RawMessage
}

func (f *fakeHA) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth_required", "ha_version": "2024.6.0"}))

		var auth map[string]string
		require.NoError(t, conn.ReadJSON(&auth))
		if auth["access_token"] != f.token {
			conn.WriteJSON(map[string]string{"type": "auth_invalid", "message": "Invalid access token"})
			return
		}
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth_ok"}))

		for {
			var msg map[string]json.RawMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			var id int
			var msgType string
			json.Unmarshal(msg["id"], &id)
			json.Unmarshal(msg["type"], &msgType)

			if msgType == "energy/save_prefs" {
				f.saved = msg
				conn.WriteJSON(map[string]interface{}{"id": id, "type": "result", "success": true, "result": nil})
				continue
			}

			result, ok := f.results[msgType]
			if !ok {
				conn.WriteJSON(map[string]interface{}{
					"id": id, "type": "result", "success": false,
					"error": map[string]string{"code": "unknown_command", "message": "Unknown command."},
				})
				continue
			}
			// An unrelated event push before the result must be skipped
			// by the client.
			conn.WriteJSON(map[string]interface{}{"id": 999, "type": "event"})
			conn.WriteJSON(map[string]interface{}{"id": id, "type": "result", "success": true, "result": result})
		}
	}
}

func startFake(t *testing.T, f *fakeHA) string {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://ha.local:8123/api/websocket", WebsocketURL("http://ha.local:8123"))
	assert.Equal(t, "wss://ha.example.com/api/websocket", WebsocketURL("https://ha.example.com/"))
}

func TestConnectAndFetch(t *testing.T) {
	fake := &fakeHA{
		token: "secret",
		results: map[string]interface{}{
			"config/device_registry/list": []map[string]interface{}{
				{"id": "dev-1", "name": "Main Panel", "identifiers": [][]string{{"span_ebus", "nt-2143-c1akc"}}},
			},
			"config/entity_registry/list": []map[string]interface{}{
				{"entity_id": "sensor.main_lugs_imported", "unique_id": "u1", "platform": "span_ebus", "device_id": "dev-1"},
			},
			"config/area_registry/list": []map[string]interface{}{
				{"area_id": "a1", "name": "Garage"},
			},
			"get_states": []map[string]interface{}{
				{"entity_id": "sensor.main_lugs_imported", "state": "12.5", "attributes": map[string]string{"device_class": "energy"}},
			},
			"energy/get_prefs": map[string]interface{}{
				"energy_sources":     []interface{}{},
				"device_consumption": []interface{}{},
			},
		},
	}
	url := startFake(t, fake)

	client, err := Connect(context.Background(), url, "secret", zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	snap, err := client.FetchSnapshot(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Devices, 1)
	assert.Equal(t, "nt-2143-c1akc", snap.Devices[0].Identifiers[0].ID)
	require.Len(t, snap.Devices[0].Entities, 1, "entities are attached to their device")

	require.Len(t, snap.Entities, 1)
	assert.Equal(t, "energy", snap.Entities[0].DeviceClass, "classes are enriched from states")

	require.Len(t, snap.Areas, 1)
	require.Contains(t, snap.States, "sensor.main_lugs_imported")
	assert.Equal(t, "12.5", snap.States["sensor.main_lugs_imported"].State)
}

func TestConnectBadToken(t *testing.T) {
	url := startFake(t, &fakeHA{token: "secret"})

	_, err := Connect(context.Background(), url, "wrong", zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth failed")
}

func TestSendCommandError(t *testing.T) {
	url := startFake(t, &fakeHA{token: "secret", results: map[string]interface{}{}})

	client, err := Connect(context.Background(), url, "secret", zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.SendCommand(context.Background(), "no/such/command", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown command")
}

func TestSaveEnergyPrefs(t *testing.T) {
	fake := &fakeHA{token: "secret", results: map[string]interface{}{}}
	url := startFake(t, fake)

	client, err := Connect(context.Background(), url, "secret", zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	prefs := models.EnergyPreferences{
		EnergySources: []models.EnergySource{
			{Type: "grid", FlowFrom: []models.GridFlow{{StatEnergyFrom: "sensor.main_lugs_imported"}}},
		},
	}
	require.NoError(t, client.SaveEnergyPrefs(context.Background(), prefs))

	require.NotNil(t, fake.saved)
	var sources []map[string]interface{}
	require.NoError(t, json.Unmarshal(fake.saved["energy_sources"], &sources))
	require.Len(t, sources, 1)
	assert.Equal(t, "grid", sources[0]["type"])

	var consumption []map[string]interface{}
	require.NoError(t, json.Unmarshal(fake.saved["device_consumption"], &consumption))
	assert.Len(t, consumption, 0, "nil slice is sent as an empty list")
}
