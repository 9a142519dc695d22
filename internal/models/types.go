package models

import (
	"encoding/json"
	"fmt"
)

// Identifier is one (domain, id) pair from a device registry record.
// The registry serializes identifiers as two-element arrays.
type Identifier struct {
	Domain string
	ID     string
}

func (i *Identifier) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decoding identifier: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("identifier has %d elements, expected 2", len(pair))
	}
	i.Domain = pair[0]
	i.ID = pair[1]
	return nil
}

func (i Identifier) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{i.Domain, i.ID})
}

// Entity is an entity registry record. DeviceClass, StateClass and Unit
// are runtime properties; the registry omits them and they are filled in
// from live states afterwards.
type Entity struct {
	EntityID       string `json:"entity_id"`
	UniqueID       string `json:"unique_id"`
	Platform       string `json:"platform"`
	DeviceID       string `json:"device_id,omitempty"`
	DeviceClass    string `json:"device_class,omitempty"`
	StateClass     string `json:"state_class,omitempty"`
	Unit           string `json:"unit_of_measurement,omitempty"`
	Name           string `json:"name,omitempty"`
	OriginalName   string `json:"original_name,omitempty"`
	DisabledBy     string `json:"disabled_by,omitempty"`
	EntityCategory string `json:"entity_category,omitempty"`
}

// DisplayName returns the user override if set, the integration-provided
// name otherwise.
func (e *Entity) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	if e.OriginalName != "" {
		return e.OriginalName
	}
	return e.EntityID
}

// Device is a device registry record with its registered entities attached.
type Device struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	NameByUser  string       `json:"name_by_user,omitempty"`
	Model       string       `json:"model,omitempty"`
	Identifiers []Identifier `json:"identifiers,omitempty"`
	ViaDeviceID string       `json:"via_device_id,omitempty"`
	AreaID      string       `json:"area_id,omitempty"`

	Entities []*Entity `json:"-"`
}

// DisplayName returns the user-assigned name if present.
func (d *Device) DisplayName() string {
	if d.NameByUser != "" {
		return d.NameByUser
	}
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// IdentifierFor returns the identifier value for a domain, if any.
func (d *Device) IdentifierFor(domain string) (string, bool) {
	for _, ident := range d.Identifiers {
		if ident.Domain == domain {
			return ident.ID, true
		}
	}
	return "", false
}

// Area is an area registry record.
type Area struct {
	AreaID string `json:"area_id"`
	Name   string `json:"name"`
}

// State is a live entity state as returned by get_states.
type State struct {
	EntityID   string                 `json:"entity_id"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Attr returns a string attribute value, "" when absent or unusable.
func (s State) Attr(name string) string {
	if s.Attributes == nil {
		return ""
	}
	val, ok := s.Attributes[name]
	if !ok {
		return ""
	}
	str, ok := val.(string)
	if !ok {
		return ""
	}
	switch str {
	case "", "unknown", "unavailable":
		return ""
	}
	return str
}

// Value returns the state value, "" when the entity is unknown or
// unavailable.
func (s State) Value() string {
	switch s.State {
	case "", "unknown", "unavailable":
		return ""
	}
	return s.State
}
