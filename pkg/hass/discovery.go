package hass

import "encoding/json"

// DeviceClass is the Home Assistant device class of an entity.
type DeviceClass int64

const (
	DeviceClassNone DeviceClass = iota
	DeviceClassMonetary
	DeviceClassGas
	DeviceClassTimestamp
)

func (d DeviceClass) String() string {
	switch d {
	case DeviceClassMonetary:
		return "monetary"
	case DeviceClassGas:
		return "gas"
	case DeviceClassTimestamp:
		return "timestamp"
	}
	return ""
}

func (d DeviceClass) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Unit is a unit of measurement.
type Unit string

const (
	UnitRuble       Unit = "RUB"
	UnitCubicMeters Unit = "m³"
)

// Device groups entities in Home Assistant.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// ConfigurationItem is the retained discovery payload of a single entity.
type ConfigurationItem struct {
	DeviceClass         DeviceClass `json:"device_class,omitempty"`
	UnitOfMeasurement   Unit        `json:"unit_of_measurement,omitempty"`
	Device              Device      `json:"device"`
	StateClass          string      `json:"state_class,omitempty"`
	UniqueID            string      `json:"unique_id"`
	ObjectID            string      `json:"object_id,omitempty"`
	Name                string      `json:"name"`
	Icon                string      `json:"icon,omitempty"`
	StateTopic          string      `json:"state_topic,omitempty"`
	ValueTemplate       string      `json:"value_template,omitempty"`
	JSONAttributesTopic string      `json:"json_attributes_topic,omitempty"`
	CommandTopic        string      `json:"command_topic,omitempty"`
	Min                 *float64    `json:"min,omitempty"`
	Max                 *float64    `json:"max,omitempty"`
	Step                float64     `json:"step,omitempty"`
	Mode                string      `json:"mode,omitempty"`
}
