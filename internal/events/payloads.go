package events

import (
	"time"

	"github.com/vaamb/gaia/internal/gaiaconfig"
)

// RegisterEnginePayload announces this engine to the aggregator on
// connect.
type RegisterEnginePayload struct {
	EngineUID    string   `json:"engine_uid"`
	Address      string   `json:"address"`
	EcosystemUID []string `json:"ecosystems"`
}

// SensorRecordPayload is one (sensor, measure, value) sample.
type SensorRecordPayload struct {
	SensorUID string  `json:"sensor_uid"`
	Measure   string  `json:"measure"`
	Value     float64 `json:"value"`
}

// AlarmPayload flags an out-of-range reading.
type AlarmPayload struct {
	Measure string  `json:"measure"`
	Level   string  `json:"level"` // moderate | high | critical
	Delta   float64 `json:"delta"`
}

// SensorsDataPayload is the periodic per-ecosystem sensor snapshot.
type SensorsDataPayload struct {
	EcosystemUID string                `json:"ecosystem_uid"`
	Timestamp    time.Time             `json:"timestamp"`
	Records      []SensorRecordPayload `json:"records"`
	Averages     map[string]float64    `json:"averages"`
	Alarms       []AlarmPayload        `json:"alarms,omitempty"`
}

// ActuatorDataPayload mirrors one Handler's state transition.
type ActuatorDataPayload struct {
	EcosystemUID string  `json:"ecosystem_uid"`
	ActuatorType string  `json:"actuator_type"`
	Status       bool    `json:"status"`
	Level        float64 `json:"level,omitempty"`
	Mode         string  `json:"mode"`
}

// LightDataPayload carries the resolved lighting-hours window.
type LightDataPayload struct {
	EcosystemUID string `json:"ecosystem_uid"`
	MorningStart string `json:"morning_start"`
	MorningEnd   string `json:"morning_end"`
	EveningStart string `json:"evening_start"`
	EveningEnd   string `json:"evening_end"`
	Method       string `json:"method"`
	SpanMethod   string `json:"span_method"`
	Status       bool   `json:"status"`
}

// HealthRecordPayload is one (camera, index) measurement.
type HealthRecordPayload struct {
	EcosystemUID string  `json:"ecosystem_uid"`
	CameraUID    string  `json:"camera_uid"`
	Index        string  `json:"index"` // MPRI | NDRGI | NDVI | VARI
	Value        float64 `json:"value"`
}

// EnvironmentalParamsPayload carries one ecosystem's chaos/nycthemeral/
// climate settings, re-published in full whenever the aggregator
// (re)connects so it doesn't have to wait for incremental updates.
type EnvironmentalParamsPayload struct {
	EcosystemUID string                                        `json:"ecosystem_uid"`
	Chaos        gaiaconfig.ChaosConfig                         `json:"chaos"`
	Nycthemeral  gaiaconfig.NycthemeralCycleConfig              `json:"nycthemeral_cycle"`
	Climate      map[string]gaiaconfig.ClimateParameterConfig   `json:"climate"`
}

// CRUDPayload is an inbound create/update/delete request.
type CRUDPayload struct {
	RequestUID string                 `json:"uuid"`
	Action     string                 `json:"action"` // create | update | delete
	Target     string                 `json:"target"`
	Data       map[string]interface{} `json:"data"`
}

// CRUDResultPayload is the outbound acknowledgement for a CRUDPayload.
type CRUDResultPayload struct {
	RequestUID string `json:"uuid"`
	Status     string `json:"status"` // success | failure
	Message    string `json:"message,omitempty"`
}

// TurnActuatorPayload is the inbound manual-override command.
type TurnActuatorPayload struct {
	EcosystemUID string  `json:"ecosystem_uid"`
	ActuatorType string  `json:"actuator_type"`
	Mode         string  `json:"mode"` // automatic | on | off
	Countdown    float64 `json:"countdown,omitempty"`
}

// ChangeManagementPayload flips one management bit at runtime.
type ChangeManagementPayload struct {
	EcosystemUID string `json:"ecosystem_uid"`
	Management   string `json:"management"`
	Value        bool   `json:"value"`
}

// BufferedDataAckPayload acknowledges receipt of buffered rows so the
// local buffer can drop them.
type BufferedDataAckPayload struct {
	UUIDs []string `json:"uuids"`
}
