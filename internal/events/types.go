// Package events implements the internal pub/sub bus and the outbound/
// inbound websocket dispatcher that carries readings and commands to and
// from the aggregator.
package events

import "time"

// Type identifies one kind of internal or wire event.
type Type string

// Outbound (gaia → aggregator) event types.
const (
	TypeRegisterEngine      Type = "register_engine"
	TypePing                Type = "ping"
	TypeSensorsData         Type = "sensors_data"
	TypeActuatorData        Type = "actuator_data"
	TypeLightData           Type = "light_data"
	TypeHealthData          Type = "health_data"
	TypeBaseInfo            Type = "base_info"
	TypeManagement          Type = "management"
	TypeEnvironmentalParams Type = "environmental_parameters"
	TypeHardware            Type = "hardware"
	TypeCRUDResult          Type = "crud_result"
	TypeBufferedSensorsData Type = "buffered_sensors_data"
)

// Inbound (aggregator → gaia) event types.
const (
	TypePong             Type = "pong"
	TypeRegister         Type = "register"
	TypeRegistrationAck  Type = "registration_ack"
	TypeInitializedAck   Type = "initialized_ack"
	TypeTurnLight        Type = "turn_light"
	TypeTurnActuator     Type = "turn_actuator"
	TypeChangeManagement Type = "change_management"
	TypeCRUD             Type = "crud"
	TypeBufferedDataAck  Type = "buffered_data_ack"
)

// Event is the envelope every subscriber receives, and the shape
// (de)serialized over the wire: {"type", "data"} matching the
// aggregator's JSON protocol.
type Event struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
	Data      interface{} `json:"data"`
}
