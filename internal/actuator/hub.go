package actuator

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/vaamb/gaia/internal/gaiaconfig"
)

// Hub is the ecosystem-scoped registry of Handlers, one per hardware type
// in use. Subroutines fetch (and implicitly create) the handler for the
// actuator type they drive.
type Hub struct {
	ecosystemUID string
	log          zerolog.Logger
	onChange     func(StateChange)

	mu       sync.Mutex
	handlers map[gaiaconfig.HardwareType]*Handler
}

// NewHub builds an empty Hub for one ecosystem.
func NewHub(ecosystemUID string, log zerolog.Logger, onChange func(StateChange)) *Hub {
	return &Hub{
		ecosystemUID: ecosystemUID,
		log:          log,
		onChange:     onChange,
		handlers:     make(map[gaiaconfig.HardwareType]*Handler),
	}
}

// Get returns the Handler for actuatorType, creating it on first use.
func (hub *Hub) Get(actuatorType gaiaconfig.HardwareType) *Handler {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	h, ok := hub.handlers[actuatorType]
	if !ok {
		h = NewHandler(hub.ecosystemUID, actuatorType, hub.log, hub.onChange)
		hub.handlers[actuatorType] = h
	}
	return h
}

// Types returns the actuator types that currently have a handler.
func (hub *Hub) Types() []gaiaconfig.HardwareType {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	out := make([]gaiaconfig.HardwareType, 0, len(hub.handlers))
	for t := range hub.handlers {
		out = append(out, t)
	}
	return out
}
