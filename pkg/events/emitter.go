package events

// Emitter is the write side handed to the session, hunt, and AI layers.
// It hides the bus so callers emit typed payloads without touching queue
// mechanics.
type Emitter struct {
	bus *Bus
}

// NewEmitter wraps a bus.
func NewEmitter(bus *Bus) *Emitter {
	return &Emitter{bus: bus}
}

// Emit publishes an event scoped to a session room.
func (e *Emitter) Emit(eventType, sessionID string, payload any) {
	e.bus.Publish(New(eventType, sessionID, payload))
}

// EmitGlobal publishes an event delivered to every connected client.
func (e *Emitter) EmitGlobal(eventType string, payload any) {
	e.bus.Publish(New(eventType, "", payload))
}

// EmitError publishes a system.error event scoped to a session.
func (e *Emitter) EmitError(sessionID, component, severity string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e.bus.Publish(New(TypeSystemError, sessionID, SystemErrorPayload{
		Component: component,
		Error:     msg,
		Severity:  severity,
	}))
}
