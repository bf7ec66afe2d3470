package debugger

import (
	"github.com/theanh97/nexus-nuance-sub001/internal/bus"
)

// Event types the debugger listens for.
const (
	EventActionExecuted = "action_executed"
	EventErrorOccurred  = "error_occurred"
)

// BindBus subscribes the debugger to the action and error streams so every
// emitter in the process feeds the anomaly checks without holding a
// reference to the debugger.
func (d *Debugger) BindBus(b *bus.Bus) {
	if b == nil {
		return
	}
	b.Subscribe(EventActionExecuted, func(ev bus.Event) error {
		agent := stringField(ev.Data, "agent", "executor")
		actionType := stringField(ev.Data, "type", "unknown")
		status := stringField(ev.Data, "status", "")
		d.LogAction(agent, actionType, stringField(ev.Data, "id", ""), int64Field(ev.Data, "duration_ms"), status == "success")
		return nil
	})
	b.Subscribe(EventErrorOccurred, func(ev bus.Event) error {
		d.LogError(
			stringField(ev.Data, "agent", "unknown"),
			stringField(ev.Data, "error_type", "runtime"),
			stringField(ev.Data, "message", ""))
		return nil
	})
}

func stringField(data map[string]any, key, fallback string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func int64Field(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
