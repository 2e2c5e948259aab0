package main

import (
	"encoding/json"
	"fmt"

	"civic-complaint-system/pkg/queue"
	"civic-complaint-system/services/complaint-service/models"
)

// Dispatch is where one complaint event is forwarded.
type Dispatch struct {
	ComplaintID string
	Department  string
	Kind        string
	Urgent      bool
}

// route decides which department an event belongs to. Final-level
// escalations leave the owning department and go to the central authority.
func route(routingKey string, ev models.ComplaintEvent) (Dispatch, error) {
	d := Dispatch{ComplaintID: ev.ID, Department: ev.Department}
	if d.Department == "" {
		d.Department = models.DepartmentFor(ev.Category)
	}

	switch routingKey {
	case queue.RoutingKeyCreated:
		d.Kind = "new_complaint"
		d.Urgent = ev.Severity == "critical" || ev.Severity == "high"
	case queue.RoutingKeyEscalated:
		d.Kind = "escalation"
		d.Urgent = true
		switch {
		case ev.Status == models.StatusResolved:
			d.Kind = "auto_closed"
			d.Urgent = false
		case ev.EscalationLevel >= models.MaxEscalationLevel:
			d.Department = models.DepartmentCentral
		}
	case queue.RoutingKeyStatusUpdated:
		d.Kind = "status_" + string(ev.Status)
	default:
		return Dispatch{}, fmt.Errorf("unexpected routing key %q", routingKey)
	}
	return d, nil
}

func decode(body []byte) (models.ComplaintEvent, error) {
	var ev models.ComplaintEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("error parsing event: %w", err)
	}
	if ev.ID == "" {
		return ev, fmt.Errorf("event without complaint id")
	}
	return ev, nil
}
