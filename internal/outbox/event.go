package outbox

import (
	"encoding/json"
	"time"
)

// Topic names double as event types; one event kind per topic.
const (
	TopicAppointmentBooked      = "booking.appointment.booked.v1"
	TopicAppointmentConfirmed   = "booking.appointment.confirmed.v1"
	TopicAppointmentStarted     = "booking.appointment.started.v1"
	TopicAppointmentCancelled   = "booking.appointment.cancelled.v1"
	TopicAppointmentRescheduled = "booking.appointment.rescheduled.v1"
	TopicAppointmentCompleted   = "booking.appointment.completed.v1"
	TopicAppointmentNoShow      = "booking.appointment.no_show.v1"
	TopicReminderDue            = "booking.reminder.due.v1"
)

// Event is the domain event envelope written to the outbox table in the same
// transaction as the state change it describes. The Kafka topic name equals
// EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// AppointmentPayload is the wire body for every appointment event.
type AppointmentPayload struct {
	AppointmentID  string     `json:"appointment_id"`
	BusinessID     string     `json:"business_id"`
	ProfessionalID string     `json:"professional_id"`
	ClientID       string     `json:"client_id"`
	ServiceID      string     `json:"service_id"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	Status         string     `json:"status"`
	FeePercent     int        `json:"fee_percent,omitempty"`
	PrevStartTime  *time.Time `json:"prev_start_time,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// AppointmentEvent builds the envelope for one appointment state change.
func AppointmentEvent(eventType string, p AppointmentPayload) (Event, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "appointment",
		AggregateID:   p.AppointmentID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
