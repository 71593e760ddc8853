// Package listener consumes the inbound event topic and turns each message
// into a River job.
//
// Messages arrive wrapped in an SNS-style envelope. The envelope's
// eventType attribute selects the payload shape; payloads are decoded into
// the typed domain events the correlation engine understands.
//
// Import Path: dpsrecon.io/reconciliation/internal/listener
package listener

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"dpsrecon.io/reconciliation/internal/domain"
)

// NotificationType is the only envelope type that carries an event.
const NotificationType = "Notification"

var (
	// ErrNotNotification marks an envelope that is not an event notification.
	ErrNotNotification = errors.New("envelope is not a notification")
	// ErrUnknownEventType marks a notification with no handler.
	ErrUnknownEventType = errors.New("unknown event type")
)

// Envelope is the SNS notification wrapper.
type Envelope struct {
	Type              string            `json:"Type"`
	Message           string            `json:"Message"`
	MessageID         string            `json:"MessageId,omitempty"`
	MessageAttributes MessageAttributes `json:"MessageAttributes"`
}

// MessageAttributes holds the envelope attributes.
type MessageAttributes struct {
	EventType *Attribute `json:"eventType,omitempty"`
}

// Attribute is a typed SNS message attribute.
type Attribute struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// EventType returns the eventType attribute or "".
func (e Envelope) EventType() string {
	if e.MessageAttributes.EventType == nil {
		return ""
	}
	return e.MessageAttributes.EventType.Value
}

type movementPayload struct {
	BookingID          int64  `json:"bookingId"`
	OffenderIDDisplay  string `json:"offenderIdDisplay"`
	MovementSeq        int    `json:"movementSeq"`
	MovementType       string `json:"movementType"`
	DirectionCode      string `json:"directionCode"`
	MovementReasonCode string `json:"movementReasonCode"`
	MovementDateTime   string `json:"movementDateTime"`
	EventDatetime      string `json:"eventDatetime"`
}

type bookingChangedPayload struct {
	BookingID                 int64  `json:"bookingId"`
	OffenderID                int64  `json:"offenderId"`
	OffenderIDDisplay         string `json:"offenderIdDisplay"`
	PreviousOffenderIDDisplay string `json:"previousOffenderIdDisplay"`
	EventDatetime             string `json:"eventDatetime"`
	Type                      string `json:"type"`
}

type prisonerPayload struct {
	OccurredAt            string `json:"occurredAt"`
	AdditionalInformation struct {
		NomsNumber string `json:"nomsNumber"`
		Reason     string `json:"reason"`
		PrisonID   string `json:"prisonId"`
	} `json:"additionalInformation"`
}

type patientRemovedPayload struct {
	OccurredAt            string `json:"occurredAt"`
	AdditionalInformation struct {
		PrisonerNumber string `json:"prisonerNumber"`
	} `json:"additionalInformation"`
}

// Decoder turns envelopes into typed events. Zone-less datetimes are read
// in loc.
type Decoder struct {
	loc *time.Location
}

// NewDecoder creates a Decoder. A nil loc means UTC.
func NewDecoder(loc *time.Location) *Decoder {
	if loc == nil {
		loc = time.UTC
	}
	return &Decoder{loc: loc}
}

// Decode parses raw envelope bytes. It returns ErrNotNotification or
// ErrUnknownEventType for messages that should be acknowledged and dropped;
// any other error means the message is malformed.
func (d *Decoder) Decode(raw []byte) (domain.InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type != NotificationType {
		return nil, fmt.Errorf("%w: type %q", ErrNotNotification, env.Type)
	}

	eventType := env.EventType()
	body := []byte(env.Message)
	switch eventType {
	case domain.EventTypeMovementInserted:
		return d.movement(body)
	case domain.EventTypeBookingChanged:
		return d.bookingChanged(body)
	case domain.EventTypePrisonerReceived:
		return d.received(body)
	case domain.EventTypePrisonerReleased:
		return d.released(body)
	case domain.EventTypePatientRemoved:
		return d.patientRemoved(body)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
}

func (d *Decoder) movement(body []byte) (domain.InboundEvent, error) {
	var p movementPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", domain.EventTypeMovementInserted, err)
	}
	if p.OffenderIDDisplay == "" {
		return nil, fmt.Errorf("decode %s: missing offenderIdDisplay", domain.EventTypeMovementInserted)
	}
	notified, err := d.optionalTime(p.EventDatetime)
	if err != nil {
		return nil, err
	}
	moved := notified
	if p.MovementDateTime != "" {
		if moved, err = domain.ParseLocalTime(p.MovementDateTime, d.loc); err != nil {
			return nil, err
		}
	}
	return domain.MovementEvent{
		BookingID:     p.BookingID,
		SubjectID:     p.OffenderIDDisplay,
		MovementSeq:   p.MovementSeq,
		MovementType:  p.MovementType,
		DirectionCode: p.DirectionCode,
		ReasonCode:    p.MovementReasonCode,
		MovementTime:  moved,
		NotifiedAt:    notified,
	}, nil
}

func (d *Decoder) bookingChanged(body []byte) (domain.InboundEvent, error) {
	var p bookingChangedPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", domain.EventTypeBookingChanged, err)
	}
	if p.OffenderIDDisplay == "" {
		return nil, fmt.Errorf("decode %s: missing offenderIdDisplay", domain.EventTypeBookingChanged)
	}
	mergedAt, err := d.optionalTime(p.EventDatetime)
	if err != nil {
		return nil, err
	}
	return domain.MergeEvent{
		BookingID:         p.BookingID,
		SubjectID:         p.OffenderIDDisplay,
		PreviousSubjectID: p.PreviousOffenderIDDisplay,
		MergedAt:          mergedAt,
		Type:              p.Type,
	}, nil
}

func (d *Decoder) received(body []byte) (domain.InboundEvent, error) {
	p, occurredAt, err := d.prisoner(domain.EventTypePrisonerReceived, body)
	if err != nil {
		return nil, err
	}
	reason, err := domain.ParseReceiveReason(p.AdditionalInformation.Reason)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", domain.EventTypePrisonerReceived, err)
	}
	return domain.PrisonerReceivedEvent{
		SubjectID:  p.AdditionalInformation.NomsNumber,
		OccurredAt: occurredAt,
		Reason:     reason,
		PrisonID:   p.AdditionalInformation.PrisonID,
	}, nil
}

func (d *Decoder) released(body []byte) (domain.InboundEvent, error) {
	p, occurredAt, err := d.prisoner(domain.EventTypePrisonerReleased, body)
	if err != nil {
		return nil, err
	}
	reason, err := domain.ParseReleaseReason(p.AdditionalInformation.Reason)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", domain.EventTypePrisonerReleased, err)
	}
	return domain.PrisonerReleasedEvent{
		SubjectID:  p.AdditionalInformation.NomsNumber,
		OccurredAt: occurredAt,
		Reason:     reason,
		PrisonID:   p.AdditionalInformation.PrisonID,
	}, nil
}

func (d *Decoder) prisoner(eventType string, body []byte) (prisonerPayload, time.Time, error) {
	var p prisonerPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return p, time.Time{}, fmt.Errorf("decode %s: %w", eventType, err)
	}
	if p.AdditionalInformation.NomsNumber == "" {
		return p, time.Time{}, fmt.Errorf("decode %s: missing nomsNumber", eventType)
	}
	occurredAt, err := domain.ParseLocalTime(p.OccurredAt, d.loc)
	if err != nil {
		return p, time.Time{}, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return p, occurredAt, nil
}

func (d *Decoder) patientRemoved(body []byte) (domain.InboundEvent, error) {
	var p patientRemovedPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", domain.EventTypePatientRemoved, err)
	}
	if p.AdditionalInformation.PrisonerNumber == "" {
		return nil, fmt.Errorf("decode %s: missing prisonerNumber", domain.EventTypePatientRemoved)
	}
	occurredAt, err := domain.ParseLocalTime(p.OccurredAt, d.loc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", domain.EventTypePatientRemoved, err)
	}
	return domain.PatientRemovedEvent{
		SubjectID:  p.AdditionalInformation.PrisonerNumber,
		OccurredAt: occurredAt,
	}, nil
}

func (d *Decoder) optionalTime(s string) (time.Time, error) {
	t, err := domain.ParseOptionalLocalTime(s, d.loc)
	if err != nil || t == nil {
		return time.Time{}, err
	}
	return *t, nil
}
