package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/collaborator/notify"
	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/repository"
	"github.com/campuskit/attendance-api/pkg/jobs"
)

// Outbound event job types. Everything on this queue is at-least-once and
// must tolerate replay; nothing on it may gate the success of the request
// that produced it. The one summary mutation that must not ride the queue
// is dispute resolution, which the dispute service performs synchronously.
const (
	JobSummaryEvent      = "summary.event"
	JobSummaryReclassify = "summary.reclassify"
	JobProximityCheck    = "fraud.gps_proximity"
	JobAuditAppend       = "audit.append"
	JobNotifySend        = "notify.send"
)

// SummaryEventPayload folds a new session outcome into a student's aggregate.
type SummaryEventPayload struct {
	StudentID string                  `json:"student_id"`
	ClassID   string                  `json:"class_id"`
	Status    models.AttendanceStatus `json:"status"`
}

// SummaryReclassifyPayload moves an already-counted outcome between buckets.
type SummaryReclassifyPayload struct {
	StudentID string                  `json:"student_id"`
	ClassID   string                  `json:"class_id"`
	From      models.AttendanceStatus `json:"from"`
	To        models.AttendanceStatus `json:"to"`
}

// ProximityCheckPayload triggers the advisory GPS clustering heuristic for
// one accepted record.
type ProximityCheckPayload struct {
	SessionID string `json:"session_id"`
	RecordID  string `json:"record_id"`
}

// AuditPayload appends one audit log entry.
type AuditPayload struct {
	ActorID  string                 `json:"actor_id"`
	Action   string                 `json:"action"`
	Entity   string                 `json:"entity"`
	EntityID string                 `json:"entity_id"`
	Detail   map[string]interface{} `json:"detail,omitempty"`
}

// NotifyPayload delivers one push notification.
type NotifyPayload struct {
	RecipientID string `json:"recipient_id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

// EventSink is the outbound side-effect surface the services publish to.
type EventSink interface {
	SummaryEvent(studentID, classID string, status models.AttendanceStatus)
	SummaryReclassify(studentID, classID string, from, to models.AttendanceStatus)
	ProximityCheck(sessionID, recordID string)
	Audit(actorID, action, entity, entityID string, detail map[string]interface{})
	Notify(recipientID, title, body string)
}

// EventPublisher enqueues outbound events. Enqueue failures are logged and
// swallowed; the primary operation has already committed by the time any
// event is published.
type EventPublisher struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewEventPublisher constructs the publisher.
func NewEventPublisher(queue *jobs.Queue, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{queue: queue, logger: logger}
}

func (p *EventPublisher) publish(jobType string, payload interface{}) {
	err := p.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: payload,
	})
	if err != nil {
		p.logger.Warn("failed to enqueue outbound event",
			zap.String("type", jobType), zap.Error(err))
	}
}

// SummaryEvent publishes a new-outcome aggregate update.
func (p *EventPublisher) SummaryEvent(studentID, classID string, status models.AttendanceStatus) {
	p.publish(JobSummaryEvent, SummaryEventPayload{StudentID: studentID, ClassID: classID, Status: status})
}

// SummaryReclassify publishes a bucket move for an existing outcome.
func (p *EventPublisher) SummaryReclassify(studentID, classID string, from, to models.AttendanceStatus) {
	p.publish(JobSummaryReclassify, SummaryReclassifyPayload{StudentID: studentID, ClassID: classID, From: from, To: to})
}

// ProximityCheck publishes an advisory GPS clustering check.
func (p *EventPublisher) ProximityCheck(sessionID, recordID string) {
	p.publish(JobProximityCheck, ProximityCheckPayload{SessionID: sessionID, RecordID: recordID})
}

// Audit publishes an audit log append.
func (p *EventPublisher) Audit(actorID, action, entity, entityID string, detail map[string]interface{}) {
	p.publish(JobAuditAppend, AuditPayload{ActorID: actorID, Action: action, Entity: entity, EntityID: entityID, Detail: detail})
}

// Notify publishes a push notification.
func (p *EventPublisher) Notify(recipientID, title, body string) {
	p.publish(JobNotifySend, NotifyPayload{RecipientID: recipientID, Title: title, Body: body})
}

type auditWriter interface {
	Insert(ctx context.Context, entry *repository.AuditEntry) error
}

// EventDispatcher is the queue handler for outbound events. Returned errors
// feed the queue's retry loop, so handlers for non-idempotent work must only
// fail before their side effect lands.
type EventDispatcher struct {
	summaries *SummaryService
	fraud     *FraudService
	audit     auditWriter
	notifier  notify.Notifier
	logger    *zap.Logger
}

// NewEventDispatcher constructs the dispatcher.
func NewEventDispatcher(summaries *SummaryService, fraud *FraudService, audit auditWriter, notifier notify.Notifier, logger *zap.Logger) *EventDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventDispatcher{summaries: summaries, fraud: fraud, audit: audit, notifier: notifier, logger: logger}
}

// Handle routes one job to its handler.
func (d *EventDispatcher) Handle(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case JobSummaryEvent:
		payload, err := decodePayload[SummaryEventPayload](job.Payload)
		if err != nil {
			return err
		}
		return d.summaries.RecordEvent(ctx, payload.StudentID, payload.ClassID, payload.Status)

	case JobSummaryReclassify:
		payload, err := decodePayload[SummaryReclassifyPayload](job.Payload)
		if err != nil {
			return err
		}
		return d.summaries.Reclassify(ctx, payload.StudentID, payload.ClassID, payload.From, payload.To)

	case JobProximityCheck:
		payload, err := decodePayload[ProximityCheckPayload](job.Payload)
		if err != nil {
			return err
		}
		return d.fraud.CheckProximity(ctx, payload.SessionID, payload.RecordID)

	case JobAuditAppend:
		payload, err := decodePayload[AuditPayload](job.Payload)
		if err != nil {
			return err
		}
		var detail json.RawMessage
		if payload.Detail != nil {
			detail, err = json.Marshal(payload.Detail)
			if err != nil {
				return err
			}
		}
		return d.audit.Insert(ctx, &repository.AuditEntry{
			ActorID:  payload.ActorID,
			Action:   payload.Action,
			Entity:   payload.Entity,
			EntityID: payload.EntityID,
			Detail:   detail,
		})

	case JobNotifySend:
		payload, err := decodePayload[NotifyPayload](job.Payload)
		if err != nil {
			return err
		}
		return d.notifier.Send(ctx, notify.Message{
			RecipientID: payload.RecipientID,
			Title:       payload.Title,
			Body:        payload.Body,
		})

	default:
		d.logger.Warn("unknown outbound event type", zap.String("type", job.Type))
		return nil
	}
}

// decodePayload accepts either the in-process typed payload or, after a
// requeue round-trip, a decoded JSON map.
func decodePayload[T any](payload interface{}) (T, error) {
	var out T
	if typed, ok := payload.(T); ok {
		return typed, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("encode event payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode event payload: %w", err)
	}
	return out, nil
}
