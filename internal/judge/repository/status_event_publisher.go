package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// StatusEventPublisher notifies downstream consumers (leaderboards, activity
// feeds) when a submission reaches a terminal verdict.
type StatusEventPublisher interface {
	PublishFinalStatus(ctx context.Context, submission *model.Submission) error
}

// MQStatusEventPublisher publishes final status events to a message broker.
type MQStatusEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQStatusEventPublisher creates a broker-backed publisher.
func NewMQStatusEventPublisher(producer mq.Producer, topic string) *MQStatusEventPublisher {
	return &MQStatusEventPublisher{producer: producer, topic: topic}
}

// PublishFinalStatus publishes a terminal-verdict event keyed by submission
// id, so replays of the same submission land in the same partition.
func (p *MQStatusEventPublisher) PublishFinalStatus(ctx context.Context, submission *model.Submission) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("status publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("status topic is required")
	}
	if submission == nil || submission.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if !submission.Status.IsTerminal() {
		return appErr.New(appErr.SubmissionNotTerminal).
			WithDetail("status", string(submission.Status))
	}
	event := model.StatusEvent{
		Type:         model.StatusEventFinal,
		SubmissionID: submission.ID,
		UserID:       submission.UserID,
		ChallengeID:  submission.ChallengeID,
		Status:       submission.Status,
		Score:        submission.Score,
		CreatedAt:    time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = submission.ID
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish status event failed")
	}
	return nil
}

var _ StatusEventPublisher = (*MQStatusEventPublisher)(nil)
