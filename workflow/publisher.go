package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/models"
	"github.com/redis/rueidis"
	"github.com/sirupsen/logrus"
)

// Notification is one outbox row on its way to the notification dispatcher.
type Notification struct {
	OutboxID      int
	Action        string
	ContractID    int
	RecipientIDs  []int
	CorrelationId string
	Body          []byte
}

func notificationFromOutbox(rec models.OutboxMessage) Notification {
	return Notification{
		OutboxID:      rec.ID,
		Action:        rec.Action,
		ContractID:    rec.ContractID,
		RecipientIDs:  rec.RecipientIDs,
		CorrelationId: rec.CorrelationId,
		Body:          rec.Payload,
	}
}

func (n Notification) attributes() map[string]string {
	return map[string]string{
		"action":         n.Action,
		"contract_id":    strconv.Itoa(n.ContractID),
		"outbox_id":      strconv.Itoa(n.OutboxID),
		"correlation_id": n.CorrelationId,
	}
}

// Publisher delivers a notification and returns a delivery id.
type Publisher interface {
	Publish(ctx context.Context, n Notification) (string, error)
}

// PubSubPublisher publishes to NOTIFICATIONS_TOPIC.
type PubSubPublisher struct{}

func (PubSubPublisher) Publish(ctx context.Context, n Notification) (string, error) {
	return config.PublishNotificationWithResult(ctx, n.attributes(), json.RawMessage(n.Body))
}

// SocketPublisher fans a notification out to each recipient's socket channel.
type SocketPublisher struct {
	Client rueidis.Client
}

func SocketChannel(userID int) string {
	return fmt.Sprintf("contracts:user:%d", userID)
}

func (p SocketPublisher) Publish(ctx context.Context, n Notification) (string, error) {
	if p.Client == nil {
		return "", errors.New("socket bus is not connected")
	}
	for _, id := range n.RecipientIDs {
		cmd := p.Client.B().Publish().Channel(SocketChannel(id)).Message(string(n.Body)).Build()
		if err := p.Client.Do(ctx, cmd).Error(); err != nil {
			return "", fmt.Errorf("publish to user %d: %w", id, err)
		}
	}
	return fmt.Sprintf("socket:%d", n.OutboxID), nil
}

// LogPublisher writes notifications to the log. Used when nothing else is configured.
type LogPublisher struct {
	Logger *logrus.Logger
}

func (p LogPublisher) Publish(ctx context.Context, n Notification) (string, error) {
	logger := p.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	logger.WithFields(logrus.Fields{
		"field":          "Notification",
		"action":         n.Action,
		"contract_id":    n.ContractID,
		"recipient_ids":  n.RecipientIDs,
		"correlation_id": n.CorrelationId,
	}).Info("contract notification")
	return fmt.Sprintf("log:%d", n.OutboxID), nil
}

// MultiPublisher delivers to every publisher. The first delivery id wins and
// any failure fails the whole delivery so the outbox retries it.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, n Notification) (string, error) {
	var (
		id   string
		errs []error
	)
	for _, p := range m {
		got, err := p.Publish(ctx, n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if id == "" {
			id = got
		}
	}
	return id, errors.Join(errs...)
}

// NewPublisherFromConfig picks publishers from the connected infrastructure.
func NewPublisherFromConfig(logger *logrus.Logger) Publisher {
	var pubs MultiPublisher
	if config.PubSubConfigured() {
		pubs = append(pubs, PubSubPublisher{})
	}
	if bus := config.GetSocketBus(); bus != nil {
		pubs = append(pubs, SocketPublisher{Client: bus})
	}
	switch len(pubs) {
	case 0:
		return LogPublisher{Logger: logger}
	case 1:
		return pubs[0]
	}
	return pubs
}
