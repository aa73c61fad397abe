package models

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("contracts_backend/models")

var (
	clockMu sync.RWMutex
	clock   = func() time.Time { return time.Now().UTC() }
)

// SetClock replaces the time source and returns a func restoring the previous one.
func SetClock(fn func() time.Time) (restore func()) {
	clockMu.Lock()
	prev := clock
	clock = fn
	clockMu.Unlock()
	return func() {
		clockMu.Lock()
		clock = prev
		clockMu.Unlock()
	}
}

func currentTime() time.Time {
	clockMu.RLock()
	defer clockMu.RUnlock()
	return clock().UTC()
}

const systemActor = 0

// mutation is handed to an operation running under the contract lock.
type mutation struct {
	ctx      context.Context
	tx       *gorm.DB
	now      time.Time
	policy   config.ContractPolicy
	actorID  int
	contract *Contract
	job      *Job
	skipSave bool
	events   []pendingEvent
	commands int
	log      []logrus.Fields
}

// Job locks and returns the contract's job, once per mutation.
func (m *mutation) Job() (*Job, error) {
	if m.job != nil {
		return m.job, nil
	}
	j, err := lockJob(m.tx, m.contract.JobID)
	if err != nil {
		return nil, err
	}
	m.job = j
	return j, nil
}

type pendingEvent struct {
	action     NotificationAction
	data       map[string]any
	recipients []int
}

// notify queues an event for both parties. Events are written after the contract
// is saved so they carry the committed snapshot.
func (m *mutation) notify(action NotificationAction, data map[string]any) {
	m.notifyTo(action, data, m.contract.ClientID, m.contract.DoerID)
}

func (m *mutation) notifyTo(action NotificationAction, data map[string]any, recipients ...int) {
	m.events = append(m.events, pendingEvent{action: action, data: data, recipients: recipients})
}

func (m *mutation) flushEvents() error {
	c := m.contract
	for _, ev := range m.events {
		snapshot := *c
		if err := enqueueNotification(m.ctx, m.tx, NotificationEvent{
			Action:     ev.action,
			ContractID: c.ID,
			ClientID:   c.ClientID,
			DoerID:     c.DoerID,
			ActorID:    m.actorID,
			Contract:   &snapshot,
			Data:       ev.data,
			OccurredAt: m.now,
		}, ev.recipients...); err != nil {
			return err
		}
	}
	return nil
}

func (m *mutation) transition(to ContractStatus) {
	m.log = append(m.log, logrus.Fields{"from": m.contract.Status, "to": to})
	m.contract.Status = to
}

// withContractLock serializes one operation on a contract. The advisory redis lock
// is best effort; the row lock and the version check are what guarantee isolation.
func withContractLock(ctx context.Context, contractID, actorID int, op string, fn func(m *mutation) error) (*Contract, error) {
	ctx, span := tracer.Start(ctx, "contract."+op, trace.WithAttributes(
		attribute.Int("contract.id", contractID),
		attribute.Int("actor.id", actorID),
	))
	defer span.End()

	logger := config.GetLogger()
	release := obtainAdvisoryLock(ctx, logger, contractID)
	defer release()

	var m *mutation
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if actorID != systemActor && !c.IsParticipant(actorID) {
			return ErrNotParticipant
		}
		m = &mutation{
			ctx:      ctx,
			tx:       tx,
			now:      currentTime(),
			policy:   config.GetPolicy(),
			actorID:  actorID,
			contract: c,
		}
		if err := fn(m); err != nil {
			return err
		}
		if !m.skipSave {
			if err := saveContract(tx, c); err != nil {
				return err
			}
		}
		return m.flushEvents()
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if _, ok := AsContractError(err); !ok {
			config.LogError(logger, "lock.go", "withContractLock", op, map[string]int{"contract_id": contractID, "actor_id": actorID}, err)
		}
		return nil, err
	}

	for _, f := range m.log {
		f["contract_id"] = contractID
		f["actor_id"] = actorID
		f["action"] = op
		logger.WithFields(f).Info("contract transition")
	}
	if len(m.events)+m.commands > 0 {
		notifyOutbox()
	}
	return m.contract, nil
}

func obtainAdvisoryLock(ctx context.Context, logger *logrus.Logger, contractID int) func() {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}
	}
	key := fmt.Sprintf("lock:contract:%d", contractID)
	lock, err := locker.Obtain(ctx, key, 10*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	})
	if err != nil {
		fields := logrus.Fields{"field": "withContractLock", "contract_id": contractID}
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.WithFields(fields).Warn("could not obtain redis lock; relying on row lock")
		} else {
			logger.WithFields(fields).Warn("error obtaining redis lock; relying on row lock: " + err.Error())
		}
		return func() {}
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logger.WithFields(logrus.Fields{"field": "withContractLock", "contract_id": contractID}).
				Warn("failed to release redis lock: " + err.Error())
		}
	}
}

func (m *mutation) refund(cmd RefundCommand) error {
	m.commands++
	return enqueueRefund(m.ctx, m.tx, m.actorID, cmd)
}
