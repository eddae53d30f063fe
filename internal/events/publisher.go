// Package events publishes alert lifecycle events to downstream consumers.
package events

import (
	"context"
	"errors"

	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/models"
	"FleetRiskAPI/internal/websocket"
)

// Publisher receives a callback whenever an alert is resolved. The MQTT
// client implements it directly.
type Publisher interface {
	PublishResolved(ctx context.Context, evt models.AlertResolvedEvent) error
}

type broadcaster interface {
	Broadcast(msgType string, payload interface{})
}

// HubPublisher pushes resolved events to every dashboard session.
type HubPublisher struct {
	hub broadcaster
}

func NewHubPublisher(hub broadcaster) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) PublishResolved(ctx context.Context, evt models.AlertResolvedEvent) error {
	p.hub.Broadcast(websocket.TypeAlertResolved, evt)
	return nil
}

// Fanout publishes to every sink and logs, rather than stops at, failures.
type Fanout struct {
	sinks []Publisher
	log   *logger.Logger
}

func NewFanout(log *logger.Logger, sinks ...Publisher) *Fanout {
	var kept []Publisher
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{sinks: kept, log: log}
}

func (f *Fanout) PublishResolved(ctx context.Context, evt models.AlertResolvedEvent) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.PublishResolved(ctx, evt); err != nil {
			f.log.Warn("Failed to publish resolved event for alert %s: %v", evt.AlertID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
