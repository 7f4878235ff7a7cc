package services

import (
	"context"
	"time"

	"tempvoice/internal/core/domain"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.RoomEvent) error { return nil }

type nopMetrics struct{}

func (nopMetrics) RoomCreated()                                 {}
func (nopMetrics) RoomDeleted(string)                           {}
func (nopMetrics) OwnerChanged(string)                          {}
func (nopMetrics) ActionPerformed(string, string)               {}
func (nopMetrics) EventRouted(string)                           {}
func (nopMetrics) ReconcilerRepair(string)                      {}
func (nopMetrics) PlatformCommand(string, time.Duration, error) {}
func (nopMetrics) SetRoomsActive(int)                           {}

type nopAnomalies struct{}

func (nopAnomalies) Trigger(domain.ChannelID) {}
