/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package alerts arms cron schedules for stored alert rules and fires
// them against the playback coordinator. Rules live in storage; the
// scheduler reloads on rule change events and never persists anything
// itself.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/events"
	"github.com/friendsincode/bragi/internal/models"
)

// fireTimeout bounds one zone trigger; a stuck zone must not hold the
// cron goroutine across the next fire.
const fireTimeout = 30 * time.Second

// RuleSource lists the rules to arm. Implemented by internal/storage.
type RuleSource interface {
	ListEnabledAlertRules(ctx context.Context) ([]models.AlertRule, error)
}

// Trigger fires one alert on one zone. Implemented by the playback
// coordinator.
type Trigger interface {
	TriggerAlert(ctx context.Context, zoneID int, sound string, volume int) error
}

// cronParser accepts the standard five-field spec plus descriptors
// ("@daily"); seconds-resolution schedules are not supported.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCronExpr reports whether expr is a schedule the scheduler can
// arm. The admin API calls this before a rule is saved.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("cron expression %q: %w", expr, err)
	}
	return nil
}

// Scheduler keeps one cron instance armed with the enabled rules.
type Scheduler struct {
	rules   RuleSource
	trigger Trigger
	bus     *events.Bus
	logger  zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduler wires the scheduler; nothing runs until Run.
func NewScheduler(rules RuleSource, trigger Trigger, bus *events.Bus, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		rules:   rules,
		trigger: trigger,
		bus:     bus,
		logger:  logger.With().Str("component", "alerts").Logger(),
	}
}

// Run loads the rules, starts the cron loop and reloads whenever a rule
// is created or deleted. Blocks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.reload(ctx); err != nil {
		return err
	}

	created := s.bus.Subscribe(events.EventAuditAlertCreate)
	deleted := s.bus.Subscribe(events.EventAuditAlertDelete)
	defer s.bus.Unsubscribe(events.EventAuditAlertCreate, created)
	defer s.bus.Unsubscribe(events.EventAuditAlertDelete, deleted)

	for {
		select {
		case <-ctx.Done():
			s.stop()
			return nil
		case <-created:
		case <-deleted:
		}
		if err := s.reload(ctx); err != nil {
			s.logger.Error().Err(err).Msg("alert rule reload failed, keeping previous schedule")
		}
	}
}

// reload swaps the armed cron for one built from the current rules. A
// rule with a bad expression is skipped, never fatal: one broken rule
// must not take the rest of the schedule down.
func (s *Scheduler) reload(ctx context.Context) error {
	rules, err := s.rules.ListEnabledAlertRules(ctx)
	if err != nil {
		return fmt.Errorf("load alert rules: %w", err)
	}

	next := cron.New(cron.WithParser(cronParser))
	armed := 0
	for _, rule := range rules {
		rule := rule
		_, err := next.AddFunc(rule.CronExpr, func() { s.fire(rule) })
		if err != nil {
			s.logger.Error().Err(err).Str("rule", rule.Name).Str("expr", rule.CronExpr).Msg("alert rule not armed")
			continue
		}
		armed++
	}

	s.mu.Lock()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron = next
	s.mu.Unlock()
	next.Start()
	s.logger.Info().Int("armed", armed).Int("rules", len(rules)).Msg("alert schedule loaded")
	return nil
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

// armed returns the number of scheduled entries; test hook.
func (s *Scheduler) armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}

// fire triggers the rule on each of its zones. Zones fail
// independently; a dead zone must not silence the others.
func (s *Scheduler) fire(rule models.AlertRule) {
	s.logger.Info().Str("rule", rule.Name).Ints("zones", rule.Zones).Msg("alert fired")
	for _, zoneID := range rule.Zones {
		ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
		if err := s.trigger.TriggerAlert(ctx, zoneID, rule.Sound, rule.Volume); err != nil {
			s.logger.Error().Err(err).Str("rule", rule.Name).Int("zone", zoneID).Msg("alert trigger failed")
		}
		cancel()
	}
}
