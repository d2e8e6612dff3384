/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/bragi/internal/events"
	"github.com/friendsincode/bragi/internal/models"
)

// ListAlertRules returns all alert rules ordered by name.
func (s *Service) ListAlertRules(ctx context.Context) ([]models.AlertRule, error) {
	var rules []models.AlertRule
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	return rules, nil
}

// ListEnabledAlertRules returns only the rules the scheduler should arm.
func (s *Service) ListEnabledAlertRules(ctx context.Context) ([]models.AlertRule, error) {
	var rules []models.AlertRule
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("name ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("list enabled alert rules: %w", err)
	}
	return rules, nil
}

// GetAlertRule finds one rule by id.
func (s *Service) GetAlertRule(ctx context.Context, id string) (models.AlertRule, error) {
	var rule models.AlertRule
	if err := s.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return models.AlertRule{}, err
	}
	return rule, nil
}

// SaveAlertRule creates or updates a rule, keyed by name.
func (s *Service) SaveAlertRule(ctx context.Context, rule models.AlertRule) (models.AlertRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.UpdatedAt = time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = rule.UpdatedAt
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"cron_expr", "sound", "zones", "volume", "enabled", "updated_at"}),
	}).Create(&rule).Error
	if err != nil {
		return models.AlertRule{}, fmt.Errorf("save alert rule: %w", err)
	}

	s.bus.Publish(events.EventAuditAlertCreate, events.Payload{"id": rule.ID, "name": rule.Name})
	return rule, nil
}

// DeleteAlertRule removes a rule.
func (s *Service) DeleteAlertRule(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&models.AlertRule{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	s.bus.Publish(events.EventAuditAlertDelete, events.Payload{"id": id})
	return nil
}
