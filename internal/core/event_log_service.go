package core

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/example/subscription-sync/internal/db"
	"github.com/example/subscription-sync/internal/models"
)

const maxLoggedErrorLength = 500

// eventLogService implements the EventLogService interface.
type eventLogService struct {
	repo db.WebhookEventRepository
}

// NewEventLogService creates a new EventLogService backed by repo.
func NewEventLogService(repo db.WebhookEventRepository) EventLogService {
	return &eventLogService{repo: repo}
}

// Record stores the entry. Long error messages are truncated on a rune boundary,
// since Firestore rejects invalid UTF-8.
func (s *eventLogService) Record(ctx context.Context, entry models.WebhookEventLog) error {
	if s.repo == nil {
		return errors.New("WebhookEventRepository not initialized in EventLogService")
	}
	if entry.ID == "" {
		return errors.New("webhook event log entry needs an event ID")
	}
	if entry.Outcome == models.OutcomeDuplicate {
		return nil
	}
	entry.Error = truncateUTF8(entry.Error, maxLoggedErrorLength)

	if err := s.repo.Record(ctx, entry); err != nil {
		return fmt.Errorf("failed to record webhook event via repository: %w", err)
	}
	return nil
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
