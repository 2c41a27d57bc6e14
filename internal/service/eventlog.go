package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"water_monitor/internal/models"
	"water_monitor/internal/repository"
)

var (
	ErrInvalidTimeRange = errors.New("invalid time range: From must be <= To")
	ErrUnknownEventType = errors.New("unknown event type")
)

// journalTypes are the entry types CommandService writes.
var journalTypes = map[string]struct{}{
	EventPump:     {},
	EventAllPumps: {},
	EventSystem:   {},
	EventServo:    {},
	EventSchedule: {},
}

// EventLogService reads the command journal.
type EventLogService struct {
	eventRepo repository.EventRepo
}

func NewEventLogService(eventRepo repository.EventRepo) *EventLogService {
	return &EventLogService{eventRepo: eventRepo}
}

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// normalizeEventType accepts "all pumps", "all-pumps" and "ALL_PUMPS" alike.
func normalizeEventType(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// normalizeAndValidateFilter prepares query parameters and validates the
// time range and the entry type. An empty type selects every entry.
func normalizeAndValidateFilter(f LogFilter) (time.Time, time.Time, string, error) {
	from := normalizeToUTC(f.From)
	to := normalizeToUTC(f.To)

	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, "", ErrInvalidTimeRange
	}

	typ := normalizeEventType(f.Type)
	if _, ok := journalTypes[typ]; typ != "" && !ok {
		return time.Time{}, time.Time{}, "", fmt.Errorf("%w: %q", ErrUnknownEventType, f.Type)
	}
	return from, to, typ, nil
}

// List returns journal entries in [From, To], oldest first.
func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.CommandEvent, error) {
	from, to, typ, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, err
	}
	return s.eventRepo.List(ctx, from, to, typ)
}
