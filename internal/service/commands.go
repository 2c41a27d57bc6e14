package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"water_monitor/internal/logger"
	"water_monitor/internal/metrics"
	"water_monitor/internal/models"
	"water_monitor/internal/remote"
	"water_monitor/internal/repository"

	"github.com/google/uuid"
)

var (
	ErrInvalidPump    = errors.New("invalid pump index: must be 0 or 1")
	ErrInvalidCommand = errors.New("invalid command: must be start, pause, resume or stop")
)

// Schedule command keywords written to the command node.
const (
	CommandStart  = "start"
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandStop   = "stop"
)

// Journal entry types.
const (
	EventPump     = "PUMP"
	EventAllPumps = "ALL_PUMPS"
	EventSystem   = "SYSTEM"
	EventServo    = "SERVO"
	EventSchedule = "SCHEDULE"
)

// CommandService forwards operator intents to the store. Each call is one
// write; it returns once the store accepted it and never touches the cache.
// The device confirms by changing the control nodes, which the control
// listeners pick up.
type CommandService struct {
	store   remote.Store
	journal repository.EventRepo
	paths   Paths
	log     *logger.Logger
}

// NewCommandService builds a dispatcher. journal may be nil.
func NewCommandService(store remote.Store, journal repository.EventRepo, paths Paths, log *logger.Logger) *CommandService {
	if paths.Control == "" {
		paths.Control = DefaultPaths().Control
	}
	return &CommandService{store: store, journal: journal, paths: paths, log: log}
}

func (s *CommandService) SetPumpState(ctx context.Context, index int, on bool) error {
	if index < 0 || index > 1 {
		metrics.Commands.WithLabelValues("pump", "rejected").Inc()
		return ErrInvalidPump
	}
	path := s.paths.Pump(index)
	return s.dispatch(ctx, EventPump, path,
		fmt.Sprintf("Pump %d switched %s", index+1, onOff(on)),
		map[string]any{"pump": index + 1, "on": on},
		func() error { return s.store.Set(ctx, path, flag(on)) })
}

// SetAllPumps switches both pumps in one multi-field update.
func (s *CommandService) SetAllPumps(ctx context.Context, on bool) error {
	fields := map[string]any{"pump1": flag(on), "pump2": flag(on)}
	return s.dispatch(ctx, EventAllPumps, s.paths.Control,
		"All pumps switched "+onOff(on),
		map[string]any{"on": on},
		func() error { return s.store.Update(ctx, s.paths.Control, fields) })
}

func (s *CommandService) SetSystemState(ctx context.Context, on bool) error {
	path := s.paths.System()
	return s.dispatch(ctx, EventSystem, path,
		"System switched "+onOff(on),
		map[string]any{"on": on},
		func() error { return s.store.Set(ctx, path, flag(on)) })
}

func (s *CommandService) SetServomotorState(ctx context.Context, on bool) error {
	path := s.paths.Servo()
	return s.dispatch(ctx, EventServo, path,
		"Servomotor switched "+onOff(on),
		map[string]any{"on": on},
		func() error { return s.store.Set(ctx, path, flag(on)) })
}

// SetControlCommand writes a schedule keyword (start, pause, resume, stop)
// for the device to act on. Keywords are case-insensitive.
func (s *CommandService) SetControlCommand(ctx context.Context, command string) error {
	cmd, err := ParseCommand(command)
	if err != nil {
		metrics.Commands.WithLabelValues("schedule", "rejected").Inc()
		return err
	}
	path := s.paths.Command()
	return s.dispatch(ctx, EventSchedule, path,
		"Schedule command "+cmd,
		map[string]any{"command": cmd},
		func() error { return s.store.Set(ctx, path, cmd) })
}

// ParseCommand normalizes and validates a schedule keyword.
func ParseCommand(command string) (string, error) {
	cmd := strings.ToLower(strings.TrimSpace(command))
	switch cmd {
	case CommandStart, CommandPause, CommandResume, CommandStop:
		return cmd, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, command)
	}
}

func (s *CommandService) dispatch(ctx context.Context, typ, path, desc string, meta map[string]any, write func() error) error {
	label := strings.ToLower(typ)
	if err := write(); err != nil {
		metrics.Commands.WithLabelValues(label, "failed").Inc()
		if s.log != nil {
			s.log.Errorw("command_write_failed", "type", typ, "path", path, "err", err)
		}
		return fmt.Errorf("write %s: %w", path, err)
	}
	metrics.Commands.WithLabelValues(label, "accepted").Inc()
	if s.log != nil {
		s.log.Infow("command_accepted", "type", typ, "path", path)
	}

	if s.journal == nil {
		return nil
	}
	// The write was accepted; a journal failure does not undo it.
	if err := s.journal.Append(ctx, models.CommandEvent{
		EventID:     uuid.NewString(),
		OccurredAt:  time.Now().UTC(),
		Type:        typ,
		Description: desc,
		Metadata:    meta,
	}); err != nil && s.log != nil {
		s.log.Warnw("command_journal_failed", "type", typ, "err", err)
	}
	return nil
}

func flag(on bool) int {
	if on {
		return 1
	}
	return 0
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
