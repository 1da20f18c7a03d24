// Package sched emits bus events on cron schedules. Workspace adapters use
// it for periodic refresh ticks (feed polling, timeline recomputes) without
// each adapter running its own timer loop.
package sched

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pulse-labs/pulse/bus"
	"github.com/pulse-labs/pulse/event"
)

// Source marks events produced by the scheduler.
const Source = "scheduler"

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// parseCronExpressionUTC parses a standard 5-field cron expression.
// Timezone prefixes are rejected; schedules are UTC-only.
func parseCronExpressionUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("sched: cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("sched: cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("sched: invalid cron expression: %w", err)
	}
	return schedule, nil
}

// Scheduler emits events on cron schedules.
type Scheduler struct {
	bus    *bus.Bus
	logger *slog.Logger
	cron   *cron.Cron
}

// New creates a Scheduler emitting onto b. A nil logger falls back to
// slog.Default().
func New(b *bus.Bus, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		bus:    b,
		logger: logger,
		cron:   cron.New(cron.WithLocation(time.UTC)),
	}
}

// Add registers a schedule: each time expr fires, an event of TypeCustom is
// emitted on topicName with the given payload. The expression is validated
// up front so a bad schedule fails at configuration time, not at runtime.
func (s *Scheduler) Add(expr, topicName string, payload map[string]any) error {
	schedule, err := parseCronExpressionUTC(expr)
	if err != nil {
		return err
	}

	s.cron.Schedule(schedule, cron.FuncJob(func() {
		e := event.New(topicName, event.TypeCustom).
			WithData(clonePayload(payload)).
			WithSource(Source)
		s.bus.Emit(e)
		s.logger.Debug("scheduled event emitted", "topic", topicName, "schedule", expr)
	}))
	return nil
}

// Start begins running schedules in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for any in-flight emissions to finish.
// Safe to call more than once.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// clonePayload copies the configured payload so subscribers of one tick
// cannot mutate the payload seen by later ticks.
func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
