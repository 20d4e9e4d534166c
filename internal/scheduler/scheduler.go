package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/baebong3/fruitbasket-legal/internal/model"
	"github.com/baebong3/fruitbasket-legal/internal/notifier"
	"github.com/baebong3/fruitbasket-legal/internal/pipeline"
	"github.com/baebong3/fruitbasket-legal/internal/store"
	"github.com/baebong3/fruitbasket-legal/internal/transform"
)

// Runner executes one pipeline run for a calendar day.
type Runner interface {
	Run(ctx context.Context, date time.Time) (*model.RunReport, error)
}

// statusLimit is how many markers /status lists.
const statusLimit = 10

// Scheduler manages the daily cron task and chat commands.
type Scheduler struct {
	Cron     *cron.Cron
	Runner   Runner
	Store    store.Store
	Location *time.Location
	Ctx      context.Context
	// Reply, if set, delivers the outcome of a /run that the notification
	// sinks will not announce.
	Reply func(ctx context.Context, text string) error

	now     func() time.Time
	pending sync.WaitGroup
}

// NewScheduler creates a Scheduler whose cron fires in loc.
func NewScheduler(ctx context.Context, runner Runner, st store.Store, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		Runner:   runner,
		Store:    st,
		Location: loc,
		Ctx:      ctx,
		now:      time.Now,
	}
}

// RegisterAll registers the daily collection task.
func (s *Scheduler) RegisterAll(dailyCron string) error {
	if _, err := s.Cron.AddFunc(dailyCron, s.dailyTask); err != nil {
		return eris.Wrapf(err, "scheduler: register daily task %q", dailyCron)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	zap.L().Info("scheduler: started", zap.String("location", s.Location.String()))
}

// Stop stops the cron scheduler and waits for running tasks, including
// chat-triggered runs, to return.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.pending.Wait()
	zap.L().Info("scheduler: stopped")
}

// Today is the current calendar day in the scheduler's location.
func (s *Scheduler) Today() time.Time {
	return s.now().In(s.Location)
}

// RunNow executes the run for today (for RUN_ON_START).
func (s *Scheduler) RunNow() {
	s.dailyTask()
}

func (s *Scheduler) dailyTask() {
	if _, err := s.RunDate(s.Ctx, s.Today()); err != nil {
		var dup *pipeline.DuplicateRunError
		if !errors.As(err, &dup) {
			zap.L().Error("scheduler: daily run failed", zap.Error(err))
		}
	}
}

// RunDate runs the pipeline for date and logs the outcome. A duplicate run is
// reported at info level; the interval is already owned by another run.
func (s *Scheduler) RunDate(ctx context.Context, date time.Time) (*model.RunReport, error) {
	day := date.Format(model.DateLayout)
	zap.L().Info("scheduler: running pipeline", zap.String("interval", day))
	rep, err := s.Runner.Run(ctx, date)
	var dup *pipeline.DuplicateRunError
	switch {
	case errors.As(err, &dup):
		zap.L().Info("scheduler: interval already handled", zap.String("interval", day), zap.Error(err))
	case err != nil:
		zap.L().Warn("scheduler: run ended early", zap.String("interval", day), zap.Error(err))
	}
	return rep, err
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.FormatHelp()
	}
	switch strings.ToLower(fields[0]) {
	case "/status":
		markers, err := s.Store.ListRunMarkers(ctx, statusLimit)
		if err != nil {
			zap.L().Error("scheduler: list markers", zap.Error(err))
			return "⚠️ Could not read run history."
		}
		return notifier.FormatMarkers(markers)
	case "/run":
		date := s.Today()
		if len(fields) > 1 {
			d, ok := transform.ParseDate(fields[1])
			if !ok {
				return fmt.Sprintf("⚠️ Unrecognised date %q, expected YYYY-MM-DD.", fields[1])
			}
			date = d
		}
		interval := date.Format(model.DateLayout)
		if m, err := s.Store.GetRunMarker(ctx, interval); err == nil && m != nil && m.Status == model.MarkerCompleted {
			return fmt.Sprintf("ℹ️ %s is already %s.", interval, markerStatus(m))
		}
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			if reply := s.runCommand(s.Ctx, date); reply != "" && s.Reply != nil {
				if err := s.Reply(s.Ctx, reply); err != nil {
					zap.L().Error("scheduler: send run reply", zap.Error(err))
				}
			}
		}()
		return fmt.Sprintf("▶️ Run for %s started.", interval)
	default:
		return notifier.FormatHelp()
	}
}

// runCommand runs date and returns the chat reply for outcomes the
// notification sinks do not announce.
func (s *Scheduler) runCommand(ctx context.Context, date time.Time) string {
	rep, err := s.RunDate(ctx, date)
	var dup *pipeline.DuplicateRunError
	if errors.As(err, &dup) {
		return fmt.Sprintf("ℹ️ %s is already %s.", dup.Interval, markerStatus(dup.Existing))
	}
	if err != nil && rep == nil {
		return fmt.Sprintf("❌ Run for %s failed: %v", date.Format(model.DateLayout), err)
	}
	if err != nil && !notifier.Announce(rep) {
		return fmt.Sprintf("❌ Run for %s ended %s: %v", rep.Interval, rep.Outcome(), err)
	}
	return ""
}

func markerStatus(m *model.RunMarker) string {
	if m == nil {
		return "in progress"
	}
	return strings.ReplaceAll(string(m.Status), "_", " ")
}
