package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	logx "homeorch/pkg/logx"
)

// StartAutosave saves the store every interval until StopAutosave. A run is
// skipped while the previous save is still in flight.
func (s *Store) StartAutosave(interval time.Duration) error {
	if interval <= 0 {
		return errors.New("autosave interval must be > 0")
	}
	s.autoMu.Lock()
	defer s.autoMu.Unlock()
	if s.autosave != nil {
		return errors.New("autosave already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	clog := cronLogger{log: s.log}
	c := cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))
	c.Schedule(cron.Every(interval), cron.FuncJob(func() { s.Save(ctx) }))
	c.Start()

	s.autosave = c
	s.autoCancel = cancel
	s.log.Info("autosave started", logx.Duration("interval", interval))
	return nil
}

// StopAutosave stops the job, waits for a running save (bounded by ctx) and
// performs a final save.
func (s *Store) StopAutosave(ctx context.Context) {
	s.autoMu.Lock()
	c, cancel := s.autosave, s.autoCancel
	s.autosave, s.autoCancel = nil, nil
	s.autoMu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			s.log.Warn("autosave stop timed out; cancelling running save")
		}
		cancel()
	}
	s.Save(ctx)
	s.log.Info("autosave stopped")
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Trace("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
