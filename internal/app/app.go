package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"homeorch/internal/config"
	"homeorch/internal/eventbus"
	"homeorch/internal/media/kodi"
	"homeorch/internal/notifier"
	"homeorch/internal/observability/debughttp"
	"homeorch/internal/reminder"
	rtsup "homeorch/internal/runtime/supervisor"
	"homeorch/internal/scheduler"
	"homeorch/internal/services"
	"homeorch/internal/storage"
	"homeorch/internal/transport"
	logx "homeorch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log    logx.Logger
	logs   *logx.Service
	events eventbus.Bus

	bus      transport.Bus
	backend  storage.Backend
	store    *reminder.Store
	notif    *notifier.Service
	sched    *scheduler.Scheduler
	router   *services.Router
	kodi     *kodi.Client
	debug    *debughttp.Server
	autosave time.Duration
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	d, err := cfg.Durations()
	if err != nil {
		return nil, err
	}
	loc, err := loadLocation(cfg.Reminders.Timezone)
	if err != nil {
		return nil, err
	}

	// The bus sink needs the transport, which needs a logger: start without
	// a publisher and attach it once the bus exists.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	appLog := log.With(logx.String("comp", "app"))

	bus := newBus(cfg, d, log)
	logSvc.SetPublisher(bus)

	events := eventbus.New()

	backend, err := storage.Open(mapStorageConfig(cfg, d), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	store := reminder.NewStore(reminder.Options{
		Backend:      backend,
		NonRepeating: cfg.Reminders.NonRepeatingConcepts,
		SaveTimeout:  d.SaveTimeout,
		Events:       events,
		Log:          log,
	})

	sinks := []notifier.Sink{notifier.NewBusSink(bus, cfg.Topics.Notifications)}
	if cfg.Telegram.Enabled {
		tg, err := notifier.NewTelegramSink(notifier.TelegramConfig{
			Token:       cfg.Telegram.Token,
			ChatID:      cfg.Telegram.ChatID,
			ThreadID:    cfg.Telegram.ThreadID,
			PollTimeout: d.TelegramPoll,
		})
		if err != nil {
			// notifications still go to the bus
			appLog.Warn("telegram sink disabled", logx.Err(err))
		} else {
			sinks = append(sinks, tg)
		}
	}
	notif := notifier.New(mapNotifierConfig(cfg, d), log, events, sinks...)

	sched, err := scheduler.New(scheduler.Options{
		Store:     store,
		Publisher: notif,
		Location:  loc,
		Grace:     d.FireGrace,
		Log:       log,
		Events:    events,
	})
	if err != nil {
		_ = backend.Close()
		_ = logSvc.Close()
		return nil, err
	}

	remSvc, err := services.NewReminders(store, bus, services.ReminderTopics{
		ManagementIDs: cfg.Topics.ManagementIDs,
		IDResponses:   cfg.Topics.IDResponses,
		Responses:     cfg.Topics.Responses,
	}, loc)
	if err != nil {
		_ = backend.Close()
		_ = logSvc.Close()
		return nil, err
	}
	deps := serviceDeps{
		reminders: remSvc,
		proactive: services.NewProactive(bus, cfg.Topics.Hotword),
	}
	kc := newKodi(cfg, d, loc, log)
	if kc != nil {
		deps.tv = services.NewTV(kc, store, cfg.Kodi.BroadcastConcept)
	}

	router := services.NewRouter(bus, services.RouterOptions{
		RatePerSec: cfg.Services.RatePerSec,
		Burst:      cfg.Services.Burst,
		Log:        log,
		Events:     events,
	})
	for _, svc := range serviceTable(cfg, deps) {
		if err := router.Handle(svc); err != nil {
			_ = backend.Close()
			_ = logSvc.Close()
			return nil, err
		}
	}

	a := &App{
		cfgm:     cfgm,
		log:      appLog,
		logs:     logSvc,
		events:   events,
		bus:      bus,
		backend:  backend,
		store:    store,
		notif:    notif,
		sched:    sched,
		router:   router,
		kodi:     kc,
		autosave: d.Autosave,
	}
	a.debug = debughttp.New(log, a.Status)
	return a, nil
}

func (a *App) Bus() transport.Bus { return a.bus }

func (a *App) Store() *reminder.Store { return a.store }

func (a *App) Events() eventbus.Bus { return a.events }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := loadLocation(cfg.Reminders.Timezone); err != nil {
			return fmt.Errorf("reminders.timezone: %w", err)
		}
		return nil
	})

	if err := a.bus.Connect(a.sup.Context()); err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}

	if err := a.store.Load(a.sup.Context()); err != nil {
		// keep running with an empty list; the next save overwrites the bad snapshot
		a.log.Error("loading reminders failed; starting empty", logx.Err(err))
	}

	a.notif.Start(a.sup.Context())
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.autosave > 0 {
		if err := a.store.StartAutosave(a.autosave); err != nil {
			return err
		}
	}
	if err := a.router.Start(a.sup.Context()); err != nil {
		return err
	}

	a.debug.Apply(a.sup.Context(), mapDebugConfig(a.cfgm.Get()))

	events, unsub := a.events.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("reminders", a.store.Len()),
		logx.Any("services", a.router.Services()),
		logx.Any("sinks", a.notif.Sinks()))
	return nil
}

// applyConfig applies the live-reloadable sections and flags the rest.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLogConfig(newCfg))

	d, err := newCfg.Durations()
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(mapNotifierConfig(newCfg, d))
	}

	a.debug.Apply(a.sup.Context(), mapDebugConfig(newCfg))

	if restart {
		a.log.Warn("config changed in sections that need a restart", logx.String("changed", strings.Join(sections, ",")))
	}
	a.events.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		_ = a.backend.Close()
		_ = a.logs.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		runStep(ctx, a.log, name, max, fn)
	}

	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("router", time.Second, func(context.Context) error { a.router.Stop(); return nil })
	step("scheduler", 2*time.Second, a.sched.Stop)
	step("autosave", 3*time.Second, func(c context.Context) error { a.store.StopAutosave(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("bus", 2*time.Second, a.bus.Close)
	step("storage", time.Second, func(context.Context) error { return a.backend.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.SetPublisher(nil)
		_ = a.logs.Close()
	}
	return nil
}

// runStep runs a shutdown step with an upper bound so one component can't
// stall the whole stop. It never extends the caller's deadline.
func runStep(ctx context.Context, log logx.Logger, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			if err != nil {
				log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
	}
}
