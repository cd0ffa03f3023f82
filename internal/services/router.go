package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"homeorch/internal/eventbus"
	"homeorch/internal/transport"
	logx "homeorch/pkg/logx"
)

// Request is one inbound message routed to a service.
type Request struct {
	Service string
	Topic   string
	Payload []byte
	Logger  logx.Logger
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// Service binds a handler to a topic.
type Service struct {
	Name    string
	Topic   string
	Handle  HandlerFunc
	Timeout time.Duration
}

type RouterOptions struct {
	// RatePerSec and Burst bound each service independently. RatePerSec <= 0
	// disables limiting.
	RatePerSec float64
	Burst      int
	// Timeout is the default per-message handler timeout.
	Timeout time.Duration

	Log    logx.Logger
	Events eventbus.Bus
}

type route struct {
	svc     Service
	limiter *rate.Limiter
	handle  HandlerFunc
	dropped atomic.Uint64
	handled atomic.Uint64
}

// Router subscribes services on a bus and dispatches messages to them.
type Router struct {
	sub    transport.Subscriber
	opts   RouterOptions
	log    logx.Logger
	events eventbus.Bus

	mu      sync.Mutex
	routes  map[string]*route
	order   []string
	started bool
}

func NewRouter(sub transport.Subscriber, opts RouterOptions) *Router {
	if opts.Burst <= 0 {
		opts.Burst = max(1, int(opts.RatePerSec))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Events == nil {
		opts.Events = eventbus.Nop{}
	}
	return &Router{
		sub:    sub,
		opts:   opts,
		log:    opts.Log.With(logx.String("comp", "router")),
		events: opts.Events,
		routes: map[string]*route{},
	}
}

// Handle registers svc. It must be called before Start; names are unique.
func (r *Router) Handle(svc Service) error {
	if svc.Name == "" || svc.Topic == "" || svc.Handle == nil {
		return fmt.Errorf("service %q: name, topic and handler are required", svc.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("service %q: router already started", svc.Name)
	}
	if _, dup := r.routes[svc.Name]; dup {
		return fmt.Errorf("service %q: already registered", svc.Name)
	}
	if svc.Timeout <= 0 {
		svc.Timeout = r.opts.Timeout
	}

	rt := &route{svc: svc}
	if r.opts.RatePerSec > 0 {
		rt.limiter = rate.NewLimiter(rate.Limit(r.opts.RatePerSec), r.opts.Burst)
	}
	log := r.opts.Log.With(logx.String("comp", "svc."+svc.Name))
	rt.handle = Chain(svc.Handle,
		mwRateLimit(rt, r.events, log),
		mwPanicRecover(log),
		mwTimeout(svc.Timeout),
		mwRequestLog(log),
	)
	r.routes[svc.Name] = rt
	r.order = append(r.order, svc.Name)
	return nil
}

// Start subscribes every registered service.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	for i, name := range r.order {
		if err := ctx.Err(); err != nil {
			r.unsubscribeLocked(r.order[:i])
			return err
		}
		rt := r.routes[name]
		if err := r.sub.Subscribe(rt.svc.Topic, r.dispatcher(rt)); err != nil {
			r.unsubscribeLocked(r.order[:i])
			return fmt.Errorf("subscribe %s (%s): %w", name, rt.svc.Topic, err)
		}
		r.log.Info("service subscribed", logx.String("service", name), logx.String("topic", rt.svc.Topic))
	}
	r.started = true
	return nil
}

// Stop unsubscribes every service.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.unsubscribeLocked(r.order)
	r.started = false
}

func (r *Router) unsubscribeLocked(names []string) {
	for _, name := range names {
		rt := r.routes[name]
		if err := r.sub.Unsubscribe(rt.svc.Topic); err != nil {
			r.log.Warn("unsubscribe failed", logx.String("service", name), logx.Err(err))
		}
	}
}

func (r *Router) dispatcher(rt *route) transport.Handler {
	log := r.opts.Log.With(logx.String("comp", "svc."+rt.svc.Name))
	return func(ctx context.Context, m transport.Message) {
		req := &Request{Service: rt.svc.Name, Topic: m.Topic, Payload: m.Payload, Logger: log}
		_ = rt.handle(ctx, req)
	}
}

// Stats returns handled and dropped message counts for a service.
func (r *Router) Stats(name string) (handled, dropped uint64) {
	r.mu.Lock()
	rt, ok := r.routes[name]
	r.mu.Unlock()
	if !ok {
		return 0, 0
	}
	return rt.handled.Load(), rt.dropped.Load()
}

// Services returns registered service names in registration order.
func (r *Router) Services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// ---- middleware ----

type droppedEvent struct {
	Service string `json:"service"`
	Topic   string `json:"topic"`
	Dropped uint64 `json:"dropped"`
}

func mwRateLimit(rt *route, events eventbus.Bus, log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if rt.limiter != nil && !rt.limiter.Allow() {
				n := rt.dropped.Add(1)
				log.Warn("rate limited; message dropped", logx.String("topic", req.Topic), logx.Uint64("dropped", n))
				events.Publish(eventbus.Event{Type: eventbus.ServiceDropped, Data: droppedEvent{Service: req.Service, Topic: req.Topic, Dropped: n}})
				return nil
			}
			rt.handled.Add(1)
			return next(ctx, req)
		}
	}
}

func mwTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func mwPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func mwRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("topic", req.Topic),
				logx.Int("bytes", len(req.Payload)),
				logx.Duration("dur", d),
			}
			if err != nil {
				log.Warn("message failed", append(fields, logx.Err(err))...)
			} else {
				log.Debug("message ok", fields...)
			}
			return err
		}
	}
}
