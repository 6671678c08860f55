package wsmux

import (
	"strings"

	"github.com/rs/zerolog"
)

// Class is the router's verdict on a decoded frame.
type Class int

const (
	ClassNoise Class = iota
	ClassMessage
	ClassEcho
)

func (c Class) String() string {
	switch c {
	case ClassMessage:
		return "message"
	case ClassEcho:
		return "echo"
	default:
		return "noise"
	}
}

// Router classifies received frames and dispatches them to subscribers.
type Router struct {
	reg   *Registry
	corr  *Correlator
	noise NoiseFilter
	sched Scheduler
	log   zerolog.Logger
}

func NewRouter(reg *Registry, corr *Correlator, sched Scheduler, noise NoiseFilter, logger zerolog.Logger) *Router {
	if noise == nil {
		noise = DefaultNoiseFilter
	}
	return &Router{reg: reg, corr: corr, noise: noise, sched: sched, log: logger}
}

// Classify decides whether f is an echo of a send, chat content or noise.
// Echoes of sends abandoned by an unsubscribed identity are noise.
func (r *Router) Classify(f Frame) Class {
	if f.Kind == FrameRecord && f.EchoOf() != "" {
		if r.corr != nil && r.corr.Abandoned(f.EchoOf()) {
			return ClassNoise
		}
		return ClassEcho
	}
	content := f.Content()
	if strings.TrimSpace(content) == "" {
		return ClassNoise
	}
	if r.noise(content) {
		return ClassNoise
	}
	return ClassMessage
}

// Route handles one raw frame. A panic anywhere below is contained here so
// the next frame is processed normally.
func (r *Router) Route(raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Int("bytes", len(raw)).Msg("[wsmux] frame dropped")
		}
	}()
	f := Decode(raw)
	class := r.Classify(f)
	switch class {
	case ClassNoise:
		r.log.Debug().Int("bytes", len(raw)).Msg("[wsmux] noise frame ignored")
		return
	case ClassEcho:
		r.routeEcho(f)
	default:
		r.dispatch(f, f.Target(), "", false)
	}
}

func (r *Router) routeEcho(f Frame) {
	ref := f.EchoOf()
	target := f.Target()
	confirmed := false
	if p, ok := r.corr.Resolve(ref); ok {
		target = p.Identity
		confirmed = true
	}
	if strings.TrimSpace(f.Content()) == "" {
		return
	}
	r.dispatch(f, target, ref, confirmed)
}

func (r *Router) dispatch(f Frame, target, ref string, confirmed bool) {
	in := Inbound{
		Kind:          f.Kind,
		Identity:      target,
		Content:       f.Content(),
		CorrelationID: ref,
		Confirmed:     confirmed,
		Fields:        f.Fields,
		Raw:           f.Raw,
		ReceivedAt:    r.sched.Now(),
	}
	deliver := func(c Callbacks) {
		if c.OnMessage != nil {
			c.OnMessage(in)
		}
	}
	if target != "" && r.reg.Deliver(target, deliver) {
		return
	}
	r.reg.DeliverAll(func(_ string, c Callbacks) { deliver(c) })
}
