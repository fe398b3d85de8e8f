// Package app provides the single confined worker (spec section 5) and the
// Portal-specific wiring built on it: every inbound event that mutates
// shared process state — a decoded UDP packet, a periodic tick, a
// discovered-peer callback — is funneled through one actor's mailbox so no
// two handlers ever run concurrently with each other.
package app

import (
	"context"
	"time"

	"github.com/AsynkronIT/protoactor-go/actor"

	"houseportal/houselog"
)

var log = houselog.For("app")

// Handler reacts to one message pulled off the engine's mailbox.
type Handler func(msg interface{})

// Tick is delivered on a fixed interval so the engine can run periodic
// maintenance (reap, gossip, config poll) without any caller owning a timer
// of its own.
type Tick struct{ At time.Time }

type workerActor struct {
	handler Handler
}

func (w *workerActor) Receive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case *actor.Started, *actor.Stopping, *actor.Stopped, *actor.Restarting:
		return
	default:
		w.handler(ctx.Message())
	}
}

// Engine is the process-owned single worker. Everything that must be
// serialized with everything else is sent to it via Send; Engine never
// exposes its internal state directly.
type Engine struct {
	system *actor.ActorSystem
	pid    *actor.PID
}

// NewEngine starts an actor system and spawns the one worker that will run
// handler for every message delivered to Engine.Send, in arrival order.
func NewEngine(handler Handler) *Engine {
	system := actor.NewActorSystem()
	props := actor.PropsFromProducer(func() actor.Actor {
		return &workerActor{handler: handler}
	})
	pid := system.Root.Spawn(props)
	return &Engine{system: system, pid: pid}
}

// Send enqueues msg on the engine's mailbox. Safe to call from any
// goroutine: the UDP reader, an HTTP handler, or a ticker.
func (e *Engine) Send(msg interface{}) {
	e.system.Root.Send(e.pid, msg)
}

// RunTicker sends a Tick to the engine every interval until ctx is
// cancelled.
func (e *Engine) RunTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			e.Send(Tick{At: t})
		}
	}
}

// Stop terminates the worker actor and its mailbox.
func (e *Engine) Stop() {
	e.system.Root.PoisonFuture(e.pid).Wait()
}
