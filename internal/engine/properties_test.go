package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"mmstatus/internal/model"
	"mmstatus/internal/presence"
)

// TestAppliedPresenceInvariants drives the engine through random sequences
// of calendar states, update failures, stops and starts, and checks it
// against a simple reference model.
func TestAppliedPresenceInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		probe := newFakeProbe()
		client := newFakeClient()
		sched := &manualScheduler{}
		e := New(Config{
			Probe:          probe,
			Client:         client,
			Scheduler:      sched,
			RequestTimeout: time.Second,
		})
		if err := e.Configure(SyncConfig{IntervalSeconds: 60, CalendarID: "work"}); err != nil {
			rt.Fatal(err)
		}

		ctx := context.Background()
		var (
			running   bool
			first     bool
			applied   = model.PresenceUnset
			callCount int
		)

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 9).Draw(rt, "op") {
			case 0:
				// Start.
				err := e.Start(ctx)
				if running != errors.Is(err, ErrIllegalState) {
					rt.Fatalf("start while running=%v returned %v", running, err)
				}
				if !running {
					running, first = true, true
				}

			case 1:
				// Stop.
				fail := rapid.Bool().Draw(rt, "stopFails")
				if fail {
					client.failNext(&presence.NetworkError{Err: errors.New("down")})
				}
				_ = e.Stop(ctx)
				if applied == model.PresenceBusy {
					callCount++
					if !fail {
						applied = model.PresenceOnline
					}
				}
				client.dropErrors()
				running = false
				if e.State() != Stopped {
					rt.Fatalf("stop left engine in %s", e.State())
				}

			default:
				// Tick with a random calendar state and outcome.
				busy := rapid.Bool().Draw(rt, "busy")
				if busy {
					probe.busy("meeting")
				} else {
					probe.free()
				}
				fail := rapid.Bool().Draw(rt, "fail")
				if fail {
					client.failNext(&presence.ServerRejectedError{Code: 503})
				}

				desired := model.PresenceOnline
				if busy {
					desired = model.PresenceBusy
				}

				err := e.Tick(ctx)

				if !running {
					if err != nil {
						rt.Fatalf("stopped tick returned %v", err)
					}
				} else if first || desired != applied {
					callCount++
					if fail {
						if err == nil {
							rt.Fatal("failed update not reported")
						}
					} else {
						applied, first = desired, false
						if e.LastError() != nil {
							rt.Fatal("sticky error survived a successful tick")
						}
					}
				} else if err != nil {
					rt.Fatalf("idle tick returned %v", err)
				}

				client.dropErrors()
			}

			if got := len(client.history()); got != callCount {
				rt.Fatalf("expected %d remote calls, got %d", callCount, got)
			}
			if got := e.Snapshot().LastApplied; got != applied {
				rt.Fatalf("last applied %s, want %s", got, applied)
			}
		}
	})
}
