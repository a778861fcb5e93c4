package heartbeat

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestMonitorEmitsTransitions(t *testing.T) {
	registry := NewRegistry()
	transitions := make(chan Transition, 4)
	monitor := NewMonitor(registry, MonitorConfig{
		Interval: 10 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnTransition: func(ctx context.Context, transition Transition) {
			transitions <- transition
		},
	})

	registry.Beat("webhooks", "ok")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = monitor.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	registry.Degrade("webhooks", "queue stalled", context.DeadlineExceeded)

	var degraded Transition
	select {
	case degraded = <-transitions:
	case <-time.After(time.Second):
		t.Fatal("expected degraded transition")
	}
	if degraded.FromState != StateHealthy || degraded.ToState != StateDegraded || degraded.Error == "" {
		t.Fatalf("unexpected degraded transition: %+v", degraded)
	}

	registry.Beat("webhooks", "recovered")
	var recovered Transition
	select {
	case recovered = <-transitions:
	case <-time.After(time.Second):
		t.Fatal("expected recovered transition")
	}
	if recovered.FromState != StateDegraded || recovered.ToState != StateHealthy {
		t.Fatalf("unexpected recovered transition: %+v", recovered)
	}

	cancel()
	<-done
}
