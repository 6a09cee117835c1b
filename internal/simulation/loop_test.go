package simulation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopRunsAtLeastTargetTicks(t *testing.T) {
	var ticks int32
	loop := NewLoop(60, func(int64, time.Duration) {
		atomic.AddInt32(&ticks, 1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	time.Sleep(55 * time.Millisecond)
	cancel()
	loop.Stop()
	if atomic.LoadInt32(&ticks) == 0 {
		t.Fatalf("expected loop to tick at least once")
	}
	if loop.Now() != int64(atomic.LoadInt32(&ticks)) {
		t.Fatalf("expected the tick counter to match executed steps, got %d vs %d", loop.Now(), ticks)
	}
}

func TestLoopStepDuration(t *testing.T) {
	loop := NewLoop(120, func(int64, time.Duration) {})
	step := loop.StepDuration()
	expected := time.Second / 120
	if step != expected {
		t.Fatalf("unexpected step duration %v", step)
	}
}

func TestAdvanceNumbersStepsMonotonically(t *testing.T) {
	var seen []int64
	var loop *Loop
	loop = NewLoop(20, func(tick int64, _ time.Duration) {
		if loop.Now() != tick {
			t.Fatalf("step for tick %d observed clock %d", tick, loop.Now())
		}
		seen = append(seen, tick)
	})
	monitor := NewTickMonitor(loop.StepDuration())
	loop.WithMonitor(monitor)
	for i := 0; i < 3; i++ {
		loop.Advance()
	}
	if len(seen) != 3 || seen[0] != 0 || seen[2] != 2 {
		t.Fatalf("unexpected tick sequence %v", seen)
	}
	if loop.Now() != 3 {
		t.Fatalf("expected clock at 3, got %d", loop.Now())
	}
	if monitor.Snapshot().Samples > 3 {
		t.Fatalf("monitor recorded more samples than steps: %+v", monitor.Snapshot())
	}
}

func TestTickMonitorTracksWorstStep(t *testing.T) {
	monitor := NewTickMonitor(25 * time.Millisecond)
	monitor.Observe(10 * time.Millisecond)
	monitor.Observe(30 * time.Millisecond)
	snapshot := monitor.Snapshot()
	if snapshot.Samples != 2 || snapshot.Max != 30*time.Millisecond || snapshot.Average != 20*time.Millisecond {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if snapshot.Overruns != 1 {
		t.Fatalf("expected one overrun, got %d", snapshot.Overruns)
	}
	if snapshot.Utilisation() != 0.8 {
		t.Fatalf("expected 0.8 utilisation, got %f", snapshot.Utilisation())
	}
	monitor.Reset()
	if monitor.Snapshot().Samples != 0 {
		t.Fatalf("expected reset to clear samples")
	}
}
