package engine

import "testing"

func TestNoActionWithinExitBand(t *testing.T) {
	e := New(DefaultThresholds())
	for _, diff := range []float64{0, 0.25, 0.5, -0.5} {
		a := e.Decide(Input{LocalPos: 100 + diff, RefPosNow: 100})
		if a.Kind != ActionNone {
			t.Errorf("diff=%v: got %v, want none", diff, a.Kind)
		}
	}
}

func TestSlowdownEntryExclusive(t *testing.T) {
	e := New(DefaultThresholds())
	a := e.Decide(Input{LocalPos: 101.0, RefPosNow: 100.0}) // diff 1.0
	if a.Kind != ActionSlowdown || a.SpeedTarget != 0.95 {
		t.Fatalf("got %+v, want Slowdown(0.95)", a)
	}
	if e.SpeedOverride() != SpeedSlowed {
		t.Fatalf("engine should now be slowed")
	}
}

func TestSlowdownNotRepeatedWhileAlreadySlowed(t *testing.T) {
	e := New(DefaultThresholds())
	e.Decide(Input{LocalPos: 101.0, RefPosNow: 100.0})
	a := e.Decide(Input{LocalPos: 101.2, RefPosNow: 100.0})
	if a.Kind != ActionNone {
		t.Fatalf("got %+v, want none (already slowed)", a)
	}
}

func TestResetSpeedWhenBackWithinExitBand(t *testing.T) {
	e := New(DefaultThresholds())
	e.Decide(Input{LocalPos: 101.0, RefPosNow: 100.0}) // enters slowdown
	a := e.Decide(Input{LocalPos: 100.3, RefPosNow: 100.0})
	if a.Kind != ActionResetSpeed || a.SpeedTarget != 1.0 {
		t.Fatalf("got %+v, want ResetSpeed(1.0)", a)
	}
	if e.SpeedOverride() != SpeedNormal {
		t.Fatalf("engine should be back to normal")
	}
}

func TestHardSeekAheadAboveThreshold(t *testing.T) {
	e := New(DefaultThresholds())
	a := e.Decide(Input{LocalPos: 110.0, RefPosNow: 100.0}) // diff 10 > 5
	if a.Kind != ActionSeek || a.SeekTo != 100.0 {
		t.Fatalf("got %+v, want Seek(100.0)", a)
	}
}

func TestHardSeekBehindAboveThreshold(t *testing.T) {
	e := New(DefaultThresholds())
	a := e.Decide(Input{LocalPos: 90.0, RefPosNow: 100.0}) // ref-local=10 > 4
	if a.Kind != ActionSeek || a.SeekTo != 100.0 {
		t.Fatalf("got %+v, want Seek(100.0)", a)
	}
}

func TestExactThresholdBoundaries(t *testing.T) {
	e := New(DefaultThresholds())
	// diff exactly 0.5: within exit band (<=0.5), no action.
	if a := e.Decide(Input{LocalPos: 100.5, RefPosNow: 100.0}); a.Kind != ActionNone {
		t.Errorf("diff=0.5: got %v, want none", a.Kind)
	}
	// diff exactly 1.5: still within slowdown entry band (<=1.5).
	e2 := New(DefaultThresholds())
	if a := e2.Decide(Input{LocalPos: 101.5, RefPosNow: 100.0}); a.Kind != ActionSlowdown {
		t.Errorf("diff=1.5: got %v, want slowdown", a.Kind)
	}
	// diff exactly 5.0: not yet a hard seek (strictly greater required).
	e3 := New(DefaultThresholds())
	if a := e3.Decide(Input{LocalPos: 105.0, RefPosNow: 100.0}); a.Kind == ActionSeek {
		t.Errorf("diff=5.0: got seek, want something else (boundary is exclusive)")
	}
	// diff exactly -4.0: not yet a hard rewind (strictly greater required).
	e4 := New(DefaultThresholds())
	if a := e4.Decide(Input{LocalPos: 96.0, RefPosNow: 100.0}); a.Kind == ActionSeek {
		t.Errorf("diff=-4.0: got seek, want something else (boundary is exclusive)")
	}
}

func TestDoSeekTakesPrecedenceOverPauseDifference(t *testing.T) {
	e := New(DefaultThresholds())
	a := e.Decide(Input{LocalPos: 50.0, RefPosNow: 100.0, DoSeek: true, RefPaused: true, LocalPaused: false})
	if a.Kind != ActionSeek || a.SeekTo != 100.0 {
		t.Fatalf("got %+v, want Seek to take precedence over pause per §4.3's decision order", a)
	}
}

func TestPausePropagation(t *testing.T) {
	e := New(DefaultThresholds())
	a := e.Decide(Input{LocalPos: 100.0, RefPosNow: 100.0, RefPaused: true, LocalPaused: false})
	if a.Kind != ActionSetPaused || !a.Paused {
		t.Fatalf("got %+v, want SetPaused(true)", a)
	}
}

func TestDurationZeroSkipsClamp(t *testing.T) {
	e := New(DefaultThresholds())
	a := e.Decide(Input{LocalPos: 110.0, RefPosNow: 100.0, Duration: 0})
	if a.Kind != ActionSeek || a.SeekTo != 100.0 {
		t.Fatalf("got %+v, want seek dispatched regardless of duration", a)
	}
}

func TestClampToKnownDuration(t *testing.T) {
	got := clampToDuration(150.0, 120.0)
	if got != 120.0 {
		t.Errorf("got %v, want clamped to duration 120.0", got)
	}
	got = clampToDuration(-5.0, 120.0)
	if got != 0 {
		t.Errorf("got %v, want clamped to 0", got)
	}
}

func TestProjectPositionPausedDoesNotAdvance(t *testing.T) {
	if got := ProjectPosition(10, true, 1.0, 5.0); got != 10 {
		t.Errorf("got %v, want unchanged while paused", got)
	}
}

func TestProjectReferencePaused(t *testing.T) {
	if got := ProjectReference(100, true, 5, 0.1); got != 100 {
		t.Errorf("got %v, want unchanged while ref paused", got)
	}
	if got := ProjectReference(100, false, 5, 0.1); got != 105.1 {
		t.Errorf("got %v, want 105.1", got)
	}
}
