// Package engine implements the sync-engine decision function described
// in §4.3: given the local player's projected position and the
// age-compensated server reference, it decides whether to seek, pause,
// change speed, or do nothing. The decision function is pure with
// respect to its inputs; all mutable state is the single speed-override
// field (speed) on Engine.
package engine

import "math"

// SpeedOverride is the engine's only piece of scratch state beyond the
// decision itself: whether it has most recently applied a slowdown.
type SpeedOverride int

const (
	SpeedNormal SpeedOverride = iota
	SpeedSlowed
)

// Thresholds are the configuration-driven band boundaries from §4.3.
// Zero value is invalid; use DefaultThresholds.
type Thresholds struct {
	SeekFastForward float64 // local ahead of reference by more than this: hard seek back
	SeekRewind      float64 // local behind reference by more than this: hard seek forward
	SlowdownEntry   float64 // local ahead by more than SlowdownExit and at most this: slow down
	SlowdownExit    float64 // |diff| at or below this: reset speed to normal
	SlowdownRate    float64 // playback speed multiplier applied while slowed
}

// DefaultThresholds matches §4.3's defaults: seek-fastforward=5.0,
// seek-rewind=4.0, slowdown-entry=1.5, slowdown-exit=0.5, slowdown-rate=0.95.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SeekFastForward: 5.0,
		SeekRewind:      4.0,
		SlowdownEntry:   1.5,
		SlowdownExit:    0.5,
		SlowdownRate:    0.95,
	}
}

// ActionKind enumerates the possible engine outputs.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionSeek
	ActionSetPaused
	ActionSlowdown
	ActionResetSpeed
)

func (k ActionKind) String() string {
	switch k {
	case ActionSeek:
		return "seek"
	case ActionSetPaused:
		return "set-paused"
	case ActionSlowdown:
		return "slowdown"
	case ActionResetSpeed:
		return "reset-speed"
	default:
		return "none"
	}
}

// Action is the engine's decision for one tick.
type Action struct {
	Kind        ActionKind
	SeekTo      float64 // valid when Kind == ActionSeek
	Paused      bool    // valid when Kind == ActionSetPaused
	SpeedTarget float64 // valid when Kind == ActionSlowdown or ActionResetSpeed
}

// Input bundles the per-tick decision inputs from §4.3.
type Input struct {
	// LocalPos is the local player's position, already projected to "now"
	// by the caller (playback-state cache position plus elapsed time
	// since last update, scaled by the current speed).
	LocalPos float64
	// LocalPaused is the local player's current pause state.
	LocalPaused bool

	// RefPosNow is the age-compensated server reference position,
	// already computed by the caller per §4.3's formula:
	//   p_ref_now = p_ref + (now - t_ref) + δ      if not paused-ref
	//   p_ref_now = p_ref                           if paused-ref
	RefPosNow float64
	// RefPaused is the server's authoritative pause state.
	RefPaused bool
	// DoSeek marks the accompanying reference position as an intentional
	// jump rather than an incremental update.
	DoSeek bool

	// Duration is the current file's duration in seconds; 0 or negative
	// means unknown, in which case clamping to the duration is skipped
	// (§8); seek targets are still never negative.
	Duration float64
}

// Engine holds the scratch state described in §3: the current speed
// override and the thresholds driving Decide.
type Engine struct {
	thresholds Thresholds
	speed      SpeedOverride
}

// New returns an Engine with the given thresholds, starting at normal
// speed.
func New(t Thresholds) *Engine {
	return &Engine{thresholds: t, speed: SpeedNormal}
}

// SpeedOverride reports the engine's current scratch state.
func (e *Engine) SpeedOverride() SpeedOverride { return e.speed }

// Decide applies the first-match decision table from §4.3 and updates
// the engine's internal speed-override bookkeeping to match the action
// taken. It never mutates in, and never blocks.
func (e *Engine) Decide(in Input) Action {
	diff := in.LocalPos - in.RefPosNow // positive: local ahead of reference
	absDiff := math.Abs(diff)
	t := e.thresholds

	switch {
	case in.DoSeek && absDiff > 0:
		target := clampToDuration(in.RefPosNow, in.Duration)
		e.speed = SpeedNormal
		return Action{Kind: ActionSeek, SeekTo: target}

	case in.RefPaused != in.LocalPaused:
		return Action{Kind: ActionSetPaused, Paused: in.RefPaused}

	case diff > t.SeekFastForward:
		target := clampToDuration(in.RefPosNow, in.Duration)
		e.speed = SpeedNormal
		return Action{Kind: ActionSeek, SeekTo: target}

	case -diff > t.SeekRewind:
		target := clampToDuration(in.RefPosNow, in.Duration)
		e.speed = SpeedNormal
		return Action{Kind: ActionSeek, SeekTo: target}

	case diff > t.SlowdownExit && diff <= t.SlowdownEntry:
		if e.speed == SpeedSlowed {
			return Action{Kind: ActionNone}
		}
		e.speed = SpeedSlowed
		return Action{Kind: ActionSlowdown, SpeedTarget: t.SlowdownRate}

	case e.speed == SpeedSlowed && absDiff <= t.SlowdownExit:
		e.speed = SpeedNormal
		return Action{Kind: ActionResetSpeed, SpeedTarget: 1.0}

	default:
		return Action{Kind: ActionNone}
	}
}

// clampToDuration clamps pos into [0, duration] when duration is known
// (positive); otherwise only the lower bound applies, so a negative pos
// becomes 0 and any other pos is returned unchanged.
func clampToDuration(pos, duration float64) float64 {
	if duration <= 0 {
		if pos < 0 {
			return 0
		}
		return pos
	}
	if pos < 0 {
		return 0
	}
	if pos > duration {
		return duration
	}
	return pos
}

// ProjectPosition advances a cached position by elapsed wall-clock time at
// the given speed multiplier, used by the coordinator to compute
// Input.LocalPos for "now" from the last-updated playback-state cache
// entry. Paused positions never advance.
func ProjectPosition(cachedPos float64, paused bool, speed float64, elapsedSeconds float64) float64 {
	if paused || elapsedSeconds <= 0 {
		return cachedPos
	}
	if speed <= 0 {
		speed = 1.0
	}
	return cachedPos + elapsedSeconds*speed
}

// ProjectReference computes p_ref_now per §4.3's formula.
func ProjectReference(refPos float64, refPaused bool, elapsedSeconds, latencySeconds float64) float64 {
	if refPaused {
		return refPos
	}
	return refPos + elapsedSeconds + latencySeconds
}
