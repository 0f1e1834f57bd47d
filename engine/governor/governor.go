// Package governor closes the loop between observed frame times and the
// quality knobs the rest of the engine renders with. It blends adaptive
// frame-time tracking, a thermal pressure state machine, and an optional
// battery policy into one continuous quality scalar, and separately steps
// the discrete quality tier with heavy hysteresis.
package governor

import (
	"log"
	"runtime"
	"sync"

	"github.com/voxelport/perf-go/engine/quality"
)

// PerformanceReport is a diagnostic snapshot of the control loop.
type PerformanceReport struct {
	Quality         string
	FinalQuality    float32
	AverageFPS      float32
	MemoryMB        float32
	DroppedFrames   uint64
	ThermalState    string
	PowerMode       string
	Recommendations []string
}

// Governor mediates between measured frame times and quality settings.
type Governor interface {
	// Tick feeds one frame time into the control loop and advances it by one
	// tick: thermal/battery/adaptive signals are refreshed, the composite
	// quality scalar recomputed, and a discrete tier switch applied if its
	// hysteresis conditions are met.
	//
	// Parameters:
	//   - frameTimeMs: the last frame's duration in milliseconds
	//
	// Returns:
	//   - float32: the composite quality scalar in [0.3, 1.0]
	Tick(frameTimeMs float32) float32

	// Quality returns the most recent composite quality scalar.
	//
	// Returns:
	//   - float32: the scalar in [0.3, 1.0]
	Quality() float32

	// Profile returns the active discrete quality profile.
	//
	// Returns:
	//   - quality.Profile: the active profile
	Profile() quality.Profile

	// SetProfile force-switches the active profile, bypassing hysteresis,
	// and notifies registered consumers. Hysteresis counters restart.
	//
	// Parameters:
	//   - profile: the profile to activate
	SetProfile(profile quality.Profile)

	// RegisterConsumer adds a callback invoked with the new profile on every
	// discrete tier switch. Consumers are called outside the governor's lock.
	//
	// Parameters:
	//   - fn: the callback
	RegisterConsumer(fn func(quality.Profile))

	// ThermalState returns the inferred thermal pressure state.
	//
	// Returns:
	//   - ThermalState: the current state
	ThermalState() ThermalState

	// PowerMode returns the battery policy's current posture.
	//
	// Returns:
	//   - PowerMode: the current mode
	PowerMode() PowerMode

	// Report assembles a performance snapshot with textual recommendations.
	//
	// Returns:
	//   - PerformanceReport: the snapshot
	Report() PerformanceReport
}

type performanceGovernor struct {
	mu *sync.Mutex

	profile   quality.Profile
	tierIndex int

	thermal *thermalMonitor
	battery *batteryPolicy

	finalQuality float32
	batteryMult  float32

	tick           uint64
	lastSwitchTick uint64
	sustainedOver  int
	sustainedUnder int
	droppedFrames  uint64

	tierCooldown int
	sustainTicks int

	consumers []func(quality.Profile)
	memoryMB  func() float32
}

var _ Governor = &performanceGovernor{}

// tierLadder orders the presets the discrete switcher steps through.
var tierLadder = []quality.Profile{quality.ProfileLow, quality.ProfileMedium, quality.ProfileHigh}

const (
	minQuality = 0.3
	maxQuality = 1.0

	defaultTierCooldown      = 60 // ticks since the last switch before another is allowed
	defaultSustainTicks      = 30 // consecutive over/under-budget ticks required
	batterySampleInterval    = 60 // battery polled once per interval
	overBudgetRatio          = 1.2
	underBudgetRatio         = 0.8
	droppedFrameRatio        = 2.0
)

// NewGovernor creates a governor starting at the given profile.
//
// Parameters:
//   - profile: the initial quality profile
//   - options: functional options to further configure the governor
//
// Returns:
//   - Governor: the newly created governor
func NewGovernor(profile quality.Profile, options ...GovernorBuilderOption) Governor {
	g := &performanceGovernor{
		mu:           &sync.Mutex{},
		profile:      profile,
		tierIndex:    tierIndexFor(profile),
		thermal:      newThermalMonitor(),
		battery:      newBatteryPolicy(nil),
		finalQuality: maxQuality,
		batteryMult:  performanceMultiplier,
		tierCooldown: defaultTierCooldown,
		sustainTicks: defaultSustainTicks,
		memoryMB:     heapMB,
	}
	for _, option := range options {
		option(g)
	}
	return g
}

func (g *performanceGovernor) Tick(frameTimeMs float32) float32 {
	g.mu.Lock()

	g.tick++
	g.thermal.Tick(frameTimeMs)
	if g.tick%batterySampleInterval == 1 {
		g.batteryMult = g.battery.Sample()
	}

	targetMs := g.targetMsLocked()
	if targetMs > 0 && frameTimeMs > targetMs*droppedFrameRatio {
		g.droppedFrames++
	}

	adaptive := float32(maxQuality)
	recent, haveRecent := g.thermal.recentAverage()
	if g.profile.AdaptiveQuality && haveRecent && recent > 0 && targetMs > 0 {
		adaptive = clampf(targetMs/recent, minQuality, maxQuality)
	}
	thermalMult := float32(maxQuality)
	if g.profile.ThermalThrottling {
		thermalMult = g.thermal.throttle
	}
	g.finalQuality = clampf(adaptive*thermalMult*g.batteryMult, minQuality, maxQuality)

	switched, newProfile := g.stepTierLocked(recent, haveRecent, targetMs)
	consumers := g.consumers
	out := g.finalQuality
	g.mu.Unlock()

	if switched {
		for _, fn := range consumers {
			fn(newProfile)
		}
	}
	return out
}

func (g *performanceGovernor) Quality() float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finalQuality
}

func (g *performanceGovernor) Profile() quality.Profile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.profile
}

func (g *performanceGovernor) SetProfile(profile quality.Profile) {
	g.mu.Lock()
	g.profile = profile
	g.tierIndex = tierIndexFor(profile)
	g.lastSwitchTick = g.tick
	g.sustainedOver = 0
	g.sustainedUnder = 0
	consumers := g.consumers
	g.mu.Unlock()

	log.Printf("[Governor] profile set to %s", profile.Name)
	for _, fn := range consumers {
		fn(profile)
	}
}

func (g *performanceGovernor) RegisterConsumer(fn func(quality.Profile)) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consumers = append(g.consumers, fn)
}

func (g *performanceGovernor) ThermalState() ThermalState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.thermal.state
}

func (g *performanceGovernor) PowerMode() PowerMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.battery.mode
}

func (g *performanceGovernor) Report() PerformanceReport {
	g.mu.Lock()
	defer g.mu.Unlock()

	report := PerformanceReport{
		Quality:       g.profile.Name,
		FinalQuality:  g.finalQuality,
		MemoryMB:      g.memoryMB(),
		DroppedFrames: g.droppedFrames,
		ThermalState:  g.thermal.state.String(),
		PowerMode:     g.battery.mode.String(),
	}
	if avg, ok := g.thermal.windowAverage(); ok && avg > 0 {
		report.AverageFPS = 1000.0 / avg
	}
	report.Recommendations = g.recommendationsLocked(report.AverageFPS)
	return report
}

// stepTierLocked applies discrete tier hysteresis: a switch needs the recent
// average frame time to stay past 1.2x (down) or under 0.8x (up) of target
// for sustainTicks consecutive ticks, and at least tierCooldown ticks since
// the previous switch. Caller must hold g.mu.
func (g *performanceGovernor) stepTierLocked(recent float32, haveRecent bool, targetMs float32) (bool, quality.Profile) {
	if !haveRecent || targetMs <= 0 {
		return false, quality.Profile{}
	}

	switch {
	case recent > targetMs*overBudgetRatio:
		g.sustainedOver++
		g.sustainedUnder = 0
	case recent < targetMs*underBudgetRatio:
		g.sustainedUnder++
		g.sustainedOver = 0
	default:
		g.sustainedOver = 0
		g.sustainedUnder = 0
	}

	if g.tick-g.lastSwitchTick < uint64(g.tierCooldown) {
		return false, quality.Profile{}
	}

	next := g.tierIndex
	if g.sustainedOver >= g.sustainTicks && g.tierIndex > 0 {
		next = g.tierIndex - 1
	} else if g.sustainedUnder >= g.sustainTicks && g.tierIndex < len(tierLadder)-1 {
		next = g.tierIndex + 1
	}
	if next == g.tierIndex {
		return false, quality.Profile{}
	}

	prev := g.profile.Name
	g.tierIndex = next
	g.profile = tierLadder[next]
	g.lastSwitchTick = g.tick
	g.sustainedOver = 0
	g.sustainedUnder = 0
	log.Printf("[Governor] quality tier %s -> %s (avg frame %.1fms, target %.1fms)", prev, g.profile.Name, recent, targetMs)
	return true, g.profile
}

// recommendationsLocked derives tuning advice from the current signals.
// Caller must hold g.mu.
func (g *performanceGovernor) recommendationsLocked(avgFPS float32) []string {
	var recs []string
	if g.thermal.state >= ThermalSerious {
		recs = append(recs, "sustained frame-time degradation detected; reduce scene density or switch to a lower quality profile")
	}
	if g.battery.mode == PowerModeSaver {
		recs = append(recs, "battery critically low; quality capped until charging resumes")
	}
	if avgFPS > 0 && g.profile.TargetFPS > 0 && avgFPS < g.profile.TargetFPS*0.5 {
		recs = append(recs, "average FPS below half of target; consider lowering max instances or culling distance")
	}
	if g.tierIndex == 0 && g.finalQuality <= minQuality+0.01 {
		recs = append(recs, "already at the lowest tier and quality floor; workload exceeds this device")
	}
	if len(recs) == 0 {
		recs = append(recs, "performance nominal")
	}
	return recs
}

func (g *performanceGovernor) targetMsLocked() float32 {
	if g.profile.TargetFPS <= 0 {
		return 0
	}
	return 1000.0 / g.profile.TargetFPS
}

func tierIndexFor(profile quality.Profile) int {
	for i := range tierLadder {
		if tierLadder[i].Name == profile.Name {
			return i
		}
	}
	return 1 // custom profiles step from the middle of the ladder
}

// heapMB reports current heap allocation in MiB.
func heapMB() float32 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float32(ms.HeapAlloc) / (1024 * 1024)
}

// clampf clamps v to [lo, hi].
func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
