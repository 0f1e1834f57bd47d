package governor

import (
	"errors"
	"math"
	"testing"

	"github.com/voxelport/perf-go/engine/quality"
)

func TestThermalEscalatesOnSustainedDegradation(t *testing.T) {
	m := newThermalMonitor()

	for i := 0; i < 120; i++ {
		m.Tick(10)
	}
	if m.state != ThermalNominal || m.throttle != 1.0 {
		t.Fatalf("stable load: state=%s throttle=%v, want nominal/1.0", m.state, m.throttle)
	}

	// 30 frames at 4x the norm drives degradation past the serious
	// threshold (recent 40ms vs window average 17.5ms).
	for i := 0; i < 30; i++ {
		m.Tick(40)
	}
	if m.state != ThermalSerious {
		t.Fatalf("after slow burst: state=%s, want serious", m.state)
	}
	if m.throttle != stateThrottle[ThermalSerious] {
		t.Errorf("throttle = %v, want %v", m.throttle, stateThrottle[ThermalSerious])
	}
}

func TestThermalRecoveryIsGradual(t *testing.T) {
	m := newThermalMonitor()
	for i := 0; i < 120; i++ {
		m.Tick(10)
	}
	for i := 0; i < 30; i++ {
		m.Tick(40)
	}
	if m.state != ThermalSerious {
		t.Fatalf("setup: state=%s, want serious", m.state)
	}

	// Cooldown holds the state even though frame times are healthy again.
	for i := 0; i < 10; i++ {
		m.Tick(10)
	}
	if m.state != ThermalSerious {
		t.Fatalf("inside cooldown: state=%s, want serious", m.state)
	}
	throttleBefore := m.throttle

	// Exhaust the cooldown, then recovery climbs at +0.01/tick through fair
	// back to nominal.
	for i := 0; i < 400; i++ {
		m.Tick(10)
	}
	if m.state != ThermalNominal {
		t.Errorf("after recovery: state=%s, want nominal", m.state)
	}
	if m.throttle != 1.0 {
		t.Errorf("after recovery: throttle=%v, want 1.0", m.throttle)
	}
	if throttleBefore != stateThrottle[ThermalSerious] {
		t.Errorf("throttle moved during cooldown: %v", throttleBefore)
	}
}

func TestThermalSpikeDoesNotFlipState(t *testing.T) {
	m := newThermalMonitor()
	for i := 0; i < 120; i++ {
		m.Tick(10)
	}
	// One 10x spike barely moves a 30-sample recent average.
	m.Tick(100)
	if m.state != ThermalNominal {
		t.Errorf("single spike flipped state to %s", m.state)
	}
}

type fakeBattery struct {
	status BatteryStatus
	err    error
	calls  int
}

func (f *fakeBattery) BatteryStatus() (BatteryStatus, error) {
	f.calls++
	return f.status, f.err
}

func TestBatteryPolicyModes(t *testing.T) {
	tests := []struct {
		name     string
		status   BatteryStatus
		wantMode PowerMode
		wantMult float32
	}{
		{"critical discharging", BatteryStatus{Level: 0.10, Discharging: true}, PowerModeSaver, 0.6},
		{"low discharging", BatteryStatus{Level: 0.25, Discharging: true}, PowerModeBalanced, 0.8},
		{"healthy discharging", BatteryStatus{Level: 0.80, Discharging: true}, PowerModePerformance, 1.0},
		{"critical but charging", BatteryStatus{Level: 0.10, Discharging: false}, PowerModePerformance, 1.0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newBatteryPolicy(&fakeBattery{status: tc.status})
			if got := p.Sample(); got != tc.wantMult {
				t.Errorf("Sample() = %v, want %v", got, tc.wantMult)
			}
			if p.mode != tc.wantMode {
				t.Errorf("mode = %s, want %s", p.mode, tc.wantMode)
			}
		})
	}
}

func TestBatteryProviderFailureDisablesPolicy(t *testing.T) {
	fb := &fakeBattery{err: errors.New("no battery bus")}
	p := newBatteryPolicy(fb)

	if got := p.Sample(); got != 1.0 {
		t.Errorf("Sample() after error = %v, want 1.0", got)
	}
	p.Sample()
	p.Sample()
	if fb.calls != 1 {
		t.Errorf("provider called %d times after failure, want 1", fb.calls)
	}
}

func TestNoBatteryProviderPinsPerformance(t *testing.T) {
	p := newBatteryPolicy(nil)
	if got := p.Sample(); got != 1.0 {
		t.Errorf("Sample() with no provider = %v, want 1.0", got)
	}
	if p.mode != PowerModePerformance {
		t.Errorf("mode = %s, want performance", p.mode)
	}
}

func TestCompositeQualityStaysAtOneOnTarget(t *testing.T) {
	g := NewGovernor(quality.ProfileMedium)

	var q float32
	for i := 0; i < 120; i++ {
		q = g.Tick(1000.0 / 60.0)
	}
	if math.Abs(float64(q)-1.0) > 0.02 {
		t.Errorf("quality on target frame times = %v, want ~1.0", q)
	}
}

func TestCompositeQualityDropsUnderLoad(t *testing.T) {
	g := NewGovernor(quality.ProfileMedium, WithTierCooldown(100000))

	for i := 0; i < 120; i++ {
		g.Tick(1000.0 / 60.0)
	}
	for i := 0; i < 60; i++ {
		g.Tick(40)
	}
	q := g.Quality()
	if q >= 1.0 {
		t.Errorf("quality under sustained load = %v, want < 1.0", q)
	}
	if q < 0.3 {
		t.Errorf("quality = %v, below the 0.3 floor", q)
	}
}

func TestBatteryMultiplierCapsQuality(t *testing.T) {
	g := NewGovernor(quality.ProfileMedium,
		WithBatteryProvider(&fakeBattery{status: BatteryStatus{Level: 0.10, Discharging: true}}))

	q := g.Tick(1000.0 / 60.0)
	if math.Abs(float64(q)-0.6) > 0.001 {
		t.Errorf("quality on critical battery = %v, want 0.6", q)
	}
	if g.PowerMode() != PowerModeSaver {
		t.Errorf("PowerMode = %s, want power-saver", g.PowerMode())
	}
}

func TestTierDowngradesAfterSustainedOverBudget(t *testing.T) {
	var switches []string
	g := NewGovernor(quality.ProfileMedium,
		WithTierCooldown(10),
		WithSustainTicks(5),
		WithConsumer(func(p quality.Profile) { switches = append(switches, p.Name) }))

	// Frame times at nearly 2x the 16.7ms target, sustained well past the
	// minimum sample count.
	for i := 0; i < 100; i++ {
		g.Tick(30)
	}
	if got := g.Profile().Name; got != "low" {
		t.Fatalf("profile after sustained over-budget = %s, want low", got)
	}
	if len(switches) != 1 || switches[0] != "low" {
		t.Errorf("consumer notifications = %v, want [low]", switches)
	}
	// 30ms meets the low tier's 33.3ms target, so no further descent.
	for i := 0; i < 100; i++ {
		g.Tick(30)
	}
	if got := g.Profile().Name; got != "low" {
		t.Errorf("profile stabilized at %s, want low", got)
	}
}

func TestTierUpgradesWithHeadroom(t *testing.T) {
	g := NewGovernor(quality.ProfileLow, WithTierCooldown(10), WithSustainTicks(5))

	upgraded := false
	for i := 0; i < 300; i++ {
		g.Tick(5)
		if g.Profile().Name == "medium" {
			upgraded = true
			break
		}
	}
	if !upgraded {
		t.Errorf("profile never upgraded from low with 5ms frames, still %s", g.Profile().Name)
	}
}

func TestSetProfileBypassesHysteresis(t *testing.T) {
	var switches []string
	g := NewGovernor(quality.ProfileMedium,
		WithConsumer(func(p quality.Profile) { switches = append(switches, p.Name) }))

	g.SetProfile(quality.ProfileHigh)
	if got := g.Profile().Name; got != "high" {
		t.Errorf("profile after SetProfile = %s, want high", got)
	}
	if len(switches) != 1 || switches[0] != "high" {
		t.Errorf("consumer notifications = %v, want [high]", switches)
	}
}

func TestReportContents(t *testing.T) {
	g := NewGovernor(quality.ProfileMedium, WithMemoryReader(func() float32 { return 42 }))

	for i := 0; i < 120; i++ {
		g.Tick(20)
	}
	// 50ms frames exceed twice the 16.7ms target and count as dropped.
	for i := 0; i < 5; i++ {
		g.Tick(50)
	}

	report := g.Report()
	if report.Quality != "medium" {
		t.Errorf("Quality = %s, want medium", report.Quality)
	}
	if report.MemoryMB != 42 {
		t.Errorf("MemoryMB = %v, want 42", report.MemoryMB)
	}
	if report.DroppedFrames != 5 {
		t.Errorf("DroppedFrames = %d, want 5", report.DroppedFrames)
	}
	if report.AverageFPS <= 0 {
		t.Errorf("AverageFPS = %v, want > 0", report.AverageFPS)
	}
	if len(report.Recommendations) == 0 {
		t.Error("Recommendations empty, want at least one entry")
	}
}
