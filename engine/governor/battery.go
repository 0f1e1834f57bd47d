package governor

import "log"

// PowerMode is the battery-driven performance posture.
type PowerMode uint8

const (
	PowerModePerformance PowerMode = iota
	PowerModeBalanced
	PowerModeSaver
)

// String returns the human-readable name of the power mode.
//
// Returns:
//   - string: the mode name
func (m PowerMode) String() string {
	switch m {
	case PowerModePerformance:
		return "performance"
	case PowerModeBalanced:
		return "balanced"
	case PowerModeSaver:
		return "power-saver"
	default:
		return "unknown"
	}
}

// BatteryStatus is one sample of the host battery.
type BatteryStatus struct {
	Level       float32 // charge fraction in [0, 1]
	Discharging bool
}

// BatteryProvider reports the host battery state. Platforms without a
// battery API simply don't supply a provider, which disables the battery
// sub-policy entirely.
type BatteryProvider interface {
	// BatteryStatus samples the current battery state.
	//
	// Returns:
	//   - BatteryStatus: the current level and charge direction
	//   - error: error if the platform query fails
	BatteryStatus() (BatteryStatus, error)
}

const (
	saverLevel    = 0.15
	balancedLevel = 0.30

	saverMultiplier       = 0.6
	balancedMultiplier    = 0.8
	performanceMultiplier = 1.0
)

// batteryPolicy maps battery samples to a quality multiplier. With no
// provider it pins performance mode.
type batteryPolicy struct {
	provider   BatteryProvider
	mode       PowerMode
	multiplier float32
	failed     bool
}

func newBatteryPolicy(provider BatteryProvider) *batteryPolicy {
	return &batteryPolicy{
		provider:   provider,
		mode:       PowerModePerformance,
		multiplier: performanceMultiplier,
	}
}

// Sample refreshes the mode from the provider and returns the quality
// multiplier. Provider errors disable the sub-policy rather than degrade
// quality on bad data.
func (p *batteryPolicy) Sample() float32 {
	if p.provider == nil || p.failed {
		return p.multiplier
	}
	status, err := p.provider.BatteryStatus()
	if err != nil {
		log.Printf("[Governor] battery provider failed, disabling battery policy: %v", err)
		p.failed = true
		p.mode = PowerModePerformance
		p.multiplier = performanceMultiplier
		return p.multiplier
	}

	prev := p.mode
	switch {
	case status.Discharging && status.Level < saverLevel:
		p.mode = PowerModeSaver
		p.multiplier = saverMultiplier
	case status.Discharging && status.Level < balancedLevel:
		p.mode = PowerModeBalanced
		p.multiplier = balancedMultiplier
	default:
		p.mode = PowerModePerformance
		p.multiplier = performanceMultiplier
	}
	if p.mode != prev {
		log.Printf("[Governor] power mode %s -> %s (battery %.0f%%)", prev, p.mode, status.Level*100)
	}
	return p.multiplier
}
