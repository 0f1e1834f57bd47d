package governor

import "github.com/voxelport/perf-go/engine/quality"

type GovernorBuilderOption func(*performanceGovernor)

// WithBatteryProvider enables the battery sub-policy. Without a provider the
// battery multiplier stays at 1.0.
//
// Parameters:
//   - provider: the platform battery source
//
// Returns:
//   - GovernorBuilderOption: the option function
func WithBatteryProvider(provider BatteryProvider) GovernorBuilderOption {
	return func(g *performanceGovernor) {
		g.battery = newBatteryPolicy(provider)
	}
}

// WithConsumer registers a profile consumer at construction time, equivalent
// to RegisterConsumer.
//
// Parameters:
//   - fn: callback invoked on every discrete tier switch
//
// Returns:
//   - GovernorBuilderOption: the option function
func WithConsumer(fn func(quality.Profile)) GovernorBuilderOption {
	return func(g *performanceGovernor) {
		if fn != nil {
			g.consumers = append(g.consumers, fn)
		}
	}
}

// WithTierCooldown overrides the minimum ticks between discrete tier
// switches. Values <= 0 are ignored.
//
// Parameters:
//   - ticks: the cooldown in control ticks
//
// Returns:
//   - GovernorBuilderOption: the option function
func WithTierCooldown(ticks int) GovernorBuilderOption {
	return func(g *performanceGovernor) {
		if ticks > 0 {
			g.tierCooldown = ticks
		}
	}
}

// WithSustainTicks overrides how many consecutive over/under-budget ticks a
// tier switch requires. Values <= 0 are ignored.
//
// Parameters:
//   - ticks: the required consecutive tick count
//
// Returns:
//   - GovernorBuilderOption: the option function
func WithSustainTicks(ticks int) GovernorBuilderOption {
	return func(g *performanceGovernor) {
		if ticks > 0 {
			g.sustainTicks = ticks
		}
	}
}

// WithMemoryReader overrides the heap usage source used in reports, letting
// tests pin a deterministic value.
//
// Parameters:
//   - fn: returns current memory usage in MiB
//
// Returns:
//   - GovernorBuilderOption: the option function
func WithMemoryReader(fn func() float32) GovernorBuilderOption {
	return func(g *performanceGovernor) {
		if fn != nil {
			g.memoryMB = fn
		}
	}
}
