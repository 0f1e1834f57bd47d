package governor

// ThermalState is the governor's estimate of sustained load pressure,
// inferred purely from frame-time degradation. There is no platform sensor
// behind it.
type ThermalState uint8

const (
	ThermalNominal ThermalState = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

// String returns the human-readable name of the thermal state.
//
// Returns:
//   - string: the state name
func (s ThermalState) String() string {
	switch s {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Per-state throttle levels and cooldown durations in control ticks. A state
// must hold for at least its cooldown before recovery begins.
var (
	stateThrottle = map[ThermalState]float32{
		ThermalNominal:  1.0,
		ThermalFair:     0.85,
		ThermalSerious:  0.7,
		ThermalCritical: 0.5,
	}
	stateCooldown = map[ThermalState]int{
		ThermalNominal:  0,
		ThermalFair:     120,
		ThermalSerious:  180,
		ThermalCritical: 300,
	}
)

const (
	thermalWindowSize   = 120 // ~2s of samples at 60Hz
	thermalRecentSize   = 30
	thermalMinSamples   = 60
	thermalRecoveryStep = 0.01 // throttle regained per tick once cooled down

	degradationFair     = 1.5
	degradationSerious  = 2.0
	degradationCritical = 2.5
)

// thermalMonitor maps frame-time degradation onto throttle levels with
// hysteresis: escalation is immediate, recovery waits out the state's
// cooldown and then climbs back gradually. Single-frame spikes cannot flip
// the state because degradation compares a 30-sample recent average against
// the whole window.
type thermalMonitor struct {
	window   []float32
	state    ThermalState
	cooldown int
	throttle float32
}

func newThermalMonitor() *thermalMonitor {
	return &thermalMonitor{
		window:   make([]float32, 0, thermalWindowSize),
		state:    ThermalNominal,
		throttle: 1.0,
	}
}

// Tick records one frame time and advances the state machine by one control
// tick.
func (m *thermalMonitor) Tick(frameTimeMs float32) {
	if len(m.window) == thermalWindowSize {
		copy(m.window, m.window[1:])
		m.window = m.window[:thermalWindowSize-1]
	}
	m.window = append(m.window, frameTimeMs)

	if len(m.window) >= thermalMinSamples {
		if target := stateForDegradation(m.degradation()); target > m.state {
			m.state = target
			m.cooldown = stateCooldown[target]
			m.throttle = stateThrottle[target]
			return
		}
	}

	if m.cooldown > 0 {
		m.cooldown--
		return
	}
	if m.state == ThermalNominal && m.throttle >= 1.0 {
		return
	}

	m.throttle += thermalRecoveryStep
	if m.throttle > 1.0 {
		m.throttle = 1.0
	}
	// Crossing the next-better state's throttle level completes one step of
	// de-escalation.
	if m.state > ThermalNominal && m.throttle >= stateThrottle[m.state-1] {
		m.state--
	}
}

// degradation is avg(last 30)/avg(whole window); values near 1 mean stable
// frame times, larger values mean the recent past is slower than the norm.
func (m *thermalMonitor) degradation() float32 {
	var total float32
	for _, v := range m.window {
		total += v
	}
	if total <= 0 {
		return 1.0
	}
	recentStart := len(m.window) - thermalRecentSize
	if recentStart < 0 {
		recentStart = 0
	}
	var recent float32
	for _, v := range m.window[recentStart:] {
		recent += v
	}
	allAvg := total / float32(len(m.window))
	recentAvg := recent / float32(len(m.window)-recentStart)
	return recentAvg / allAvg
}

// recentAverage is the mean of the last 30 samples, valid once enough of the
// window has filled for degradation tracking.
func (m *thermalMonitor) recentAverage() (float32, bool) {
	if len(m.window) < thermalMinSamples {
		return 0, false
	}
	start := len(m.window) - thermalRecentSize
	var sum float32
	for _, v := range m.window[start:] {
		sum += v
	}
	return sum / float32(thermalRecentSize), true
}

// windowAverage is the mean frame time over the whole rolling window.
func (m *thermalMonitor) windowAverage() (float32, bool) {
	if len(m.window) == 0 {
		return 0, false
	}
	var sum float32
	for _, v := range m.window {
		sum += v
	}
	return sum / float32(len(m.window)), true
}

func stateForDegradation(d float32) ThermalState {
	switch {
	case d > degradationCritical:
		return ThermalCritical
	case d > degradationSerious:
		return ThermalSerious
	case d > degradationFair:
		return ThermalFair
	default:
		return ThermalNominal
	}
}
