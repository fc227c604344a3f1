package merge

// Config is the Merger's typed threshold policy (spec.md §4.4, and the
// "typed configuration struct" redesign note in spec.md §9). Each
// threshold field accepts "2f", "f", "1", or a literal integer, resolved
// against the current witness set's fault tolerance f at merge time.
type Config struct {
	WitnessTargetThreshold  string
	WitnessMinimumThreshold string
	PeerMinimumThreshold    string
	OperationReadyChance    float64
}

// DefaultConfig matches spec.md §8's worked scenarios.
func DefaultConfig() Config {
	return Config{
		WitnessTargetThreshold:  "2f",
		WitnessMinimumThreshold: "f",
		PeerMinimumThreshold:    "1",
		OperationReadyChance:    0.5,
	}
}
