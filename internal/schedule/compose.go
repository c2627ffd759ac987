package schedule

import "fmt"

// Compose builds the active schedule for an environment: every common job
// plus the jobs of the tier named like the environment (case-insensitive).
// An environment with no matching tier composes the common set only; use
// full.HasTier(TierFor(env)) to decide how loudly to report that.
//
// Composition happens once at startup. Changing the environment or the tier
// definitions requires a restart.
func Compose(env string, full *Registry) (*Registry, error) {
	tier := TierFor(env)
	active := NewRegistry()
	for _, j := range full.JobsForTier(tier) {
		if err := active.Register(j); err != nil {
			return nil, fmt.Errorf("compose %q: %w", env, err)
		}
	}
	return active, nil
}
