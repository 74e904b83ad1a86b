package healthcheck

// HealthcheckFunc returns a status message and whether the check passed. Checks must not block:
// downstream dependencies are reported from state kept by the component, never by making a roundtrip.
type HealthcheckFunc func() (string, HealthyStatus)

type HealthyStatus bool

const (
	Healthy   = HealthyStatus(true)
	Unhealthy = HealthyStatus(false)
)

// HealthCheckProvider reports whether a component can process traffic.
type HealthCheckProvider interface {
	HealthChecks() []HealthcheckFunc
}

// DeepCheckProvider reports on the downstream dependencies of a component.
type DeepCheckProvider interface {
	DeepChecks() []HealthcheckFunc
}

// Collect gathers the checks of every provider. Values implementing neither
// interface are ignored.
func Collect(providers ...interface{}) (healthChecks, deepChecks []HealthcheckFunc) {
	for _, p := range providers {
		if hcp, ok := p.(HealthCheckProvider); ok {
			healthChecks = append(healthChecks, hcp.HealthChecks()...)
		}
		if dcp, ok := p.(DeepCheckProvider); ok {
			deepChecks = append(deepChecks, dcp.DeepChecks()...)
		}
	}
	return healthChecks, deepChecks
}

// Run runs every check and splits the reports by outcome. Both slices are non-nil.
func Run(checks []HealthcheckFunc) (good, bad []string) {
	good = []string{}
	bad = []string{}
	for _, check := range checks {
		report, status := check()
		if status == Healthy {
			good = append(good, report)
		} else {
			bad = append(bad, report)
		}
	}
	return good, bad
}
