package healthcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type provider struct {
	health, deep []HealthcheckFunc
}

func (p provider) HealthChecks() []HealthcheckFunc { return p.health }
func (p provider) DeepChecks() []HealthcheckFunc   { return p.deep }

type healthOnly struct{}

func (healthOnly) HealthChecks() []HealthcheckFunc {
	return []HealthcheckFunc{func() (string, HealthyStatus) { return "alive", Healthy }}
}

func TestCollectAndRun(t *testing.T) {
	t.Parallel()
	up := func() (string, HealthyStatus) { return "up", Healthy }
	down := func() (string, HealthyStatus) { return "down", Unhealthy }

	hc, dc := Collect(provider{health: []HealthcheckFunc{up}, deep: []HealthcheckFunc{up, down}}, healthOnly{}, 42)
	assert.Len(t, hc, 2)
	assert.Len(t, dc, 2)

	good, bad := Run(hc)
	assert.Equal(t, []string{"up", "alive"}, good)
	assert.Equal(t, []string{}, bad)

	good, bad = Run(dc)
	assert.Equal(t, []string{"up"}, good)
	assert.Equal(t, []string{"down"}, bad)
}

func TestRunEmpty(t *testing.T) {
	t.Parallel()
	good, bad := Run(nil)
	assert.NotNil(t, good)
	assert.NotNil(t, bad)
}
