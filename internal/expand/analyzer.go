package expand

import (
	"sort"

	"github.com/sourceplane/mlpipe/internal/model"
)

// PoolUsage reports which compute pools the steps reference.
type PoolUsage struct {
	byPool map[string][]string
}

// AnalyzePools indexes the steps by compute pool.
func AnalyzePools(steps []model.StepSpec) *PoolUsage {
	usage := &PoolUsage{byPool: make(map[string][]string)}
	for _, step := range steps {
		usage.byPool[step.Compute] = append(usage.byPool[step.Compute], step.Name)
	}
	return usage
}

// Referenced reports whether any step runs on pool.
func (u *PoolUsage) Referenced(pool string) bool {
	return len(u.byPool[pool]) > 0
}

// Steps returns the names of the steps running on pool.
func (u *PoolUsage) Steps(pool string) []string {
	return u.byPool[pool]
}

// Pools returns the referenced pool names, sorted.
func (u *PoolUsage) Pools() []string {
	pools := make([]string, 0, len(u.byPool))
	for pool := range u.byPool {
		pools = append(pools, pool)
	}
	sort.Strings(pools)
	return pools
}
