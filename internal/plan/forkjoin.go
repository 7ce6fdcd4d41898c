package plan

import (
	"strings"

	"github.com/rendis/flowplan/pkg/schema"
)

// augmentForkJoin layers the fork/join ordering on top of the data
// dependencies already in deps:
//   - every fork.branch.* step waits for fork.plan, when that step exists;
//   - fork.join waits for every fork.branch.* step.
func augmentForkJoin(steps []schema.ResolvedStep, deps []map[string]struct{}) {
	hasPlan := false
	join := -1
	var branches []string
	for i, s := range steps {
		switch {
		case s.ID == ForkPlanID:
			hasPlan = true
		case s.ID == ForkJoinID:
			join = i
		case strings.HasPrefix(s.ID, ForkBranchPrefix):
			branches = append(branches, s.ID)
		}
	}

	if hasPlan {
		for i, s := range steps {
			if strings.HasPrefix(s.ID, ForkBranchPrefix) {
				deps[i][ForkPlanID] = struct{}{}
			}
		}
	}
	if join >= 0 {
		for _, b := range branches {
			deps[join][b] = struct{}{}
		}
	}
}

// IsForkBranch reports whether stepID plays the branch role.
func IsForkBranch(stepID string) bool {
	return strings.HasPrefix(stepID, ForkBranchPrefix)
}
