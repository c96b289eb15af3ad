package permissions

import "github.com/jrsteele09/go-crm-session/internal/utils"

// Delta is the difference between two permission sets.
type Delta struct {
	Added   []string
	Removed []string
	Changed bool
}

// Diff returns what is in next but not prev, and what is in prev but not
// next. Both lists are sorted.
func Diff(prev, next []string) Delta {
	prevSet := toSet(prev)
	nextSet := toSet(next)

	var d Delta
	for p := range nextSet {
		if _, ok := prevSet[p]; !ok {
			d.Added = append(d.Added, p)
		}
	}
	for p := range prevSet {
		if _, ok := nextSet[p]; !ok {
			d.Removed = append(d.Removed, p)
		}
	}
	d.Added = utils.UniqueSorted(d.Added)
	d.Removed = utils.UniqueSorted(d.Removed)
	d.Changed = len(d.Added) > 0 || len(d.Removed) > 0
	return d
}

func toSet(s []string) map[string]struct{} {
	set := make(map[string]struct{}, len(s))
	for _, v := range s {
		set[v] = struct{}{}
	}
	return set
}
