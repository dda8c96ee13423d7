package scheduler

import (
	"sort"

	"github.com/quantumctl/pulsec/internal/diagnostics"
)

type interval struct {
	start, end int64
	uid        string
	reserve    bool
	owner      string          // owning section uid, for reserve exemption
	ancestors  map[string]bool // section uids on the path to the root
	branch     map[string]int  // match uid -> case state on the path
}

// exclusive reports whether two intervals can never execute in the same
// real-time pass because they sit in different branches of a common match.
func exclusive(a, b *interval) bool {
	for m, st := range a.branch {
		if other, ok := b.branch[m]; ok && other != st {
			return true
		}
	}
	return false
}

// checkOverlaps verifies scheduling soundness: no two operations mapped to
// the same physical channel may overlap in time. A reserve conflicts with
// anything outside its own section; branches of one match are exempt from
// each other.
func (s *state) checkOverlaps(root *Node) {
	perLine := make(map[string][]*interval)

	var walk func(n *Node, owner string, ancestors map[string]bool, branch map[string]int)
	walk = func(n *Node, owner string, ancestors map[string]bool, branch map[string]int) {
		switch n.Kind {
		case KindPlay, KindAcquire, KindReserve:
			rs, ok := s.res.Signals[n.Signal]
			if !ok {
				return
			}
			perLine[rs.Line.Path] = append(perLine[rs.Line.Path], &interval{
				start:     n.Start,
				end:       n.End,
				uid:       n.UID,
				reserve:   n.Kind == KindReserve,
				owner:     owner,
				ancestors: ancestors,
				branch:    branch,
			})
			return
		case KindDelay:
			// Idle time never conflicts.
			return
		}

		childAncestors := ancestors
		childOwner := owner
		childBranch := branch
		switch n.Kind {
		case KindSection, KindSweep, KindIteration, KindRTLoop, KindMatch:
			childAncestors = copySet(ancestors)
			childAncestors[n.UID] = true
			childOwner = n.UID
		case KindCase:
			childAncestors = copySet(ancestors)
			childAncestors[n.UID] = true
			childOwner = n.UID
			childBranch = copyBranch(branch)
			// The parent match's uid is the owner seen from here.
			childBranch[owner] = n.State
		}
		for _, c := range n.Children {
			walk(c, childOwner, childAncestors, childBranch)
		}
	}
	walk(root, root.UID, map[string]bool{root.UID: true}, map[string]int{})

	lines := make([]string, 0, len(perLine))
	for l := range perLine {
		lines = append(lines, l)
	}
	sort.Strings(lines)

	for _, line := range lines {
		ivs := perLine[line]
		sort.Slice(ivs, func(i, j int) bool {
			if ivs[i].start != ivs[j].start {
				return ivs[i].start < ivs[j].start
			}
			return ivs[i].uid < ivs[j].uid
		})
		for i := 0; i < len(ivs); i++ {
			for j := i + 1; j < len(ivs); j++ {
				a, b := ivs[i], ivs[j]
				if b.start >= a.end {
					break
				}
				if exclusive(a, b) {
					continue
				}
				if a.reserve && b.ancestors[a.owner] {
					continue
				}
				if b.reserve && a.ancestors[b.owner] {
					continue
				}
				s.errf(diagnostics.ErrT201, b.uid,
					"overlaps %q on channel %q", a.uid, line).
					WithWindow(b.start, min64(a.end, b.end))
			}
		}
	}
}

func copySet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyBranch(m map[string]int) map[string]int {
	out := make(map[string]int, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
