package window

import (
	"errors"
	"sort"

	"github.com/samsaffron/term-agent/internal/transcript"
)

// ErrPinnedOverBudget is returned when the turns that may never be dropped
// already exceed the budget on their own.
var ErrPinnedOverBudget = errors.New("pinned context exceeds token budget")

// Report describes what a Trim call did.
type Report struct {
	Dropped    []int64 `json:"dropped,omitempty"`
	CostBefore int     `json:"cost_before"`
	CostAfter  int     `json:"cost_after"`
	Pending    int     `json:"pending"`
	Budget     int     `json:"budget"`
}

// Trimmed reports whether any turn was dropped.
func (r Report) Trimmed() bool {
	return len(r.Dropped) > 0
}

// Trim drops the oldest unpinned turns until the memoized turn cost plus
// pending fits in budget. Pinned turns are system turns, turns with a Pin,
// and the most recent user turn. An assistant turn that issued tool calls and
// the result turns answering them are dropped together. Ties are broken by
// Seq only.
//
// A budget <= 0 means unbounded and returns turns unchanged. When the pinned
// turns alone do not fit, turns are returned unchanged with
// ErrPinnedOverBudget.
func Trim(turns []transcript.Turn, pending, budget int) ([]transcript.Turn, Report, error) {
	before := transcript.TotalCost(turns)
	report := Report{CostBefore: before, CostAfter: before, Pending: pending, Budget: budget}
	if budget <= 0 || before+pending <= budget {
		return turns, report, nil
	}

	groups := pairGroups(turns)
	lastUser := transcript.LastUserIndex(turns)

	pinnedCost := 0
	var droppable []*group
	for _, g := range groups {
		for _, i := range g.members {
			if i == lastUser || turns[i].Pinned() {
				g.pinned = true
				break
			}
		}
		if g.pinned {
			pinnedCost += g.cost
			continue
		}
		droppable = append(droppable, g)
	}
	if pinnedCost+pending > budget {
		return turns, report, ErrPinnedOverBudget
	}

	sort.SliceStable(droppable, func(a, b int) bool {
		return turns[droppable[a].first].Seq < turns[droppable[b].first].Seq
	})

	drop := make(map[int]bool)
	total := before
	for _, g := range droppable {
		if total+pending <= budget {
			break
		}
		for _, i := range g.members {
			drop[i] = true
		}
		total -= g.cost
	}

	kept := make([]transcript.Turn, 0, len(turns)-len(drop))
	for i, t := range turns {
		if drop[i] {
			report.Dropped = append(report.Dropped, t.Seq)
			continue
		}
		kept = append(kept, t)
	}
	report.CostAfter = total
	return kept, report, nil
}

type group struct {
	members []int
	first   int
	cost    int
	pinned  bool
}

// pairGroups partitions turns so each tool-issuing assistant turn shares a
// group with every result turn that answers it. Other turns stand alone.
func pairGroups(turns []transcript.Turn) []*group {
	parent := make([]int, len(turns))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	issuedBy := make(map[string]int)
	for i, t := range turns {
		if t.Role == transcript.RoleAssistant {
			for _, id := range t.Calls {
				issuedBy[id] = i
			}
		}
	}
	for i, t := range turns {
		if t.Role != transcript.RoleToolResult {
			continue
		}
		for _, id := range t.Calls {
			if a, ok := issuedBy[id]; ok {
				union(a, i)
			}
		}
	}

	byRoot := make(map[int]*group)
	var groups []*group
	for i, t := range turns {
		root := find(i)
		g, ok := byRoot[root]
		if !ok {
			g = &group{first: i}
			byRoot[root] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, i)
		g.cost += t.Cost
	}
	return groups
}
