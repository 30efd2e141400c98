package routing

import (
	"context"
	"sort"

	"meshcore/internal/meshcrypto/kademlia"
)

// FindNodeFunc queries one remote node for its closest known contacts to
// target. It is supplied by the transport layer; this package has no
// opinion on how FIND_NODE is actually carried over the wire.
type FindNodeFunc func(ctx context.Context, to kademlia.Contact, target kademlia.ID) ([]kademlia.Contact, error)

// Lookup runs an iterative Kademlia FIND_NODE converging on the k closest
// known nodes to target (spec §4.6): 160-bit XOR metric, k=20, parallelism
// α=3. It is used by the discovery collaborator to translate a peer id to
// reachable endpoints; application messages never traverse this path.
func Lookup(ctx context.Context, table *kademlia.Table, target kademlia.ID, query FindNodeFunc) []kademlia.Contact {
	queried := make(map[kademlia.ID]bool)
	shortlist := table.Closest(target, kademlia.K)

	for {
		candidates := unqueried(shortlist, queried)
		if len(candidates) == 0 {
			break
		}
		if len(candidates) > kademlia.Alpha {
			candidates = candidates[:kademlia.Alpha]
		}

		progressed := false
		for _, c := range candidates {
			queried[c.ID] = true
			results, err := query(ctx, c, target)
			if err != nil {
				continue
			}
			for _, r := range results {
				table.Observe(r)
			}
			before := closestDistance(shortlist, target)
			shortlist = mergeClosest(shortlist, results, target, kademlia.K)
			after := closestDistance(shortlist, target)
			if after != before {
				progressed = true
			}
		}
		if !progressed {
			break
		}
		select {
		case <-ctx.Done():
			return shortlist
		default:
		}
	}
	return shortlist
}

func unqueried(contacts []kademlia.Contact, queried map[kademlia.ID]bool) []kademlia.Contact {
	out := make([]kademlia.Contact, 0, len(contacts))
	for _, c := range contacts {
		if !queried[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func mergeClosest(existing, fresh []kademlia.Contact, target kademlia.ID, n int) []kademlia.Contact {
	seen := make(map[kademlia.ID]bool, len(existing))
	merged := make([]kademlia.Contact, 0, len(existing)+len(fresh))
	for _, c := range existing {
		seen[c.ID] = true
		merged = append(merged, c)
	}
	for _, c := range fresh {
		if !seen[c.ID] {
			seen[c.ID] = true
			merged = append(merged, c)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		return kademlia.Less(kademlia.Distance(merged[i].ID, target), kademlia.Distance(merged[j].ID, target))
	})
	if len(merged) > n {
		merged = merged[:n]
	}
	return merged
}

func closestDistance(contacts []kademlia.Contact, target kademlia.ID) kademlia.ID {
	if len(contacts) == 0 {
		var max kademlia.ID
		for i := range max {
			max[i] = 0xFF
		}
		return max
	}
	return kademlia.Distance(contacts[0].ID, target)
}
