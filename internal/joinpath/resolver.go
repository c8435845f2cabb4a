// Package joinpath resolves how rows of one dataset are brought onto the
// primary dataset through declared relationships.
package joinpath

import (
	"math"
	"sort"
	"sync"

	"vizflow/internal/domain"
)

type edge struct {
	from string
	to   string
	key  string
}

// Resolver finds the shortest hop list from any dataset to the primary
// dataset. Results are cached per dataset until the relationship graph
// changes. A Resolver is safe for concurrent use.
type Resolver struct {
	primary string

	mu    sync.Mutex
	rels  []domain.Relationship
	cache map[string]result
}

type result struct {
	hops []domain.JoinHop
	err  error
}

// NewResolver creates a resolver over rels toward primary.
func NewResolver(primary string, rels []domain.Relationship) *Resolver {
	return &Resolver{
		primary: primary,
		rels:    append([]domain.Relationship(nil), rels...),
		cache:   make(map[string]result),
	}
}

// Primary returns the dataset every path terminates at.
func (r *Resolver) Primary() string { return r.primary }

// Relationships returns a copy of the current graph.
func (r *Resolver) Relationships() []domain.Relationship {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Relationship(nil), r.rels...)
}

// SetRelationships replaces the graph and drops every cached path.
func (r *Resolver) SetRelationships(rels []domain.Relationship) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rels = append([]domain.Relationship(nil), rels...)
	r.cache = make(map[string]result)
}

// AddRelationship adds one edge and drops every cached path.
func (r *Resolver) AddRelationship(rel domain.Relationship) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rels = append(r.rels, rel)
	r.cache = make(map[string]result)
}

// RemoveDataset drops every relationship touching dataset and every cached
// path.
func (r *Resolver) RemoveDataset(dataset string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rels[:0:0]
	for _, rel := range r.rels {
		if rel.From == dataset || rel.To == dataset {
			continue
		}
		kept = append(kept, rel)
	}
	r.rels = kept
	r.cache = make(map[string]result)
}

// Invalidate drops every cached path.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]result)
}

// Resolve returns the hops from datasetID to the primary dataset, nearest
// hop first. It fails with a JoinPathError when no path exists, when more
// than one shortest path exists, or when a relationship cycle is reachable
// from datasetID.
func (r *Resolver) Resolve(datasetID string) ([]domain.JoinHop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.cache[datasetID]; ok {
		return cloneHops(res.hops), res.err
	}
	hops, err := shortestPath(datasetID, r.primary, r.rels)
	r.cache[datasetID] = result{hops: hops, err: err}
	return cloneHops(hops), err
}

func cloneHops(h []domain.JoinHop) []domain.JoinHop {
	if h == nil {
		return nil
	}
	return append([]domain.JoinHop(nil), h...)
}

func adjacency(rels []domain.Relationship) map[string][]edge {
	adj := map[string][]edge{}
	seen := map[edge]bool{}
	for _, rel := range rels {
		e := edge{from: rel.From, to: rel.To, key: rel.Key}
		if seen[e] {
			continue
		}
		seen[e] = true
		adj[e.from] = append(adj[e.from], e)
	}
	for from := range adj {
		sort.Slice(adj[from], func(i, j int) bool {
			a, b := adj[from][i], adj[from][j]
			if a.to != b.to {
				return a.to < b.to
			}
			return a.key < b.key
		})
	}
	return adj
}

func shortestPath(base, target string, rels []domain.Relationship) ([]domain.JoinHop, error) {
	if base == target {
		return nil, nil
	}
	adj := adjacency(rels)

	if cycle := findCycle(base, adj); cycle {
		return nil, &domain.JoinPathError{From: base, To: target, Reason: domain.JoinPathCycle}
	}

	dist := map[string]int{base: 0}
	pathCount := map[string]int{base: 1}
	parents := map[string][]edge{}
	queue := []string{base}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			nd := dist[cur] + 1
			cd, ok := dist[next.to]
			if !ok {
				cd = math.MaxInt
			}

			if nd < cd {
				dist[next.to] = nd
				pathCount[next.to] = pathCount[cur]
				parents[next.to] = []edge{next}
				queue = append(queue, next.to)
			} else if nd == cd {
				pathCount[next.to] += pathCount[cur]
				parents[next.to] = append(parents[next.to], next)
			}
		}
	}

	if _, ok := dist[target]; !ok {
		return nil, &domain.JoinPathError{From: base, To: target, Reason: domain.JoinPathNoPath}
	}

	if pathCount[target] > 1 {
		return nil, &domain.JoinPathError{
			From:       base,
			To:         target,
			Reason:     domain.JoinPathAmbiguous,
			Candidates: enumerate(base, target, parents),
		}
	}

	hops := []domain.JoinHop{}
	cur := target
	for cur != base {
		e := parents[cur][0]
		hops = append(hops, domain.JoinHop{From: e.from, To: e.to, Key: e.key})
		cur = e.from
	}
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	return hops, nil
}

// findCycle reports whether a directed cycle is reachable from start.
func findCycle(start string, adj map[string][]edge) bool {
	const (
		white = iota
		grey
		black
	)
	color := map[string]int{}
	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = grey
		for _, e := range adj[n] {
			switch color[e.to] {
			case grey:
				return true
			case white:
				if visit(e.to) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	return visit(start)
}

// enumerate lists every shortest path from base to target using the BFS
// parent sets. The graph is acyclic here, so the walk terminates.
func enumerate(base, target string, parents map[string][]edge) [][]domain.JoinHop {
	var out [][]domain.JoinHop
	var walk func(cur string, suffix []domain.JoinHop)
	walk = func(cur string, suffix []domain.JoinHop) {
		if cur == base {
			path := make([]domain.JoinHop, len(suffix))
			for i := range suffix {
				path[i] = suffix[len(suffix)-1-i]
			}
			out = append(out, path)
			return
		}
		for _, e := range parents[cur] {
			walk(e.from, append(append([]domain.JoinHop(nil), suffix...), domain.JoinHop{From: e.from, To: e.to, Key: e.key}))
		}
	}
	walk(target, nil)
	return out
}
