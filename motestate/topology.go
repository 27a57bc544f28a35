package motestate

import (
	"fmt"
	"sort"
)

// Edge is one child to preferred-parent relation of the routing DAG.
type Edge struct {
	Child  string `json:"child"`
	Parent string `json:"parent"`
}

// Graph is the connectivity view: every mote that reported a status plus
// the preferred-parent relation between them.
type Graph struct {
	Nodes []string `json:"nodes"`
	Edges []Edge   `json:"edges"`
}

// BuildDAG extracts the routing tree from the latest status of every
// mote: one edge per mote that reports a preferred parent. Motes that
// never reported are skipped.
func BuildDAG(states []*MoteState) []Edge {
	edges := make([]Edge, 0, len(states))
	for _, ms := range states {
		if !ms.Seen() {
			continue
		}
		st := ms.Snapshot()
		for _, nbr := range st.Neighbors {
			if nbr.PreferredParent {
				edges = append(edges, Edge{
					Child:  addrString(st.Addr16),
					Parent: addrString(nbr.Addr16),
				})
				break
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Child < edges[j].Child })
	return edges
}

// Connectivity collects the nodes that reported so far and the
// preferred-parent edges between them. Silent motes stay off the graph.
func Connectivity(states []*MoteState) Graph {
	g := Graph{
		Nodes: make([]string, 0, len(states)),
		Edges: BuildDAG(states),
	}
	for _, ms := range states {
		if !ms.Seen() {
			continue
		}
		g.Nodes = append(g.Nodes, addrString(ms.Addr16()))
	}
	sort.Strings(g.Nodes)
	return g
}

func addrString(addr uint16) string { return fmt.Sprintf("%04x", addr) }
