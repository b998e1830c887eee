package link

import (
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/GrigoryEvko/rtlink/internal/graph"
)

// cyclicNodes returns the UIDs of records that sit on a reference cycle,
// including records that reference themselves.
func cyclicNodes(p *graph.Patient) map[string]bool {
	g := simple.NewDirectedGraph()
	ids := make(map[string]int64, len(p.UIDs))
	for i, uid := range p.UIDs {
		ids[uid] = int64(i)
		g.AddNode(simple.Node(i))
	}
	for _, e := range p.Edges {
		from, to := ids[e.From], ids[e.To]
		// simple graphs reject self loops; those are tracked on the node
		if from == to {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(from), simple.Node(to)))
	}

	cyclic := make(map[string]bool)
	for _, component := range topo.TarjanSCC(g) {
		if len(component) < 2 {
			continue
		}
		for _, n := range component {
			cyclic[p.UIDs[n.ID()]] = true
		}
	}
	for _, uid := range p.UIDs {
		if p.Nodes[uid].SelfReference {
			cyclic[uid] = true
		}
	}
	return cyclic
}
