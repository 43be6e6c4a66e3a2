package resolver

import (
	"errors"
	"sort"

	graphlib "github.com/dominikbraun/graph"
)

// Kind classifies a deployable artifact.
type Kind int

const (
	KindExecutable Kind = iota
	KindLibrary
	KindPlugin
	KindQmlModule
	KindTranslation
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindExecutable:
		return "executable"
	case KindLibrary:
		return "library"
	case KindPlugin:
		return "plugin"
	case KindQmlModule:
		return "qml-module"
	case KindTranslation:
		return "translation"
	case KindData:
		return "data"
	}
	return "unknown"
}

// Node identifies one deployable artifact. Nodes are immutable once
// discovered; identity is the absolute source path.
type Node struct {
	Kind    Kind
	Path    string // absolute source path; a directory for qml modules and locale bundles
	Name    string // soname, file name or module URI
	Group   string // plugin group, only for KindPlugin
	RelPath string // path below the SDK qml root, only for KindQmlModule
	IsDir   bool
}

// Graph is the dependency graph of one resolution run. It is built by
// Resolve and never mutated afterwards. Cycles between shared libraries
// are legal; the visited-set discipline in the resolver guarantees each
// node is inspected exactly once regardless.
type Graph struct {
	g        graphlib.Graph[string, Node]
	order    []string
	External []string // sonames satisfied by the target system, never deployed
	Warnings []error
}

func NewGraph() *Graph {
	return &Graph{
		g: graphlib.New(func(n Node) string { return n.Path }, graphlib.Directed()),
	}
}

// Add inserts n and reports whether it was not present before.
func (dg *Graph) Add(n Node) bool {
	if err := dg.g.AddVertex(n); errors.Is(err, graphlib.ErrVertexAlreadyExists) {
		return false
	}
	dg.order = append(dg.order, n.Path)
	return true
}

// addEdge records that the node at from directly requires the node at to.
// Parallel edges collapse silently.
func (dg *Graph) addEdge(from, to string) {
	if from == to {
		return
	}
	err := dg.g.AddEdge(from, to)
	if err != nil && errors.Is(err, graphlib.ErrEdgeAlreadyExists) == false {
		dg.Warnings = append(dg.Warnings, err)
	}
}

// Node returns the node with the given source path.
func (dg *Graph) Node(path string) (Node, bool) {
	n, err := dg.g.Vertex(path)
	if err != nil {
		return Node{}, false
	}
	return n, true
}

// Nodes returns all nodes in discovery order.
func (dg *Graph) Nodes() []Node {
	nodes := make([]Node, 0, len(dg.order))
	for _, path := range dg.order {
		if n, ok := dg.Node(path); ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Requires returns the direct dependencies of the node at path, sorted
// by source path.
func (dg *Graph) Requires(path string) []Node {
	adjacency, err := dg.g.AdjacencyMap()
	if err != nil {
		return nil
	}
	var deps []Node
	for target := range adjacency[path] {
		if n, ok := dg.Node(target); ok {
			deps = append(deps, n)
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Path < deps[j].Path })
	return deps
}

// Len returns the number of nodes in the graph.
func (dg *Graph) Len() int {
	return len(dg.order)
}
