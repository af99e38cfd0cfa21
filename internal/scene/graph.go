package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// NoParent marks a root node.
const NoParent = -1

// Node is one entry of a Graph.
type Node struct {
	Name   string
	Parent int
	Local  mgl32.Mat4
}

// Graph is a forest of transform nodes stored in a slice and addressed by index.
type Graph struct {
	nodes []Node
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// Add appends a root node and returns its index.
func (g *Graph) Add(name string, local mgl32.Mat4) int {
	g.nodes = append(g.nodes, Node{Name: name, Parent: NoParent, Local: local})
	return len(g.nodes) - 1
}

// SetParent attaches child under parent. It rejects unknown indices and any
// link that would make child its own ancestor.
func (g *Graph) SetParent(child, parent int) error {
	if child < 0 || child >= len(g.nodes) {
		return fmt.Errorf("scene: node %d out of range", child)
	}
	if parent == NoParent {
		g.nodes[child].Parent = NoParent
		return nil
	}
	if parent < 0 || parent >= len(g.nodes) {
		return fmt.Errorf("scene: parent %d out of range", parent)
	}
	for p := parent; p != NoParent; p = g.nodes[p].Parent {
		if p == child {
			return fmt.Errorf("scene: parenting %q under %q creates a cycle", g.nodes[child].Name, g.nodes[parent].Name)
		}
	}
	g.nodes[child].Parent = parent
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns node i.
func (g *Graph) Node(i int) Node { return g.nodes[i] }

// Find returns the index of the first node with the given name.
func (g *Graph) Find(name string) (int, bool) {
	for i := range g.nodes {
		if g.nodes[i].Name == name {
			return i, true
		}
	}
	return NoParent, false
}

// Children returns the direct children of node i, in insertion order.
func (g *Graph) Children(i int) []int {
	var out []int
	for j := range g.nodes {
		if g.nodes[j].Parent == i {
			out = append(out, j)
		}
	}
	return out
}

// WorldTransforms returns parent-to-root concatenated transforms for every
// node. Traversal uses an explicit stack so depth is bounded only by memory.
func (g *Graph) WorldTransforms() []mgl32.Mat4 {
	children := make([][]int, len(g.nodes))
	var stack []int
	for i, n := range g.nodes {
		if n.Parent == NoParent {
			stack = append(stack, i)
		} else {
			children[n.Parent] = append(children[n.Parent], i)
		}
	}

	world := make([]mgl32.Mat4, len(g.nodes))
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &g.nodes[i]
		if n.Parent == NoParent {
			world[i] = n.Local
		} else {
			world[i] = world[n.Parent].Mul4(n.Local)
		}
		stack = append(stack, children[i]...)
	}
	return world
}
