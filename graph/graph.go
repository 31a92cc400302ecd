// Package graph is a small state-machine engine: named nodes connected by
// static edges and condition nodes that pick the next node from the current
// state. Execution is strictly sequential, one node at a time, which is all
// a single query traversal needs; loops are permitted and bounded by a
// max-visit guard.
package graph

import (
	"context"
	"fmt"
)

// NodeType represents the type of a node in the graph
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeLLM       NodeType = "llm"
	NodeTypeTool      NodeType = "tool"
	NodeTypeCondition NodeType = "condition"
	NodeTypeCustom    NodeType = "custom"
)

// State represents the execution state passed between nodes
type State map[string]any

// NodeFunc is the function executed by a node
type NodeFunc func(context.Context, State) (State, error)

// ConditionFunc evaluates a condition and returns a routing label
type ConditionFunc func(context.Context, State) (string, error)

// Node represents a node in the execution graph
type Node struct {
	Name      string
	Type      NodeType
	Execute   NodeFunc
	Condition ConditionFunc     // Only for condition nodes
	Next      string            // Static successor for non-condition nodes
	NextMap   map[string]string // For condition nodes: routing label -> next node
}

// Graph represents an execution flow graph
type Graph struct {
	nodes     map[string]*Node
	startNode string
	maxVisits int
}

// NewGraph creates a new graph
func NewGraph() *Graph {
	return &Graph{
		nodes:     make(map[string]*Node),
		maxVisits: 10,
	}
}

func (g *Graph) validateNode(node *Node) {
	if node.Name == "" {
		panic("node name cannot be empty")
	}

	switch node.Type {
	case NodeTypeCondition:
		if node.Condition == nil {
			panic(fmt.Sprintf("condition node %s must have non-nil Condition function", node.Name))
		}
	default:
		if node.Execute == nil {
			panic(fmt.Sprintf("node %s of type %s must have non-nil Execute function", node.Name, node.Type))
		}
	}
}

// AddNode adds a node to the graph
func (g *Graph) AddNode(node *Node) {
	if _, exists := g.nodes[node.Name]; exists {
		panic(fmt.Sprintf("node %s already exists", node.Name))
	}

	g.validateNode(node)

	g.nodes[node.Name] = node

	if node.Type == NodeTypeStart {
		g.startNode = node.Name
	}
}

// SetStartNode sets the start node
func (g *Graph) SetStartNode(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	g.startNode = name
}

// SetMaxVisits sets the maximum number of visits to a node
func (g *Graph) SetMaxVisits(maxVisits int) {
	g.maxVisits = maxVisits
}

// GetNode returns a node by name
func (g *Graph) GetNode(name string) (*Node, error) {
	node, exists := g.nodes[name]
	if !exists {
		return nil, fmt.Errorf("node %s not found", name)
	}
	return node, nil
}

// Execute walks the graph from the start node until an end node runs or the
// context is cancelled. Condition nodes do not mutate state; they only pick
// the next node. Revisiting a node more than maxVisits times aborts the run.
func (g *Graph) Execute(ctx context.Context, initialState State) (State, error) {
	if g.startNode == "" {
		return nil, fmt.Errorf("start node not set")
	}

	state := initialState
	if state == nil {
		state = make(State)
	}

	visited := make(map[string]int)
	current := g.startNode

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node, exists := g.nodes[current]
		if !exists {
			return nil, fmt.Errorf("node %s not found", current)
		}

		visited[current]++
		if visited[current] > g.maxVisits {
			return nil, fmt.Errorf("infinite loop detected at node %s", current)
		}

		if node.Type == NodeTypeCondition {
			label, err := node.Condition(ctx, state)
			if err != nil {
				return nil, fmt.Errorf("error evaluating condition at node %s: %w", node.Name, err)
			}
			next, ok := node.NextMap[label]
			if !ok || next == "" {
				return nil, fmt.Errorf("no next node for label %q at node %s", label, node.Name)
			}
			current = next
			continue
		}

		var err error
		state, err = node.Execute(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("error executing node %s: %w", node.Name, err)
		}

		if node.Type == NodeTypeEnd {
			return state, nil
		}

		if node.Next == "" {
			return nil, fmt.Errorf("no next node specified for node %s", node.Name)
		}
		current = node.Next
	}
}

// Builder helps build graphs fluently
type Builder struct {
	graph *Graph
}

// NewBuilder creates a new graph builder
func NewBuilder() *Builder {
	return &Builder{
		graph: NewGraph(),
	}
}

// AddNode adds a node to the graph
func (b *Builder) AddNode(name string, nodeType NodeType, execute NodeFunc) *Builder {
	b.graph.AddNode(&Node{
		Name:    name,
		Type:    nodeType,
		Execute: execute,
	})
	return b
}

// AddConditionNode adds a condition node
func (b *Builder) AddConditionNode(name string, condition ConditionFunc, nextMap map[string]string) *Builder {
	b.graph.AddNode(&Node{
		Name:      name,
		Type:      NodeTypeCondition,
		Condition: condition,
		NextMap:   nextMap,
	})
	return b
}

// AddEdge connects two nodes
func (b *Builder) AddEdge(from, to string) *Builder {
	node, exists := b.graph.nodes[from]
	if !exists {
		panic(fmt.Sprintf("node %s not found", from))
	}
	if node.Type == NodeTypeCondition {
		panic(fmt.Sprintf("node %s routes through its condition map", from))
	}
	node.Next = to
	return b
}

// SetStart sets the start node
func (b *Builder) SetStart(name string) *Builder {
	b.graph.SetStartNode(name)
	return b
}

// SetMaxVisits sets the maximum number of visits to a node
func (b *Builder) SetMaxVisits(maxVisits int) *Builder {
	b.graph.SetMaxVisits(maxVisits)
	return b
}

// Build returns the constructed graph
func (b *Builder) Build() *Graph {
	return b.graph
}
