// Package hierarchy implements the agent delegation tree (spec.md §4.2):
// a bounded-depth parent/child graph with an escalation chain that
// terminates at a synthetic "human" ancestor, and certificate
// attenuation for issuing narrower child certificates.
package hierarchy

import (
	"context"
	"sort"
	"sync"

	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/eventbus"
	"github.com/aesp-labs/aesp-core/pkg/storage"
	"go.uber.org/zap"
)

// MaxDepth bounds node depth. Root nodes sit at depth 0; depths 0 to
// MaxDepth-1 (0-4) are legal, so a node at depth 4 cannot gain a child.
const MaxDepth = 5

// HumanNodeID names the virtual synthetic ancestor every escalation
// chain terminates at, even for root agents that have no real parent.
const HumanNodeID = "human"

// Node is one agent's position in the hierarchy.
type Node struct {
	AgentID        string   `json:"agentId"`
	Label          string   `json:"label"`
	ParentAgentID  string   `json:"parentAgentId,omitempty"`
	Children       []string `json:"children"`
	Depth          int      `json:"depth"`
}

// Tree is the in-memory delegation hierarchy, persisted as a flat node
// list (spec.md §4.2: "rebuilt on load by linking children in a second
// pass").
type Tree struct {
	mu    sync.Mutex
	nodes map[string]*Node
	store storage.Store
	log   *zap.Logger
	bus   *eventbus.Bus
}

// New constructs an empty Tree backed by store for persistence. bus, if
// non-nil, receives "hierarchy.node_added" / "hierarchy.node_removed"
// events.
func New(store storage.Store, bus *eventbus.Bus, log *zap.Logger) *Tree {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tree{nodes: make(map[string]*Node), store: store, bus: bus, log: log}
}

// Load rebuilds the tree from the flat persisted node list.
func (t *Tree) Load(ctx context.Context) error {
	var flat []*Node
	found, err := t.store.Get(ctx, storage.KeyAgentHierarchy, &flat)
	if err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "load hierarchy", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = make(map[string]*Node, len(flat))
	for _, n := range flat {
		n.Children = nil
		t.nodes[n.AgentID] = n
	}
	if found {
		for _, n := range t.nodes {
			if n.ParentAgentID == "" {
				continue
			}
			if parent, ok := t.nodes[n.ParentAgentID]; ok {
				parent.Children = append(parent.Children, n.AgentID)
			}
		}
		for _, n := range t.nodes {
			sort.Strings(n.Children)
		}
	}
	return nil
}

func (t *Tree) flush(ctx context.Context) error {
	flat := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		cp := *n
		cp.Children = append([]string(nil), n.Children...)
		flat = append(flat, &cp)
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i].AgentID < flat[j].AgentID })
	if err := t.store.Set(ctx, storage.KeyAgentHierarchy, flat); err != nil {
		return aesperrors.Wrap(aesperrors.CryptoError, "persist hierarchy", err)
	}
	return nil
}

// AddRoot inserts a depth-0 node with no parent.
func (t *Tree) AddRoot(ctx context.Context, agentID, label string) (*Node, error) {
	return t.addNode(ctx, agentID, label, "")
}

// AddChild inserts agentID as a child of parentAgentID. Fails if
// parentAgentID doesn't exist, if agentID already exists, or if the
// parent is already at MaxDepth-1 (spec.md §4.2).
func (t *Tree) AddChild(ctx context.Context, agentID, label, parentAgentID string) (*Node, error) {
	if parentAgentID == "" {
		return nil, aesperrors.New(aesperrors.InvalidCommitmentState, "parentAgentID is required")
	}
	return t.addNode(ctx, agentID, label, parentAgentID)
}

func (t *Tree) addNode(ctx context.Context, agentID, label, parentAgentID string) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if agentID == parentAgentID {
		return nil, aesperrors.New(aesperrors.InvalidCommitmentState, "an agent may not be its own parent")
	}
	if _, exists := t.nodes[agentID]; exists {
		return nil, aesperrors.New(aesperrors.InvalidCommitmentState, "agentId already present in hierarchy")
	}

	depth := 0
	var parent *Node
	if parentAgentID != "" {
		var ok bool
		parent, ok = t.nodes[parentAgentID]
		if !ok {
			return nil, aesperrors.New(aesperrors.InvalidCommitmentState, "parentAgentId does not reference an existing node")
		}
		if parent.Depth >= MaxDepth-1 {
			return nil, aesperrors.New(aesperrors.InvalidCommitmentState, "maximum hierarchy depth exceeded")
		}
		depth = parent.Depth + 1
	}

	node := &Node{AgentID: agentID, Label: label, ParentAgentID: parentAgentID, Depth: depth}
	t.nodes[agentID] = node
	if parent != nil {
		parent.Children = append(parent.Children, agentID)
		sort.Strings(parent.Children)
	}

	if err := t.flush(ctx); err != nil {
		return nil, err
	}
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Topic: "hierarchy.node_added", Payload: node})
	}
	return node, nil
}

// Remove deletes agentID and every descendant, recursively.
func (t *Tree) Remove(ctx context.Context, agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[agentID]
	if !ok {
		return aesperrors.New(aesperrors.InvalidCommitmentState, "agentId not found in hierarchy")
	}

	removed := t.collectSubtree(agentID)
	for _, id := range removed {
		delete(t.nodes, id)
	}
	if node.ParentAgentID != "" {
		if parent, ok := t.nodes[node.ParentAgentID]; ok {
			parent.Children = removeString(parent.Children, agentID)
		}
	}

	if err := t.flush(ctx); err != nil {
		return err
	}
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Topic: "hierarchy.node_removed", Payload: removed})
	}
	return nil
}

func (t *Tree) collectSubtree(agentID string) []string {
	node, ok := t.nodes[agentID]
	if !ok {
		return nil
	}
	out := []string{agentID}
	for _, child := range node.Children {
		out = append(out, t.collectSubtree(child)...)
	}
	return out
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, v := range list {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

// Get returns the node for agentID, if present.
func (t *Tree) Get(agentID string) (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[agentID]
	return n, ok
}

// EscalationChain walks agentID up through its ancestors to the
// synthetic "human" node, which always terminates the chain — even for
// a root agent with no recorded parent.
func (t *Tree) EscalationChain(agentID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var chain []string
	current, ok := t.nodes[agentID]
	if !ok {
		return []string{HumanNodeID}
	}
	chain = append(chain, current.AgentID)
	for current.ParentAgentID != "" {
		parent, ok := t.nodes[current.ParentAgentID]
		if !ok {
			break
		}
		chain = append(chain, parent.AgentID)
		current = parent
	}
	chain = append(chain, HumanNodeID)
	return chain
}

// IsAncestor reports whether ancestorID appears anywhere above
// descendantID in the tree.
func (t *Tree) IsAncestor(ancestorID, descendantID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[descendantID]
	if !ok {
		return false
	}
	for node.ParentAgentID != "" {
		if node.ParentAgentID == ancestorID {
			return true
		}
		parent, ok := t.nodes[node.ParentAgentID]
		if !ok {
			return false
		}
		node = parent
	}
	return false
}

// Descendants collects every agentID in agentID's subtree, excluding
// agentID itself.
func (t *Tree) Descendants(agentID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[agentID]
	if !ok {
		return nil
	}
	var out []string
	for _, child := range node.Children {
		out = append(out, t.collectSubtree(child)...)
	}
	return out
}
