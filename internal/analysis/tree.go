// Package analysis aggregates log occurrences into an inverted call tree
// keyed by stack-frame path.
//
// Nodes live in a flat arena and refer to each other by NodeID, so the tree
// has no pointer cycles and can be serialized as-is. A Tree is not safe for
// concurrent use; the owning store serializes access.
package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/charliek/stackscope/internal/domain"
)

// NodeID indexes a node in the tree arena
type NodeID int

const (
	// RootID is the payload-free root of every tree
	RootID NodeID = 0
	// NoParent is the parent of the root
	NoParent NodeID = -1
)

// UnknownLabel names the synthetic child collecting records without frames
const UnknownLabel = "<unknown frame>"

// Node is one (class, method) pair at a given depth
type Node struct {
	ID           NodeID            `json:"id"`
	Parent       NodeID            `json:"parent"`
	Depth        int               `json:"depth"`
	Frame        domain.StackFrame `json:"frame"`
	Unknown      bool              `json:"unknown,omitempty"`
	Counts       domain.Counts     `json:"counts"`
	Expanded     bool              `json:"expanded"`
	Visible      bool              `json:"visible"`
	SearchActive bool              `json:"search_active"`
	Children     []NodeID          `json:"children,omitempty"`
}

// Label is the text search and display operate on
func (n *Node) Label() string {
	if n.Unknown {
		return UnknownLabel
	}
	return n.Frame.Label()
}

// TotalCount is the sum of the per-severity counts
func (n *Node) TotalCount() int {
	return n.Counts.Total()
}

// Columns are the per-node values exposed to presentation
type Columns struct {
	Total   int `json:"total"`
	Info    int `json:"info"`
	Warning int `json:"warning"`
	Error   int `json:"error"`
}

type childKey struct {
	parent  NodeID
	class   string
	method  string
	unknown bool
}

// Tree is the stack-path aggregation tree
type Tree struct {
	nodes  []Node
	index  map[childKey]NodeID
	search string
	match  matcher
}

// NewTree creates an empty tree holding only the root
func NewTree() *Tree {
	t := &Tree{}
	t.Reset()
	return t
}

// Reset discards every node except an empty root
func (t *Tree) Reset() {
	t.nodes = []Node{{ID: RootID, Parent: NoParent, Expanded: true, Visible: true}}
	t.index = make(map[childKey]NodeID)
	t.search = ""
	t.match = matcher{}
}

// Len returns the number of nodes, root included
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Insert routes record through the tree, outermost frame first, and counts
// its severity on every node along the path
func (t *Tree) Insert(record *domain.LogRecord) {
	if len(record.Frames) == 0 {
		id := t.child(RootID, domain.StackFrame{}, true)
		t.nodes[id].Counts.Add(record.Severity, 1)
		return
	}

	parent := RootID
	for i := len(record.Frames) - 1; i >= 0; i-- {
		id := t.child(parent, record.Frames[i], false)
		t.nodes[id].Counts.Add(record.Severity, 1)
		parent = id
	}
}

func (t *Tree) child(parent NodeID, frame domain.StackFrame, unknown bool) NodeID {
	key := childKey{parent: parent, unknown: unknown}
	if !unknown {
		key.class = frame.ClassName
		key.method = frame.MethodName
	}
	if id, ok := t.index[key]; ok {
		return id
	}

	id := NodeID(len(t.nodes))
	node := Node{
		ID:      id,
		Parent:  parent,
		Depth:   t.nodes[parent].Depth + 1,
		Frame:   frame,
		Unknown: unknown,
		Visible: true,
	}
	if t.search != "" {
		node.SearchActive = true
		node.Visible = t.match.matches(node.Label())
	}
	t.nodes = append(t.nodes, node)
	t.nodes[parent].Children = append(t.nodes[parent].Children, id)
	t.index[key] = id
	return id
}

// Node returns a copy of the node with the given id
func (t *Tree) Node(id NodeID) (Node, error) {
	if id < 0 || int(id) >= len(t.nodes) {
		return Node{}, fmt.Errorf("node %d: %w", id, domain.ErrNodeNotFound)
	}
	n := t.nodes[id]
	n.Children = append([]NodeID(nil), n.Children...)
	return n, nil
}

// Root returns a copy of the root node
func (t *Tree) Root() Node {
	n, _ := t.Node(RootID)
	return n
}

// Columns returns total, info, warning and error counts for a node
func (t *Tree) Columns(id NodeID) (Columns, error) {
	n, err := t.Node(id)
	if err != nil {
		return Columns{}, err
	}
	return Columns{
		Total:   n.Counts.Total(),
		Info:    n.Counts.Info,
		Warning: n.Counts.Warning,
		Error:   n.Counts.Error,
	}, nil
}

// Total returns the number of records routed through the root's children
func (t *Tree) Total() int {
	total := 0
	for _, id := range t.nodes[RootID].Children {
		total += t.nodes[id].Counts.Total()
	}
	return total
}

// SetExpanded changes the expansion state of a node
func (t *Tree) SetExpanded(id NodeID, expanded bool) error {
	if id < 0 || int(id) >= len(t.nodes) {
		return fmt.Errorf("node %d: %w", id, domain.ErrNodeNotFound)
	}
	t.nodes[id].Expanded = expanded
	return nil
}

// Source returns the file location a node refers to, for jump-to-source.
// ok is false when the frame carried no location.
func (t *Tree) Source(id NodeID) (path string, line int, ok bool, err error) {
	n, err := t.Node(id)
	if err != nil {
		return "", domain.UnknownLine, false, err
	}
	if !n.Frame.HasSource() {
		return n.Frame.FilePath, n.Frame.LineNumber, false, nil
	}
	return n.Frame.FilePath, n.Frame.LineNumber, true, nil
}

// IsLeaf reports whether presentation should draw the node without children.
// A node matched by an active search is shown as a leaf.
func (t *Tree) IsLeaf(id NodeID) bool {
	n := &t.nodes[id]
	if n.SearchActive && n.Visible {
		return true
	}
	return len(n.Children) == 0
}

// Walk visits every node below the root in pre-order, parent before
// children. Returning false from fn skips the node's subtree.
func (t *Tree) Walk(fn func(n *Node) bool) {
	var visit func(id NodeID)
	visit = func(id NodeID) {
		for _, child := range t.nodes[id].Children {
			if fn(&t.nodes[child]) {
				visit(child)
			}
		}
	}
	visit(RootID)
}

// Column selects the count a sort orders by
type Column int

const (
	ColumnTotal Column = iota
	ColumnInfo
	ColumnWarning
	ColumnError
)

// ParseColumn converts a column name to a Column
func ParseColumn(name string) (Column, bool) {
	switch strings.ToLower(name) {
	case "", "total":
		return ColumnTotal, true
	case "info":
		return ColumnInfo, true
	case "warning", "warn":
		return ColumnWarning, true
	case "error":
		return ColumnError, true
	}
	return ColumnTotal, false
}

func (c Column) value(counts domain.Counts) int {
	switch c {
	case ColumnInfo:
		return counts.Info
	case ColumnWarning:
		return counts.Warning
	case ColumnError:
		return counts.Error
	default:
		return counts.Total()
	}
}

// Sort orders every node's children by column, descending unless ascending
// is set. Ties keep their current relative order.
func (t *Tree) Sort(column Column, ascending bool) {
	t.SortFunc(func(a, b domain.Counts) bool {
		if ascending {
			return column.value(a) < column.value(b)
		}
		return column.value(a) > column.value(b)
	})
}

// SortFunc orders every node's children in place with a caller-supplied
// strict ordering over counts
func (t *Tree) SortFunc(less func(a, b domain.Counts) bool) {
	for i := range t.nodes {
		children := t.nodes[i].Children
		sort.SliceStable(children, func(x, y int) bool {
			return less(t.nodes[children[x]].Counts, t.nodes[children[y]].Counts)
		})
	}
}

// Search marks nodes visible by matching their label against text. An empty
// text ends the search and makes every node visible again.
func (t *Tree) Search(text string) {
	t.search = text
	t.match = newMatcher(text)
	if text == "" {
		for i := range t.nodes {
			t.nodes[i].SearchActive = false
			t.nodes[i].Visible = true
		}
		return
	}

	for i := range t.nodes {
		if NodeID(i) == RootID {
			continue
		}
		t.nodes[i].SearchActive = true
		t.nodes[i].Visible = t.match.matches(t.nodes[i].Label())
	}
}

// SearchText returns the active search, empty when none
func (t *Tree) SearchText() string {
	return t.search
}

// Row is one line of the flattened tree as presentation shows it
type Row struct {
	ID       NodeID  `json:"id"`
	Depth    int     `json:"depth"`
	Label    string  `json:"label"`
	Leaf     bool    `json:"leaf"`
	Expanded bool    `json:"expanded"`
	Columns  Columns `json:"columns"`
}

// Rows flattens the displayed part of the tree. Under an active search it
// lists every matching node as a leaf; otherwise it descends only into
// expanded nodes.
func (t *Tree) Rows() []Row {
	var rows []Row
	searching := t.search != ""
	t.Walk(func(n *Node) bool {
		if searching {
			if n.Visible {
				rows = append(rows, t.row(n, 0))
			}
			return true
		}
		rows = append(rows, t.row(n, n.Depth-1))
		return n.Expanded
	})
	return rows
}

func (t *Tree) row(n *Node, depth int) Row {
	cols, _ := t.Columns(n.ID)
	return Row{
		ID:       n.ID,
		Depth:    depth,
		Label:    n.Label(),
		Leaf:     t.IsLeaf(n.ID),
		Expanded: n.Expanded,
		Columns:  cols,
	}
}

type matcher struct {
	exact  *regexp.Regexp
	folded *regexp.Regexp
	lower  string
}

func newMatcher(text string) matcher {
	m := matcher{lower: strings.ToLower(text)}
	if re, err := regexp.Compile(text); err == nil {
		m.exact = re
	}
	if re, err := regexp.Compile("(?i)" + text); err == nil {
		m.folded = re
	}
	return m
}

func (m matcher) matches(label string) bool {
	if m.exact != nil && m.exact.MatchString(label) {
		return true
	}
	if m.folded != nil && m.folded.MatchString(label) {
		return true
	}
	return strings.Contains(strings.ToLower(label), m.lower)
}
