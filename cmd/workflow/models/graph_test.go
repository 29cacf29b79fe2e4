package models

import (
	"testing"

	"github.com/google/uuid"
)

func testGraph() *Graph {
	wfID := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	parent := func(id int64) *int64 { return &id }

	nodes := map[int64]*Node{
		1: {ID: 1, WorkflowID: wfID, Name: InputHolderName, Kind: KindInputHolder},
		2: {ID: 2, WorkflowID: wfID, Name: "root", Kind: KindTask, TopologicalIndex: -1},
		3: {ID: 3, WorkflowID: wfID, Name: "root", Kind: KindDAG, ParentID: parent(2)},
		4: {ID: 4, WorkflowID: wfID, Name: InputConnectorName, Kind: KindInputConnector, ParentID: parent(3), TopologicalIndex: 0},
		5: {ID: 5, WorkflowID: wfID, Name: OutputConnectorName, Kind: KindOutputConnector, ParentID: parent(3), TopologicalIndex: 1},
		6: {ID: 6, WorkflowID: wfID, Name: "B", Kind: KindTask, ParentID: parent(3), TopologicalIndex: 3},
		7: {ID: 7, WorkflowID: wfID, Name: "A", Kind: KindTask, ParentID: parent(3), TopologicalIndex: 2},
	}

	links := []*Link{
		{ID: 1, WorkflowID: wfID, SourceID: 1, DestinationID: 2},
		{ID: 2, WorkflowID: wfID, SourceID: 4, DestinationID: 7},
		{ID: 3, WorkflowID: wfID, SourceID: 7, DestinationID: 6},
		{ID: 4, WorkflowID: wfID, SourceID: 6, DestinationID: 5},
	}

	return &Graph{
		Workflow: &Workflow{ID: wfID},
		Nodes:    nodes,
		Links:    links,
		Methods:  map[int64][]*Method{},
		Entries:  map[int64][]*DataFlowEntry{},
	}
}

func TestGraphRoot(t *testing.T) {
	g := testGraph()

	root := g.Root()
	if root == nil || root.ID != 2 {
		t.Fatalf("Root() = %+v, want node 2", root)
	}
}

func TestGraphInputHolder(t *testing.T) {
	g := testGraph()

	holder := g.InputHolder()
	if holder == nil || holder.ID != 1 {
		t.Fatalf("InputHolder() = %+v, want node 1", holder)
	}
}

func TestGraphChildrenOrdered(t *testing.T) {
	g := testGraph()

	children := g.Children(3)
	if len(children) != 4 {
		t.Fatalf("Children(3) returned %d nodes, want 4", len(children))
	}

	// Topological index order: connectors first, then A before B
	wantOrder := []int64{4, 5, 7, 6}
	for i, want := range wantOrder {
		if children[i].ID != want {
			t.Errorf("children[%d] = node %d, want %d", i, children[i].ID, want)
		}
	}
}

func TestGraphRealChildrenExcludesConnectors(t *testing.T) {
	g := testGraph()

	real := g.RealChildren(3)
	if len(real) != 2 {
		t.Fatalf("RealChildren(3) returned %d nodes, want 2", len(real))
	}
	for _, n := range real {
		if n.IsConnector() {
			t.Errorf("RealChildren returned connector %s", n.Name)
		}
	}
}

func TestGraphInputOutputNodes(t *testing.T) {
	g := testGraph()

	inputs := g.InputNodes(6)
	if len(inputs) != 1 || inputs[0].ID != 7 {
		t.Errorf("InputNodes(6) = %+v, want [node 7]", inputs)
	}

	outputs := g.OutputNodes(7)
	if len(outputs) != 1 || outputs[0].ID != 6 {
		t.Errorf("OutputNodes(7) = %+v, want [node 6]", outputs)
	}
}

func TestGraphConnector(t *testing.T) {
	g := testGraph()

	ic := g.Connector(3, InputConnectorName)
	if ic == nil || ic.Kind != KindInputConnector {
		t.Fatalf("Connector(input) = %+v", ic)
	}

	if g.Connector(3, "nope") != nil {
		t.Errorf("Connector should return nil for unknown names")
	}
}

func TestNodeUniqueName(t *testing.T) {
	n := &Node{ID: 42, Name: "input connector"}
	if got := n.UniqueName(); got != "node-42-input_connector" {
		t.Errorf("UniqueName() = %s", got)
	}
}

func TestColorGroupGeometry(t *testing.T) {
	g := &ColorGroup{Begin: 5, End: 8}

	if !g.Contains(5) || !g.Contains(7) {
		t.Errorf("group should contain its interval")
	}
	if g.Contains(8) || g.Contains(4) {
		t.Errorf("group interval is half-open")
	}
	if g.Width() != 3 {
		t.Errorf("Width() = %d, want 3", g.Width())
	}
	if g.Index(6) != 1 {
		t.Errorf("Index(6) = %d, want 1", g.Index(6))
	}
}
