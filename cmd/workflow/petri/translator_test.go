package petri

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/petriflow/workflow/cmd/workflow/models"
)

// graphFixture builds graphs by hand with fixed node ids so place names are
// predictable.
type graphFixture struct {
	g      *models.Graph
	nextID int64
}

func newGraphFixture() *graphFixture {
	wf := &models.Workflow{
		ID:     uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		Status: models.WorkflowNew,
	}
	wf.NetKey = models.NetKeyFor(wf.ID)

	return &graphFixture{
		g: &models.Graph{
			Workflow: wf,
			Nodes:    map[int64]*models.Node{},
			Methods:  map[int64][]*models.Method{},
			Entries:  map[int64][]*models.DataFlowEntry{},
		},
		nextID: 1,
	}
}

func (f *graphFixture) node(name string, kind models.NodeKind, parent *models.Node, index int) *models.Node {
	n := &models.Node{
		ID:               f.nextID,
		WorkflowID:       f.g.Workflow.ID,
		Name:             name,
		Kind:             kind,
		TopologicalIndex: index,
		Status:           "new",
	}
	if parent != nil {
		parentID := parent.ID
		n.ParentID = &parentID
	}
	f.nextID++
	f.g.Nodes[n.ID] = n
	return n
}

func (f *graphFixture) shellMethod(task *models.Node, name string, index int) *models.Method {
	m := &models.Method{
		ID:      f.nextID,
		NodeID:  task.ID,
		Name:    name,
		Index:   index,
		Service: models.ServiceShellCommand,
	}
	f.nextID++
	f.g.Methods[task.ID] = append(f.g.Methods[task.ID], m)
	return m
}

func (f *graphFixture) dagMethod(task *models.Node, name string, dag *models.Node) *models.Method {
	dagID := dag.ID
	m := &models.Method{
		ID:        f.nextID,
		NodeID:    task.ID,
		Name:      name,
		Service:   models.ServiceDAG,
		DAGNodeID: &dagID,
	}
	f.nextID++
	f.g.Methods[task.ID] = append(f.g.Methods[task.ID], m)
	return m
}

func (f *graphFixture) link(src, dst *models.Node, flow map[string]string) {
	l := &models.Link{
		ID:            f.nextID,
		WorkflowID:    f.g.Workflow.ID,
		SourceID:      src.ID,
		DestinationID: dst.ID,
	}
	f.nextID++
	f.g.Links = append(f.g.Links, l)
	for sp, dp := range flow {
		f.g.Entries[l.ID] = append(f.g.Entries[l.ID], &models.DataFlowEntry{
			LinkID:              l.ID,
			SourceProperty:      sp,
			DestinationProperty: dp,
		})
	}
}

// linearGraph is the shape created for one task A with a single shell method:
// input holder -> root task -> root dag { input connector -> A -> output
// connector } -> dummy sink.
func linearGraph() (*models.Graph, *models.Node) {
	f := newGraphFixture()

	holder := f.node(models.InputHolderName, models.KindInputHolder, nil, 0)
	root := f.node("root", models.KindTask, nil, -1)
	dag := f.node("root", models.KindDAG, root, 0)
	ic := f.node(models.InputConnectorName, models.KindInputConnector, dag, 0)
	oc := f.node(models.OutputConnectorName, models.KindOutputConnector, dag, 1)
	taskA := f.node("A", models.KindTask, dag, 2)
	sink := f.node(models.DummySinkName, models.KindInputHolder, nil, 0)

	f.dagMethod(root, "root", dag)
	f.shellMethod(taskA, "execute", 0)

	f.link(holder, root, map[string]string{"in_a": "in_a"})
	f.link(ic, taskA, map[string]string{"in_a": "param"})
	f.link(taskA, oc, map[string]string{"result": "out_a"})
	f.link(root, sink, map[string]string{"out_a": "out_a"})

	return f.g, taskA
}

func findTransition(p *Program, input string) *Transition {
	for _, t := range p.Transitions {
		for _, in := range t.Inputs {
			if in == input {
				return t
			}
		}
	}
	return nil
}

func hasPlace(p *Program, place string) bool {
	for _, candidate := range p.Places {
		if candidate == place {
			return true
		}
	}
	return false
}

func TestTranslateLinearWorkflow(t *testing.T) {
	g, taskA := linearGraph()

	program, err := NewTranslator("http://localhost:7272").Translate(g)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	if !hasPlace(program, StartPlace) {
		t.Errorf("program is missing the start place")
	}

	// Entry: start place feeds the input holder's success pair for root
	entry := findTransition(program, StartPlace)
	if entry == nil {
		t.Fatalf("no transition consumes the start place")
	}
	holder := g.InputHolder()
	root := g.Root()
	wantPair := SuccessPairPlace(holder.UniqueName(), root.UniqueName())
	if len(entry.Outputs) != 1 || entry.Outputs[0] != wantPair {
		t.Errorf("entry outputs = %v, want [%s]", entry.Outputs, wantPair)
	}

	// Task A: input dep consumes the connector's pair and produces ready
	aName := taskA.UniqueName()
	ready := findTransition(program, SuccessPairPlace("node-4-input_connector", aName))
	if ready == nil {
		t.Fatalf("no input-dep transition for task A")
	}
	if ready.Outputs[0] != ReadyPlace(aName) {
		t.Errorf("input-dep output = %v, want %s", ready.Outputs, ReadyPlace(aName))
	}

	// The execute notify carries the method's response places
	execute := findTransition(program, ReadyPlace(aName))
	if execute == nil || execute.Action == nil {
		t.Fatalf("no execute transition for task A")
	}
	if execute.Action.Type != ActionNotify {
		t.Errorf("execute action type = %s, want %s", execute.Action.Type, ActionNotify)
	}
	if want := "http://localhost:7272/v1/callbacks/nodes/6/events/execute?method=execute"; execute.Action.URL != want {
		t.Errorf("execute url = %s, want %s", execute.Action.URL, want)
	}
	if execute.Action.ResponsePlaces["success"] != MethodPlace(aName, "execute", "success") {
		t.Errorf("unexpected success response place: %v", execute.Action.ResponsePlaces)
	}

	// Method success feeds task success; task success fans out to the
	// output connector and the parent dag.
	success := findTransition(program, MethodPlace(aName, "execute", "success"))
	if success == nil || success.Outputs[0] != SuccessPlace(aName) {
		t.Fatalf("method success does not feed task success")
	}

	fanOut := findTransition(program, SuccessPlace(aName))
	if fanOut == nil {
		t.Fatalf("no output-dep transition for task A")
	}
	wantOutputs := map[string]bool{
		SuccessPairPlace(aName, "node-5-output_connector"): true,
		SuccessPairPlace(aName, "node-3-root"):             true,
	}
	for _, out := range fanOut.Outputs {
		if !wantOutputs[out] {
			t.Errorf("unexpected output-dep place %s", out)
		}
		delete(wantOutputs, out)
	}
	if len(wantOutputs) != 0 {
		t.Errorf("missing output-dep places: %v", wantOutputs)
	}

	// Exhausted chain: the method's failure place fires the failed notify
	failed := findTransition(program, MethodPlace(aName, "execute", "failure"))
	if failed == nil || failed.Action == nil {
		t.Fatalf("no exhausted-chain transition for task A")
	}
	if failed.Outputs[0] != FailurePlace(aName) {
		t.Errorf("exhausted-chain output = %v, want %s", failed.Outputs, FailurePlace(aName))
	}
	if !strings.HasSuffix(failed.Action.URL, "/v1/callbacks/nodes/6/events/failed") {
		t.Errorf("exhausted-chain url = %s", failed.Action.URL)
	}

	// A's parent pair fires the done notify into the response-wait place,
	// and the callback ack releases the dag's success.
	done := findTransition(program, SuccessPairPlace(aName, "node-3-root"))
	if done == nil || done.Action == nil || done.Action.Type != ActionNotify {
		t.Fatalf("no done transition for the root dag")
	}
	if !strings.HasSuffix(done.Action.URL, "/v1/callbacks/nodes/3/events/done") {
		t.Errorf("done url = %s", done.Action.URL)
	}
	if done.Outputs[0] != ResponseWaitPlace("node-3-root") {
		t.Errorf("done output = %v, want %s", done.Outputs, ResponseWaitPlace("node-3-root"))
	}
	if done.Action.ResponsePlaces["success"] != ResponseCallbackPlace("node-3-root") {
		t.Errorf("done response places = %v", done.Action.ResponsePlaces)
	}

	release := findTransition(program, ResponseCallbackPlace("node-3-root"))
	if release == nil || release.Outputs[0] != SuccessPlace("node-3-root") {
		t.Fatalf("callback ack does not release the dag's success")
	}
}

func TestTranslateIsDeterministic(t *testing.T) {
	g, _ := linearGraph()
	tr := NewTranslator("http://localhost:7272")

	first, err := tr.Translate(g)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	second, err := tr.Translate(g)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	a, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	b, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	if string(a) != string(b) {
		t.Errorf("translation is not byte-stable")
	}
}

func TestTranslateParallelTask(t *testing.T) {
	g, taskA := linearGraph()
	parallelBy := "param"
	taskA.ParallelBy = &parallelBy

	program, err := NewTranslator("http://localhost:7272").Translate(g)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	aName := taskA.UniqueName()

	// Split protocol: size request, group creation, split
	sizeRequest := findTransition(program, ReadyPlace(aName))
	if sizeRequest == nil || sizeRequest.Action == nil {
		t.Fatalf("no split-size transition")
	}
	if !strings.HasSuffix(sizeRequest.Action.URL, "/events/get_split_size") {
		t.Errorf("split-size url = %s", sizeRequest.Action.URL)
	}
	if sizeRequest.Action.ResponsePlaces["send_data"] != SplitSizePlace(aName) {
		t.Errorf("split-size response places = %v", sizeRequest.Action.ResponsePlaces)
	}
	if got := sizeRequest.Action.RequestedData; len(got) != 1 || got[0] != "color_group_size" {
		t.Errorf("split-size requested data = %v", got)
	}

	creation := findTransition(program, CreateColorGroupPlace(aName))
	if creation == nil || creation.Action == nil || creation.Action.Type != ActionCreateColorGroup {
		t.Fatalf("no color group creation transition")
	}

	split := findTransition(program, ColorGroupCreatedPlace(aName))
	if split == nil || split.Action == nil || split.Action.Type != ActionSplit {
		t.Fatalf("no split transition")
	}
	if split.Outputs[0] != SplitPlace(aName) {
		t.Errorf("split output = %v", split.Outputs)
	}

	// The method chain hangs off the split place, not ready
	execute := findTransition(program, SplitPlace(aName))
	if execute == nil || execute.Action == nil || execute.Action.Type != ActionNotify {
		t.Fatalf("method chain does not start at the split place")
	}

	// Barrier join consumes task success into joined
	join := findTransition(program, SuccessPlace(aName))
	if join == nil || join.Type != TypeBarrier {
		t.Fatalf("no barrier join for task success")
	}
	if join.Action == nil || join.Action.Type != ActionJoin {
		t.Errorf("join action = %+v", join.Action)
	}
	if join.Outputs[0] != JoinedPlace(aName) {
		t.Errorf("join output = %v", join.Outputs)
	}

	// Output deps hang off joined
	fanOut := findTransition(program, JoinedPlace(aName))
	if fanOut == nil {
		t.Fatalf("no output-dep transition off the joined place")
	}
}

func TestTranslateMethodFallThrough(t *testing.T) {
	f := newGraphFixture()

	holder := f.node(models.InputHolderName, models.KindInputHolder, nil, 0)
	root := f.node("root", models.KindTask, nil, -1)
	dag := f.node("root", models.KindDAG, root, 0)
	f.node(models.InputConnectorName, models.KindInputConnector, dag, 0)
	f.node(models.OutputConnectorName, models.KindOutputConnector, dag, 1)
	task := f.node("T", models.KindTask, dag, 2)
	sink := f.node(models.DummySinkName, models.KindInputHolder, nil, 0)

	f.dagMethod(root, "root", dag)
	f.shellMethod(task, "first", 0)
	f.shellMethod(task, "second", 1)

	f.link(holder, root, map[string]string{"x": "x"})
	f.link(root, sink, nil)

	program, err := NewTranslator("http://localhost:7272").Translate(f.g)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	name := task.UniqueName()

	// The second method's input is the first method's failure place
	second := findTransition(program, MethodPlace(name, "first", "failure"))
	if second == nil {
		t.Fatalf("first failure place feeds nothing")
	}
	if second.Action == nil || second.Action.Type != ActionNotify {
		t.Fatalf("fall-through transition has no notify action")
	}
	if want := fmt.Sprintf("?method=%s", "second"); !strings.HasSuffix(second.Action.URL, want) {
		t.Errorf("fall-through url = %s", second.Action.URL)
	}

	// Both success places reach the single task success place
	for _, m := range []string{"first", "second"} {
		tr := findTransition(program, MethodPlace(name, m, "success"))
		if tr == nil || tr.Outputs[0] != SuccessPlace(name) {
			t.Errorf("method %s success does not feed task success", m)
		}
	}

	// Only the last failure place reaches the task failure place
	exhausted := findTransition(program, MethodPlace(name, "second", "failure"))
	if exhausted == nil || exhausted.Outputs[0] != FailurePlace(name) {
		t.Fatalf("second failure place does not feed task failure")
	}
}

func TestTranslateRejectsEmptyGraph(t *testing.T) {
	f := newGraphFixture()

	if _, err := NewTranslator("http://localhost:7272").Translate(f.g); err == nil {
		t.Fatalf("expected error translating a workflow without a root task")
	}
}
