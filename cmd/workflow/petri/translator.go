package petri

import (
	"fmt"
	"sort"

	"github.com/petriflow/workflow/cmd/workflow/models"
)

// Translator compiles a workflow graph into a flat Petri program. The walk
// is deterministic: children in topological order, methods in index order,
// linked nodes by id ascending, places sorted. Translating the same graph
// twice yields byte-equal output, which keeps net_key idempotency intact.
type Translator struct {
	urls URLBuilder
}

// NewTranslator creates a translator that embeds callback URLs under base
func NewTranslator(callbackBase string) *Translator {
	return &Translator{urls: URLBuilder{Base: callbackBase}}
}

type translation struct {
	graph       *models.Graph
	transitions []*Transition
	urls        URLBuilder
}

// Translate compiles the graph rooted at its root task
func (t *Translator) Translate(g *models.Graph) (*Program, error) {
	root := g.Root()
	if root == nil {
		return nil, fmt.Errorf("workflow %s has no root task", g.Workflow.ID)
	}

	holder := g.InputHolder()
	if holder == nil {
		return nil, fmt.Errorf("workflow %s has no input holder", g.Workflow.ID)
	}

	tr := &translation{graph: g, urls: t.urls}

	// The engine's initial marking is one token in the start place; it
	// stands in for the input holder having "run".
	tr.emit(&Transition{
		Inputs:  []string{StartPlace},
		Outputs: []string{SuccessPairPlace(holder.UniqueName(), root.UniqueName())},
	})

	if err := tr.task(root); err != nil {
		return nil, err
	}

	return &Program{
		Places:      tr.places(),
		Transitions: tr.transitions,
	}, nil
}

func (tr *translation) emit(t *Transition) {
	tr.transitions = append(tr.transitions, t)
}

// task emits the full transition set for one task: input-dep, optional
// split, the method chain, optional join, output-dep.
func (tr *translation) task(n *models.Node) error {
	un := n.UniqueName()

	tr.inputDeps(n)

	chain := ReadyPlace(un)
	if n.IsParallel() {
		chain = tr.split(n, chain)
	}

	actionDone, err := tr.action(n, chain)
	if err != nil {
		return err
	}

	if n.IsParallel() {
		actionDone = tr.join(n, actionDone)
	}

	tr.outputDeps(n, actionDone)
	return nil
}

// inputDeps consumes one private success token per input node
func (tr *translation) inputDeps(n *models.Node) {
	inputs := tr.graph.InputNodes(n.ID)
	if len(inputs) == 0 {
		return
	}

	places := make([]string, 0, len(inputs))
	for _, src := range inputs {
		places = append(places, SuccessPairPlace(src.UniqueName(), n.UniqueName()))
	}

	tr.emit(&Transition{
		Inputs:  places,
		Outputs: []string{ReadyPlace(n.UniqueName())},
	})
}

// split expands the parallel-by protocol: size request, color group
// creation, then a split action emitting one token per color.
func (tr *translation) split(n *models.Node, ready string) string {
	un := n.UniqueName()

	tr.emit(&Transition{
		Inputs:  []string{ready},
		Outputs: []string{SplitSizeWaitPlace(un)},
		Action: &Action{
			Type:          ActionNotify,
			URL:           tr.urls.NodeEvent(n.ID, "get_split_size"),
			RequestedData: []string{"color_group_size"},
			ResponsePlaces: map[string]string{
				"send_data": SplitSizePlace(un),
			},
		},
	})

	tr.emit(&Transition{
		Inputs:  []string{SplitSizeWaitPlace(un), SplitSizePlace(un)},
		Outputs: []string{CreateColorGroupPlace(un)},
	})

	tr.emit(&Transition{
		Inputs:  []string{CreateColorGroupPlace(un)},
		Outputs: []string{ColorGroupCreatedPlace(un)},
		Action: &Action{
			Type: ActionCreateColorGroup,
			URL:  tr.urls.NodeEvent(n.ID, "color_group_created"),
		},
	})

	tr.emit(&Transition{
		Inputs:  []string{ColorGroupCreatedPlace(un)},
		Outputs: []string{SplitPlace(un)},
		Action:  &Action{Type: ActionSplit},
	})

	return SplitPlace(un)
}

// action walks the method chain. Each method's failure place feeds the next
// method; every success place fires into the task's success place, so the
// first method to succeed wins and the rest are dead. When the chain is
// exhausted the failure place fires an explicit failed notification.
func (tr *translation) action(n *models.Node, chain string) (string, error) {
	un := n.UniqueName()
	methods := tr.graph.MethodsOf(n.ID)
	if len(methods) == 0 {
		return "", fmt.Errorf("task %s has no methods", n.Name)
	}

	var successes []string
	for _, m := range methods {
		success, failure, err := tr.method(n, m, chain)
		if err != nil {
			return "", err
		}
		successes = append(successes, success)
		chain = failure
	}

	for _, sp := range successes {
		tr.emit(&Transition{
			Inputs:  []string{sp},
			Outputs: []string{SuccessPlace(un)},
		})
	}

	tr.emit(&Transition{
		Inputs:  []string{chain},
		Outputs: []string{FailurePlace(un)},
		Action: &Action{
			Type: ActionNotify,
			URL:  tr.urls.NodeEvent(n.ID, "failed"),
		},
	})

	return SuccessPlace(un), nil
}

// method attaches one method and returns its success and failure places
func (tr *translation) method(task *models.Node, m *models.Method, chain string) (string, string, error) {
	un := task.UniqueName()
	failure := MethodPlace(un, m.Name, "failure")

	switch m.Service {
	case models.ServiceShellCommand:
		success := MethodPlace(un, m.Name, "success")
		tr.emit(&Transition{
			Inputs:  []string{chain},
			Outputs: []string{MethodPlace(un, m.Name, "ready")},
			Action: &Action{
				Type: ActionNotify,
				URL:  tr.urls.NodeExecute(task.ID, m.Name),
				ResponsePlaces: map[string]string{
					"success": success,
					"failure": failure,
				},
			},
		})
		return success, failure, nil

	case models.ServiceDAG, models.ServiceWorkflow:
		dag := tr.graph.DAGOf(m)
		if dag == nil {
			return "", "", fmt.Errorf("method %s of task %s has no subgraph", m.Name, task.Name)
		}
		tr.emit(&Transition{
			Inputs:  []string{chain},
			Outputs: []string{ReadyPlace(dag.UniqueName())},
		})
		if err := tr.dag(dag); err != nil {
			return "", "", err
		}
		// A dag method has no failure path of its own; its failure place
		// is never produced.
		return SuccessPlace(dag.UniqueName()), failure, nil

	default:
		return "", "", fmt.Errorf("method %s has unknown service %s", m.Name, m.Service)
	}
}

// join is a barrier over the per-color success tokens
func (tr *translation) join(n *models.Node, actionDone string) string {
	un := n.UniqueName()
	tr.emit(&Transition{
		Inputs:  []string{actionDone},
		Outputs: []string{JoinedPlace(un)},
		Type:    TypeBarrier,
		Action:  &Action{Type: ActionJoin},
	})
	return JoinedPlace(un)
}

// outputDeps fans the task's success out to one private place per successor
// plus one for the parent.
func (tr *translation) outputDeps(n *models.Node, actionDone string) {
	un := n.UniqueName()

	var outputs []string
	for _, dst := range tr.graph.OutputNodes(n.ID) {
		outputs = append(outputs, SuccessPairPlace(un, dst.UniqueName()))
	}
	if n.ParentID != nil {
		if parent, ok := tr.graph.Nodes[*n.ParentID]; ok {
			outputs = append(outputs, SuccessPairPlace(un, parent.UniqueName()))
		}
	}
	if len(outputs) == 0 {
		return
	}

	tr.emit(&Transition{
		Inputs:  []string{actionDone},
		Outputs: outputs,
	})
}

// dag emits a subgraph's boundary transitions plus every child, recursively.
// Its success fires only after all real children delivered their parent
// token; firing it notifies the done callback so lifecycle webhooks run.
func (tr *translation) dag(n *models.Node) error {
	un := n.UniqueName()

	if ic := tr.graph.Connector(n.ID, models.InputConnectorName); ic != nil {
		tr.inputConnector(n, ic)
	}

	for _, child := range tr.graph.RealChildren(n.ID) {
		if err := tr.task(child); err != nil {
			return err
		}
	}

	var childPairs []string
	for _, child := range tr.graph.RealChildren(n.ID) {
		childPairs = append(childPairs, SuccessPairPlace(child.UniqueName(), un))
	}

	// The done notify pairs a response-wait place with the callback place
	// the dispatcher acks, so the subgraph's success commits before the net
	// moves on.
	tr.emit(&Transition{
		Inputs:  childPairs,
		Outputs: []string{ResponseWaitPlace(un)},
		Action: &Action{
			Type: ActionNotify,
			URL:  tr.urls.NodeEvent(n.ID, "done"),
			ResponsePlaces: map[string]string{
				"success": ResponseCallbackPlace(un),
			},
		},
	})

	tr.emit(&Transition{
		Inputs:  []string{ResponseWaitPlace(un), ResponseCallbackPlace(un)},
		Outputs: []string{SuccessPlace(un)},
	})

	// The output connector is a sink; it emits no transitions of its own.
	return nil
}

// inputConnector bridges the parent's ready place into the connector's
// success and fans out to its consumers.
func (tr *translation) inputConnector(parent, ic *models.Node) {
	icn := ic.UniqueName()

	tr.emit(&Transition{
		Inputs:  []string{ReadyPlace(parent.UniqueName())},
		Outputs: []string{SuccessPlace(icn)},
	})

	var outputs []string
	for _, dst := range tr.graph.OutputNodes(ic.ID) {
		outputs = append(outputs, SuccessPairPlace(icn, dst.UniqueName()))
	}
	if len(outputs) == 0 {
		return
	}

	tr.emit(&Transition{
		Inputs:  []string{SuccessPlace(icn)},
		Outputs: outputs,
	})
}

// places collects every referenced place, sorted
func (tr *translation) places() []string {
	seen := map[string]struct{}{StartPlace: {}}
	for _, t := range tr.transitions {
		for _, p := range t.Inputs {
			seen[p] = struct{}{}
		}
		for _, p := range t.Outputs {
			seen[p] = struct{}{}
		}
	}

	places := make([]string, 0, len(seen))
	for p := range seen {
		places = append(places, p)
	}
	sort.Strings(places)
	return places
}
