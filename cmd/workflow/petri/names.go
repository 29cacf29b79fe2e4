package petri

import "fmt"

// Place names are derived from a node's unique name, which embeds its
// primary id, so they are deterministic and collision-free across the
// workflow.

// StartPlace is the net's entry; the engine's initial marking puts one token
// here.
const StartPlace = "workflow-start"

// ReadyPlace marks a node whose inputs are satisfied
func ReadyPlace(uniqueName string) string {
	return uniqueName + "-ready"
}

// SuccessPlace marks a node's local success
func SuccessPlace(uniqueName string) string {
	return uniqueName + "-success"
}

// FailurePlace marks a task whose method chain is exhausted
func FailurePlace(uniqueName string) string {
	return uniqueName + "-failure"
}

// SuccessPairPlace is the private success token consumed by one successor.
// One place per (node, successor) pair keeps multi-successor fan-out from
// racing on a shared token.
func SuccessPairPlace(uniqueName, successorUniqueName string) string {
	return fmt.Sprintf("%s-success-for-%s", uniqueName, successorUniqueName)
}

// ResponseWaitPlace and ResponseCallbackPlace pair a notify request with its
// acknowledgement.
func ResponseWaitPlace(uniqueName string) string {
	return uniqueName + "-response-wait"
}

func ResponseCallbackPlace(uniqueName string) string {
	return uniqueName + "-response-callback"
}

// Parallel-by places

func SplitSizeWaitPlace(uniqueName string) string {
	return uniqueName + "-split-size-wait"
}

func SplitSizePlace(uniqueName string) string {
	return uniqueName + "-split-size"
}

func CreateColorGroupPlace(uniqueName string) string {
	return uniqueName + "-create-color-group"
}

func ColorGroupCreatedPlace(uniqueName string) string {
	return uniqueName + "-color-group-created"
}

func SplitPlace(uniqueName string) string {
	return uniqueName + "-split"
}

func JoinedPlace(uniqueName string) string {
	return uniqueName + "-joined"
}

// MethodPlace names a per-method place; kind is one of ready, success,
// failure.
func MethodPlace(uniqueName, methodName, kind string) string {
	return fmt.Sprintf("%s-%s-%s", uniqueName, methodName, kind)
}
