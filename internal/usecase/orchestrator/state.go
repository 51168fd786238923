package orchestrator

import (
	"fmt"
	"strings"
)

type State string

const (
	StateSelectTool       State = "SELECT_TOOL"
	StateInvokeTool       State = "INVOKE_TOOL"
	StateReflect          State = "REFLECT"
	StateCollectUserInput State = "COLLECT_USER_INPUT"
	StateDone             State = "DONE"
)

// UserInputRoute picks the state that follows a human answer.
type UserInputRoute string

const (
	RouteReflect    UserInputRoute = "reflect"
	RouteSelectTool UserInputRoute = "select_tool"
)

func ParseUserInputRoute(s string) (UserInputRoute, error) {
	switch UserInputRoute(strings.ToLower(strings.TrimSpace(s))) {
	case "", RouteReflect:
		return RouteReflect, nil
	case RouteSelectTool:
		return RouteSelectTool, nil
	}
	return "", fmt.Errorf("unknown user input route %q (want %q or %q)", s, RouteReflect, RouteSelectTool)
}

func (r UserInputRoute) next() State {
	if r == RouteSelectTool {
		return StateSelectTool
	}
	return StateReflect
}
