package assert

import "fmt"

// NotNil panics when a required dependency was not provided, `name` describes
// the dependency in the panic message.
func NotNil(value any, name ...string) {
	if value != nil {
		return
	}
	if len(name) > 0 {
		panic(fmt.Sprintf("expected %s to be not nil", name[0]))
	}
	panic("expected value to be not nil")
}
