// Package invariant reports broken internal-consistency conditions.
//
// A violation is a defect in the analysis itself, never a property of the
// analysed program, so it is raised with panic and only recovered at the
// boundary of an analysis run (see constprop.Run).
package invariant

import "fmt"

// Violation describes a broken invariant.
type Violation struct {
	Condition string
	Detail    string
}

func (v *Violation) Error() string {
	if v.Detail == "" {
		return "invariant violated: " + v.Condition
	}
	return "invariant violated: " + v.Condition + ": " + v.Detail
}

// Check panics with a *Violation when ok is false.
func Check(ok bool, condition string, format string, args ...any) {
	if ok {
		return
	}
	panic(&Violation{Condition: condition, Detail: fmt.Sprintf(format, args...)})
}

// Recover converts a recovered *Violation into an error assigned to *err.
// Other panics are re-raised. Use it as `defer invariant.Recover(&err)`.
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if v, ok := r.(*Violation); ok {
		*err = v
		return
	}
	panic(r)
}
