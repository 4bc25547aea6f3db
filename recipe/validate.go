package recipe

import "fmt"

// Warning describes a parseable but suspicious step.
type Warning struct {
	Step int // 1-based, 0 for the recipe as a whole
	Msg  string
}

func (w Warning) String() string {
	if w.Step == 0 {
		return w.Msg
	}
	return fmt.Sprintf("step %d: %s", w.Step, w.Msg)
}

// Validate returns warnings for things Parse accepts but that are likely mistakes.
func Validate(r *Recipe) []Warning {
	var w []Warning
	if r.Len() == 0 {
		w = append(w, Warning{Msg: "recipe has no steps"})
	}
	for i, st := range r.steps {
		n := i + 1
		if st.Mode != Loose && st.Mode != Strict {
			w = append(w, Warning{Step: n, Msg: fmt.Sprintf("stabilize mode %d is not 0 or 1, treated as strict", st.Mode)})
		}
		if st.RampRate < 0 {
			w = append(w, Warning{Step: n, Msg: "negative ramp rate"})
		}
		if st.StirSpeed < 0 {
			w = append(w, Warning{Step: n, Msg: "negative stir speed"})
		}
	}
	return w
}
