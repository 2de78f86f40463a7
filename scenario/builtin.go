package scenario

import (
	"embed"
	"io/fs"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

var (
	builtinOnce sync.Once
	builtins    []Scenario
	builtinErr  error
)

// Builtins returns copies of the bundled scenarios, ordered by file name.
func Builtins() ([]Scenario, error) {
	all, err := parsedBuiltins()
	if err != nil {
		return nil, err
	}
	out := make([]Scenario, len(all))
	for i, s := range all {
		out[i] = s.clone()
	}
	return out, nil
}

func parsedBuiltins() ([]Scenario, error) {
	builtinOnce.Do(func() {
		names, err := fs.Glob(builtinFS, "builtin/*.yaml")
		if err != nil {
			builtinErr = eris.Wrap(err, "scenario: list builtins")
			return
		}
		sort.Strings(names)
		for _, name := range names {
			data, err := builtinFS.ReadFile(name)
			if err != nil {
				builtinErr = eris.Wrapf(err, "scenario: read %s", name)
				return
			}
			s, err := Parse(data)
			if err != nil {
				builtinErr = eris.Wrapf(err, "scenario: parse %s", name)
				return
			}
			builtins = append(builtins, s)
		}
	})
	return builtins, builtinErr
}

// Builtin returns the bundled scenario with the given id.
func Builtin(id string) (Scenario, bool) {
	all, err := Builtins()
	if err != nil {
		return Scenario{}, false
	}
	for _, s := range all {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}

// clone copies every slice so callers may edit the result freely.
func (s Scenario) clone() Scenario {
	c := s
	c.Incentives = make([]Incentive, len(s.Incentives))
	for i, inc := range s.Incentives {
		if inc.ConditionExpression != nil {
			cond := *inc.ConditionExpression
			inc.ConditionExpression = &cond
		}
		c.Incentives[i] = inc
	}
	c.Objectives = append([]Objective(nil), s.Objectives...)
	c.Tasks = append([]Task(nil), s.Tasks...)
	c.Expect = append([]Expectation(nil), s.Expect...)
	return c
}
