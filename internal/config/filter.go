package config

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

type FilterProgram struct {
	prog *vm.Program
}

// Match evaluates the filter. A nil program matches everything.
func (p *FilterProgram) Match(env FilterEnv) (bool, error) {
	if p == nil {
		return true, nil
	}
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	out, err := expr.Run(p.prog, env)
	if err != nil {
		return false, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("filter returned %T", out)
	}
	return ok, nil
}
