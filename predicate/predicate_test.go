package predicate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wbrown/cohortx/cohorterr"
)

func TestNewRegistry_Basic(t *testing.T) {
	plain := map[string]Plain{
		"admission": {Name: "admission", Code: CodeSpec{Literal: "ADMIT"}},
		"death":     {Name: "death", Code: CodeSpec{Literal: "DEATH"}},
	}
	derived := map[string]Derived{
		"admission_or_death": {Name: "admission_or_death", Op: OpOr, Operands: []string{"admission", "death"}},
	}
	reg, err := NewRegistry(plain, derived)
	require.NoError(t, err)
	require.True(t, reg.Exists("admission"))
	require.True(t, reg.Exists("admission_or_death"))
	require.True(t, reg.Exists(AnyEvent))
	require.False(t, reg.Exists("nope"))
	require.Equal(t, []string{"admission_or_death"}, reg.DerivationOrder())
}

func TestNewRegistry_RejectsEmpty(t *testing.T) {
	_, err := NewRegistry(nil, nil)
	require.Error(t, err)
	require.True(t, cohorterr.IsConfigError(err))
}

func TestNewRegistry_RejectsUnknownOperand(t *testing.T) {
	derived := map[string]Derived{
		"x": {Name: "x", Op: OpAnd, Operands: []string{"ghost"}},
	}
	_, err := NewRegistry(nil, derived)
	require.Error(t, err)
}

func TestNewRegistry_RejectsCycle(t *testing.T) {
	derived := map[string]Derived{
		"a": {Name: "a", Op: OpAnd, Operands: []string{"b"}},
		"b": {Name: "b", Op: OpAnd, Operands: []string{"a"}},
	}
	_, err := NewRegistry(nil, derived)
	require.Error(t, err)
}

func TestNewRegistry_RejectsDualDefinition(t *testing.T) {
	plain := map[string]Plain{"x": {Name: "x"}}
	derived := map[string]Derived{"x": {Name: "x", Op: OpAnd, Operands: []string{"x"}}}
	_, err := NewRegistry(plain, derived)
	require.Error(t, err)
}

func TestNewRegistry_DerivationOrderIsLeavesFirst(t *testing.T) {
	plain := map[string]Plain{"p": {Name: "p"}, "q": {Name: "q"}}
	derived := map[string]Derived{
		"pq":  {Name: "pq", Op: OpAnd, Operands: []string{"p", "q"}},
		"pqx": {Name: "pqx", Op: OpOr, Operands: []string{"pq", "p"}},
	}
	reg, err := NewRegistry(plain, derived)
	require.NoError(t, err)
	order := reg.DerivationOrder()
	require.Equal(t, []string{"pq", "pqx"}, order)
}
