// Package fragments holds the composable SQL pieces a query is assembled from and the
// builder that renders them into parameterized commands.
package fragments

import (
	"strconv"
	"strings"
)

// CommandBuilder accumulates the text and parameters of one SQL statement.
// Parameters render as $1, $2, ... in the order they are added.
type CommandBuilder struct {
	sb     strings.Builder
	params []*Value
}

// NewCommandBuilder creates an empty builder.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{}
}

// Append adds raw SQL text.
func (b *CommandBuilder) Append(sql string) *CommandBuilder {
	b.sb.WriteString(sql)
	return b
}

// AddParameter registers a parameter and returns its placeholder.
func (b *CommandBuilder) AddParameter(v *Value) string {
	b.params = append(b.params, v)
	return "$" + strconv.Itoa(len(b.params))
}

// AppendParameter registers a parameter and appends its placeholder.
func (b *CommandBuilder) AppendParameter(v *Value) *CommandBuilder {
	b.sb.WriteString(b.AddParameter(v))
	return b
}

// AppendFragment renders a fragment into the builder.
func (b *CommandBuilder) AppendFragment(f Fragment) *CommandBuilder {
	f.Apply(b)
	return b
}

// Statement returns the statement built so far.
func (b *CommandBuilder) Statement() Statement {
	return Statement{SQL: b.sb.String(), Params: append([]*Value(nil), b.params...)}
}

// String returns the SQL text built so far.
func (b *CommandBuilder) String() string { return b.sb.String() }

// Statement is one parameterized SQL statement.
type Statement struct {
	SQL    string
	Params []*Value
}

// Args resolves the statement's parameters for execution.
func (s Statement) Args(b Binder) ([]any, error) {
	args := make([]any, len(s.Params))
	for i, p := range s.Params {
		v, err := p.Resolve(b)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// Command is the translated output of a query: one or more statements executed in
// a single round trip, each producing one result set.
type Command struct {
	Statements []Statement
}

// Render resolves every statement's arguments.
func (c *Command) Render(b Binder) ([]string, [][]any, error) {
	sqls := make([]string, len(c.Statements))
	args := make([][]any, len(c.Statements))
	for i, s := range c.Statements {
		a, err := s.Args(b)
		if err != nil {
			return nil, nil, err
		}
		sqls[i] = s.SQL
		args[i] = a
	}
	return sqls, args, nil
}
