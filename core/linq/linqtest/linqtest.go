// Package linqtest provides an in-memory Executor that returns canned result sets,
// so queries can be executed end to end without a database.
package linqtest

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/asaidimu/go-marten/core/linq"
)

// Row is one result row: one value per selected column.
type Row []any

// Rows is a canned result set.
type Rows struct {
	rows []Row
	pos  int
	err  error
}

// NewRows creates a result set.
func NewRows(rows ...Row) *Rows {
	return &Rows{rows: rows, pos: -1}
}

// Failing creates a result set whose iteration ends with err.
func Failing(err error) *Rows {
	return &Rows{pos: -1, err: err}
}

func (r *Rows) Next() bool {
	if r.pos+1 >= len(r.rows) {
		r.pos = len(r.rows)
		return false
	}
	r.pos++
	return true
}

// Scan assigns the current row's columns to dest, which must be pointers to
// types the column values are assignable to. A nil column zeroes its target.
func (r *Rows) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return fmt.Errorf("scan called without a current row")
	}
	row := r.rows[r.pos]
	if len(dest) != len(row) {
		return fmt.Errorf("row has %d columns, scanned into %d targets", len(row), len(dest))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("scan target %d is not a pointer", i)
		}
		target = target.Elem()
		if row[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(row[i])
		switch {
		case v.Type().AssignableTo(target.Type()):
			target.Set(v)
		case v.Type().ConvertibleTo(target.Type()):
			target.Set(v.Convert(target.Type()))
		default:
			return fmt.Errorf("cannot scan %T into %s", row[i], target.Type())
		}
	}
	return nil
}

func (r *Rows) Err() error { return r.err }

// Responder produces the result sets of one batch, one per statement.
type Responder func(batch linq.Batch) ([]*Rows, error)

// Executor records every executed batch and answers with its responder.
type Executor struct {
	mu      sync.Mutex
	respond Responder
	batches []linq.Batch
}

// NewExecutor creates an executor answering with respond.
func NewExecutor(respond Responder) *Executor {
	return &Executor{respond: respond}
}

// Static answers every batch with the same result sets, in statement order.
// Statements without a configured result set get an empty one.
func Static(sets ...[]Row) *Executor {
	return NewExecutor(func(b linq.Batch) ([]*Rows, error) {
		out := make([]*Rows, len(b.Statements))
		for i := range out {
			if i < len(sets) {
				out[i] = NewRows(sets[i]...)
			} else {
				out[i] = NewRows()
			}
		}
		return out, nil
	})
}

func (e *Executor) Execute(ctx context.Context, batch linq.Batch, read func(int, linq.Rows) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	e.batches = append(e.batches, batch)
	respond := e.respond
	e.mu.Unlock()

	sets, err := respond(batch)
	if err != nil {
		return err
	}
	for i, rows := range sets {
		if err := read(i, rows); err != nil {
			return err
		}
	}
	return nil
}

// Batches returns the executed batches in order.
func (e *Executor) Batches() []linq.Batch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]linq.Batch(nil), e.batches...)
}

// Last returns the most recent batch.
func (e *Executor) Last() linq.Batch {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.batches) == 0 {
		return linq.Batch{}
	}
	return e.batches[len(e.batches)-1]
}

var _ linq.Executor = (*Executor)(nil)
