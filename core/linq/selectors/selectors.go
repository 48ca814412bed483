// Package selectors materializes query result rows into Go values. A Selector
// reads one row; a Handler consumes a whole result set into the shape a terminal
// operator returns.
package selectors

import (
	"bytes"
	"fmt"

	"github.com/asaidimu/go-marten/core/schema"
)

// Rows is a forward-only result set. *pgx.Rows satisfies it.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// Selector reads the current row.
type Selector[T any] interface {
	Read(rows Rows) (T, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc[T any] func(rows Rows) (T, error)

func (f SelectorFunc[T]) Read(rows Rows) (T, error) { return f(rows) }

// Decoder turns the jsonb data column into a value.
type Decoder[T any] func(data []byte) (T, error)

var jsonNull = []byte("null")

// IsNull reports whether data is SQL NULL or the JSON null literal.
func IsNull(data []byte) bool {
	return data == nil || bytes.Equal(bytes.TrimSpace(data), jsonNull)
}

// JSON decodes documents and projections with the store's serializer. NULL
// decodes to the zero value.
func JSON[T any](s schema.Serializer) Decoder[T] {
	return func(data []byte) (T, error) {
		var out T
		if IsNull(data) {
			return out, nil
		}
		if err := s.FromJSON(data, &out); err != nil {
			return out, fmt.Errorf("failed to decode %T: %w", out, err)
		}
		return out, nil
	}
}

// Data reads a single jsonb data column.
func Data[T any](decode Decoder[T]) Selector[T] {
	return SelectorFunc[T](func(rows Rows) (T, error) {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			var zero T
			return zero, fmt.Errorf("failed to scan data column: %w", err)
		}
		return decode(data)
	})
}

// Value scans a single column directly into T, as for count(*) or boolean results.
func Value[T any]() Selector[T] {
	return SelectorFunc[T](func(rows Rows) (T, error) {
		var v T
		if err := rows.Scan(&v); err != nil {
			return v, fmt.Errorf("failed to scan %T: %w", v, err)
		}
		return v, nil
	})
}

// Raw passes the jsonb data column through untouched.
func Raw() Selector[[]byte] {
	return SelectorFunc[[]byte](func(rows Rows) ([]byte, error) {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan data column: %w", err)
		}
		return bytes.Clone(data), nil
	})
}

// Identified is a document read together with its id.
type Identified[T any] struct {
	Id       string
	Document T
}

// Identity reads an "id, data" row pair.
func Identity[T any](decode Decoder[T]) Selector[Identified[T]] {
	return SelectorFunc[Identified[T]](func(rows Rows) (Identified[T], error) {
		var (
			out  Identified[T]
			data []byte
		)
		if err := rows.Scan(&out.Id, &data); err != nil {
			return out, fmt.Errorf("failed to scan id and data columns: %w", err)
		}
		doc, err := decode(data)
		if err != nil {
			return out, err
		}
		out.Document = doc
		return out, nil
	})
}

// Statistics receives the total number of rows matching a query before paging.
type Statistics struct {
	TotalResults int64
}

// WithStats reads a "data, total_rows" row pair, recording the total in stats.
func WithStats[T any](decode Decoder[T], stats *Statistics) Selector[T] {
	return SelectorFunc[T](func(rows Rows) (T, error) {
		var (
			data  []byte
			total int64
		)
		if err := rows.Scan(&data, &total); err != nil {
			var zero T
			return zero, fmt.Errorf("failed to scan data and total_rows columns: %w", err)
		}
		stats.TotalResults = total
		return decode(data)
	})
}
