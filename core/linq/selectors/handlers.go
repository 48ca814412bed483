package selectors

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrNoElements is returned by First, Single and the non-nullable aggregates
	// when nothing matched.
	ErrNoElements = errors.New("Sequence contains no elements")
	// ErrMoreThanOneElement is returned by Single when more than one row matched.
	ErrMoreThanOneElement = errors.New("Sequence contains more than one element")
)

// Handler consumes a result set.
type Handler[T any] interface {
	Handle(rows Rows) (T, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(rows Rows) (T, error)

func (f HandlerFunc[T]) Handle(rows Rows) (T, error) { return f(rows) }

// List reads every row.
func List[T any](sel Selector[T]) Handler[[]T] {
	return HandlerFunc[[]T](func(rows Rows) ([]T, error) {
		out := make([]T, 0)
		for rows.Next() {
			v, err := sel.Read(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// OneMode selects how One treats empty and oversized result sets.
type OneMode int

const (
	First OneMode = iota
	FirstOrDefault
	Single
	SingleOrDefault
)

func (m OneMode) String() string {
	return [...]string{"First", "FirstOrDefault", "Single", "SingleOrDefault"}[m]
}

// Limit is the row limit the statement needs: two for Single so a second row can
// be detected.
func (m OneMode) Limit() int {
	if m == Single || m == SingleOrDefault {
		return 2
	}
	return 1
}

// OrDefault reports whether an empty result yields the zero value.
func (m OneMode) OrDefault() bool { return m == FirstOrDefault || m == SingleOrDefault }

// One reads at most one element.
func One[T any](sel Selector[T], mode OneMode) Handler[T] {
	return HandlerFunc[T](func(rows Rows) (T, error) {
		var zero T
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return zero, err
			}
			if mode.OrDefault() {
				return zero, nil
			}
			return zero, ErrNoElements
		}
		v, err := sel.Read(rows)
		if err != nil {
			return zero, err
		}
		if (mode == Single || mode == SingleOrDefault) && rows.Next() {
			return zero, ErrMoreThanOneElement
		}
		if err := rows.Err(); err != nil {
			return zero, err
		}
		return v, nil
	})
}

// Scalar reads the single row of an aggregate.
func Scalar[T any](sel Selector[T]) Handler[T] {
	return One(sel, FirstOrDefault)
}

// Aggregate reads a jsonb aggregate such as max or avg. A NULL result means the
// sequence was empty, which is an error unless nullable is set.
func Aggregate[T any](decode Decoder[T], nullable bool) Handler[T] {
	return HandlerFunc[T](func(rows Rows) (T, error) {
		var (
			zero T
			data []byte
		)
		if rows.Next() {
			if err := rows.Scan(&data); err != nil {
				return zero, fmt.Errorf("failed to scan aggregate: %w", err)
			}
		}
		if err := rows.Err(); err != nil {
			return zero, err
		}
		if IsNull(data) {
			if nullable {
				return zero, nil
			}
			return zero, ErrNoElements
		}
		return decode(data)
	})
}

// Any reports whether the result set has a row.
func Any() Handler[bool] {
	return HandlerFunc[bool](func(rows Rows) (bool, error) {
		found := rows.Next()
		if err := rows.Err(); err != nil {
			return false, err
		}
		return found, nil
	})
}

// JSONArray joins the jsonb rows into one JSON array without decoding them.
func JSONArray() Handler[string] {
	raw := Raw()
	return HandlerFunc[string](func(rows Rows) (string, error) {
		var buf bytes.Buffer
		buf.WriteByte('[')
		first := true
		for rows.Next() {
			data, err := raw.Read(rows)
			if err != nil {
				return "", err
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			if data == nil {
				data = jsonNull
			}
			buf.Write(data)
		}
		if err := rows.Err(); err != nil {
			return "", err
		}
		buf.WriteByte(']')
		return buf.String(), nil
	})
}

// PagedList is one page of results with the paging metadata derived from the
// total row count.
type PagedList[T any] struct {
	Items           []T
	PageNumber      int
	PageSize        int
	TotalItemCount  int64
	PageCount       int64
	HasPreviousPage bool
	HasNextPage     bool
	IsFirstPage     bool
	IsLastPage      bool
	FirstItemOnPage int64
	LastItemOnPage  int64
}

// NewPagedList computes the paging metadata for a page of items.
func NewPagedList[T any](items []T, pageNumber, pageSize int, total int64) *PagedList[T] {
	p := &PagedList[T]{Items: items, PageNumber: pageNumber, PageSize: pageSize, TotalItemCount: total}
	if pageSize > 0 {
		p.PageCount = (total + int64(pageSize) - 1) / int64(pageSize)
	}
	p.HasPreviousPage = pageNumber > 1
	p.HasNextPage = int64(pageNumber) < p.PageCount
	p.IsFirstPage = pageNumber == 1
	p.IsLastPage = int64(pageNumber) >= p.PageCount
	if len(items) > 0 {
		p.FirstItemOnPage = int64(pageNumber-1)*int64(pageSize) + 1
		p.LastItemOnPage = p.FirstItemOnPage + int64(len(items)) - 1
	}
	return p
}

// Paged reads a page whose rows carry the total row count.
func Paged[T any](decode Decoder[T], pageNumber, pageSize int) Handler[*PagedList[T]] {
	return HandlerFunc[*PagedList[T]](func(rows Rows) (*PagedList[T], error) {
		var stats Statistics
		items, err := List(WithStats(decode, &stats)).Handle(rows)
		if err != nil {
			return nil, err
		}
		return NewPagedList(items, pageNumber, pageSize, stats.TotalResults), nil
	})
}
