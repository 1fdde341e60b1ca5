// Package query filters, sorts and paginates script listings.
package query

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/CZERTAINLY/scriptd/internal/model"
	"github.com/CZERTAINLY/scriptd/internal/script"
)

const (
	DefaultPageSize = 20
	// DefaultStatus is the state priority used without a status filter.
	DefaultStatus = "cfsrq"
)

// Sort keys.
const (
	SortStatus  = "status"
	SortCreated = "created"
	SortStarted = "started"
	SortEnded   = "ended"
	SortName    = "name"
)

const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

var letters = map[rune]model.State{
	'c': model.StateCanceled,
	'f': model.StateFailed,
	's': model.StateSucceeded,
	'r': model.StateRunning,
	'q': model.StateQueued,
}

// Query describes a listing request. Status holds state letters, their
// order is the sort priority of states.
type Query struct {
	Status   string
	Name     string
	Page     int
	PageSize int
	Sort     string
	Order    string
}

// Page is one page of results. TotalPages is 0 for an empty result.
type Page struct {
	Items      []script.Info `json:"items"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalItems int           `json:"totalItems"`
	TotalPages int           `json:"totalPages"`
}

// Lister provides snapshots of scripts matching states and a name
// substring.
type Lister interface {
	List(states []model.State, substr string) []script.Info
}

// ParseStatus converts filter letters to states, preserving their order.
func ParseStatus(s string) ([]model.State, error) {
	if len(s) > len(letters) {
		return nil, fmt.Errorf("%w: status filter %q has more than %d letters", model.ErrInvalidArgument, s, len(letters))
	}
	ret := make([]model.State, 0, len(s))
	for _, r := range strings.ToLower(s) {
		state, ok := letters[r]
		if !ok {
			return nil, fmt.Errorf("%w: unknown status letter %q", model.ErrInvalidArgument, r)
		}
		if slices.Contains(ret, state) {
			return nil, fmt.Errorf("%w: duplicate status letter %q", model.ErrInvalidArgument, r)
		}
		ret = append(ret, state)
	}
	return ret, nil
}

// Run lists scripts from l and returns the requested page.
func Run(q Query, l Lister) (Page, error) {
	c, err := q.compile()
	if err != nil {
		return Page{}, err
	}
	items := l.List(c.filter, q.Name)
	slices.SortFunc(items, c.compare)
	return paginate(items, q.Page, q.PageSize)
}

type compiled struct {
	filter  []model.State
	compare func(a, b script.Info) int
}

func (q Query) compile() (compiled, error) {
	filter, err := ParseStatus(q.Status)
	if err != nil {
		return compiled{}, err
	}
	if q.Page < 1 {
		return compiled{}, fmt.Errorf("%w: page must be >= 1, got %d", model.ErrInvalidArgument, q.Page)
	}
	if q.PageSize < 1 {
		return compiled{}, fmt.Errorf("%w: page size must be >= 1, got %d", model.ErrInvalidArgument, q.PageSize)
	}

	priority := filter
	if len(priority) == 0 {
		priority, _ = ParseStatus(DefaultStatus)
	}

	var primary func(a, b script.Info) int
	desc := false
	switch q.Sort {
	case "", SortStatus:
		primary = func(a, b script.Info) int {
			return cmp.Compare(slices.Index(priority, a.State), slices.Index(priority, b.State))
		}
	case SortCreated:
		primary = func(a, b script.Info) int { return a.CreatedAt.Compare(b.CreatedAt) }
		desc = true
	case SortStarted:
		primary = func(a, b script.Info) int { return a.StartedAt.Compare(b.StartedAt) }
		desc = true
	case SortEnded:
		primary = func(a, b script.Info) int { return a.EndedAt.Compare(b.EndedAt) }
		desc = true
	case SortName:
		primary = func(a, b script.Info) int { return strings.Compare(a.Name, b.Name) }
	default:
		return compiled{}, fmt.Errorf("%w: unknown sort key %q", model.ErrInvalidArgument, q.Sort)
	}

	switch q.Order {
	case "":
	case OrderAsc:
		desc = false
	case OrderDesc:
		desc = true
	default:
		return compiled{}, fmt.Errorf("%w: unknown order %q, expected %s or %s", model.ErrInvalidArgument, q.Order, OrderAsc, OrderDesc)
	}

	return compiled{
		filter: filter,
		compare: func(a, b script.Info) int {
			c := primary(a, b)
			if desc {
				c = -c
			}
			if c != 0 {
				return c
			}
			// newest first, then by name
			if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
				return c
			}
			return strings.Compare(a.Name, b.Name)
		},
	}, nil
}

func paginate(items []script.Info, page, size int) (Page, error) {
	total := len(items)
	pages := total / size
	if total%size != 0 {
		pages++
	}
	if page > max(pages, 1) {
		return Page{}, fmt.Errorf("%w: page %d of %d", model.ErrPageOutOfRange, page, pages)
	}
	start := min((page-1)*size, total)
	end := min(start+size, total)
	return Page{
		Items:      append([]script.Info{}, items[start:end]...),
		Page:       page,
		PageSize:   size,
		TotalItems: total,
		TotalPages: pages,
	}, nil
}
