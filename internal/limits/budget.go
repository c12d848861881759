package limits

import "fmt"

// Budget counts units of some resource against a fixed limit. A zero limit
// means unlimited. A nil *Budget is valid and never runs out.
type Budget struct {
	resource string
	limit    int64
	used     int64
}

func NewBudget(resource string, limit int64) *Budget {
	if limit < 0 {
		limit = 0
	}
	return &Budget{resource: resource, limit: limit}
}

func (b *Budget) Limit() int64 {
	if b == nil {
		return 0
	}
	return b.limit
}

func (b *Budget) Used() int64 {
	if b == nil {
		return 0
	}
	return b.used
}

// Reset clears usage so the budget can be reused for another run.
func (b *Budget) Reset() {
	if b != nil {
		b.used = 0
	}
}

type ExceededError struct {
	Resource string
	Limit    int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("max %s count exceeded (%d)", e.Resource, e.Limit)
}

func (b *Budget) Charge(n int64) error {
	if b == nil || b.limit == 0 {
		return nil
	}
	if n <= 0 {
		return nil
	}
	if b.used+n > b.limit {
		return &ExceededError{Resource: b.resource, Limit: b.limit}
	}
	b.used += n
	return nil
}
