package domain

const (
	// DefaultPageLimit applies when a list request does not set limit.
	DefaultPageLimit = 20
	// MaxPageLimit caps limit on every list endpoint.
	MaxPageLimit = 100
)

// PaginationParams is the page window for trip and delivery listings.
// Page is 1-indexed.
type PaginationParams struct {
	Page  int
	Limit int
}

// NewPaginationParams normalises optional query values. Missing or
// non-positive values fall back to page 1 and DefaultPageLimit; limit is
// clamped to MaxPageLimit.
func NewPaginationParams(page, limit *int) PaginationParams {
	p := PaginationParams{Page: 1, Limit: DefaultPageLimit}
	if page != nil && *page > 0 {
		p.Page = *page
	}
	if limit != nil && *limit > 0 {
		p.Limit = min(*limit, MaxPageLimit)
	}
	return p
}

// Offset is the number of rows skipped before this page.
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.Limit
}
