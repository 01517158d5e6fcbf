package model

// DefaultPageSize is the number of top-level comments per page.
const DefaultPageSize = 50

// Pagination describes the loaded window of top-level comments.
type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasMore bool `json:"hasMore"`
}

// NewPagination derives pages and hasMore from page, limit and total.
func NewPagination(page, limit, total int) Pagination {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	if total < 0 {
		total = 0
	}
	pages := (total + limit - 1) / limit
	return Pagination{
		Page:    page,
		Limit:   limit,
		Total:   total,
		Pages:   pages,
		HasMore: page < pages,
	}
}

// Offset is the number of top-level comments preceding this page.
func (p Pagination) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}
