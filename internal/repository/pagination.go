package repository

// Pagination carries 1-based page addressing for list queries.
type Pagination struct {
	Page     int
	PageSize int
}

// Offset is the number of rows to skip for the requested page.
func (p Pagination) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Limit is the page size, falling back to 10 when none was requested.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return 10
	}
	return p.PageSize
}
