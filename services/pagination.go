package services

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Pagination normalises page and limit query values and returns the offset
func Pagination(page, limit int) (offset, size int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return (page - 1) * limit, limit
}
