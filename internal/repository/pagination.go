package repository

import "strings"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func pageWindow(page, size int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}
	return size, (page - 1) * size
}

func sanitizeSort(sortBy, fallback string, allowed ...string) string {
	for _, column := range allowed {
		if sortBy == column {
			return sortBy
		}
	}
	return fallback
}

func sanitizeOrder(order string) string {
	order = strings.ToUpper(order)
	if order != "ASC" && order != "DESC" {
		return "DESC"
	}
	return order
}
