package integration

import (
	"strconv"
	"time"
)

type Book struct {
	ID          int
	Name        string
	Price       string
	PublishedAt time.Time
}

// CreateBooks returns count books with ids starting at first.
func CreateBooks(first, count int) []Book {
	published := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	res := make([]Book, count)
	for i := range count {
		id := first + i
		res[i] = Book{
			ID:          id,
			Name:        "book-no-" + strconv.Itoa(id),
			Price:       strconv.Itoa(id) + ".50",
			PublishedAt: published.Add(time.Duration(id) * time.Hour),
		}
	}
	return res
}
