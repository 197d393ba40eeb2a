package book

import "errors"

var (
	// ErrNoBookSpace is returned by Insert when the slab cannot extend
	// (wraps ErrSlabExhausted at the book-operation boundary).
	ErrNoBookSpace = errors.New("book: no book space")
	// ErrDupOrderID is returned by Insert when order_id already has a
	// live hashmap entry.
	ErrDupOrderID = errors.New("book: duplicate order id")
	// ErrBadProduct is returned when a product id is outside the
	// configured range.
	ErrBadProduct = errors.New("book: product id out of range")
	// ErrBadOrg is returned when an org id is outside the configured
	// range.
	ErrBadOrg = errors.New("book: org id out of range")
	// ErrUnknownOrder is returned by internal lookups that require an
	// order to exist; the public Cancel/Deactivate/Activate surface
	// returns (false, nil) instead.
	ErrUnknownOrder = errors.New("book: unknown order id")
)
