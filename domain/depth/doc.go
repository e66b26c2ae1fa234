// Package depth keeps an aggregated price -> quantity view of a book,
// built only from the book's quote and trade feed.
//
// Each side is a red-black tree of price levels so best price, top-N
// and cumulative quantity queries walk levels in price order without
// sorting.
package depth
