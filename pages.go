package main

import "fmt"

const PageSize int = 25

// PageSlice is the part [First:Last] of zero-based catalog page Page that
// belongs to a proxy page.
type PageSlice struct {
	Page  int
	First int
	Last  int
}

// SlicePages maps 1-based proxy page page of size pageSize onto catalog
// pages of size srcPageSize.
func SlicePages(page int, pageSize int, srcPageSize int) []PageSlice {
	if page < 1 {
		page = 1
	}
	startOffset := (page - 1) * pageSize
	endOffset := startOffset + pageSize
	var pages []PageSlice
	for p := startOffset / srcPageSize; p*srcPageSize < endOffset; p++ {
		base := p * srcPageSize
		pages = append(pages, PageSlice{
			Page:  p,
			First: max(startOffset-base, 0),
			Last:  min(endOffset-base, srcPageSize),
		})
	}
	return pages
}

func (p PageSlice) String() string {
	return fmt.Sprintf("#%d [%d:%d]", p.Page, p.First, p.Last)
}
