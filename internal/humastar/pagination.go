// pagination.go: HATEOAS pagination via RFC 8288 Link headers.
//
// Response bodies implement the Pager interface to emit next/prev/first/last
// Link headers. The API's link transformer reads them and sets the headers.
package humastar

import "fmt"

// Pager is implemented by response bodies that carry pagination metadata.
type Pager interface {
	PaginationLinks(basePath string) []string
}

// PageInput is embedded in list inputs.
type PageInput struct {
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Number of items to skip"`
	Limit  int `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Page size"`
}

// PageBody is a generic paginated response envelope.
type PageBody[T any] struct {
	Total  int `json:"total" doc:"Total number of items"`
	Offset int `json:"offset" doc:"Current offset"`
	Limit  int `json:"limit" doc:"Page size"`
	Data   []T `json:"data" doc:"Items"`
}

// Paginate slices items according to in.
func Paginate[T any](items []T, in PageInput) PageBody[T] {
	if in.Limit <= 0 {
		in.Limit = len(items)
	}
	start := min(max(in.Offset, 0), len(items))
	end := min(start+in.Limit, len(items))
	data := items[start:end]
	if data == nil {
		data = []T{}
	}
	return PageBody[T]{Total: len(items), Offset: start, Limit: in.Limit, Data: data}
}

// PaginationLinks returns RFC 8288 Link header values for pagination rels.
func (p PageBody[T]) PaginationLinks(basePath string) []string {
	if p.Limit <= 0 {
		return nil
	}
	var links []string

	links = append(links, fmt.Sprintf(`<%s?offset=0&limit=%d>; rel="first"`, basePath, p.Limit))

	if p.Offset > 0 {
		prev := max(p.Offset-p.Limit, 0)
		links = append(links, fmt.Sprintf(`<%s?offset=%d&limit=%d>; rel="prev"`, basePath, prev, p.Limit))
	}

	if p.Offset+p.Limit < p.Total {
		links = append(links, fmt.Sprintf(`<%s?offset=%d&limit=%d>; rel="next"`, basePath, p.Offset+p.Limit, p.Limit))
	}

	lastOffset := max(((p.Total-1)/p.Limit)*p.Limit, 0)
	links = append(links, fmt.Sprintf(`<%s?offset=%d&limit=%d>; rel="last"`, basePath, lastOffset, p.Limit))

	return links
}
