package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/forest-sync/internal/humastar"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/sinks>; rel="sinks"`,
		`</api/v1/owners>; rel="owners"`,
		`</api/v1/feed>; rel="feed"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/sinks>; rel="sinks"`,
	},
	"/api/v1/sinks": {
		`</api/v1/owners>; rel="owners"`,
		`</api/v1/sinks/{id}>; rel="item"`,
	},
	"/api/v1/sinks/{id}": {
		`</api/v1/sinks>; rel="collection"`,
	},
	"/api/v1/owners": {
		`</api/v1/sinks>; rel="sinks"`,
		`</api/v1/owners/{id}>; rel="item"`,
	},
	"/api/v1/owners/{id}": {
		`</api/v1/owners>; rel="collection"`,
	},
	"/api/v1/feed": {
		`</api/v1/feed/refresh>; rel="refresh"; method="POST"`,
		`</api/v1/sinks>; rel="sinks"`,
	},
	"/api/v1/tables": {
		`</api/v1/query>; rel="query"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link
// headers: the static links above, a self link for item endpoints, the
// actions of bodies implementing humastar.Actor and the page links of bodies
// implementing humastar.Pager.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if a, ok := v.(humastar.Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		if p, ok := v.(humastar.Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}

		return v, nil
	}
}
