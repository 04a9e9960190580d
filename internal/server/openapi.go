package server

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
)

var errorResponse = &huma.Response{
	Description: "Ledger error envelope",
	Content: map[string]*huma.MediaType{
		"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
	},
}

var writeSecurity = []map[string][]string{
	{"bearerAuth": {}},
	{"apiKeyAuth": {}},
}

// openAPIHandler serves the generated document once, after adding the error
// envelope to every operation and the auth schemes to write operations.
func openAPIHandler(api huma.API, basePath string) http.HandlerFunc {
	var (
		once sync.Once
		doc  []byte
	)
	return func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			decorateOpenAPI(oas, path.Join("/", basePath, "auth/dev/login"))
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	}
}

func decorateOpenAPI(oas *huma.OpenAPI, devLoginPath string) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}

	for route, item := range oas.Paths {
		reads := []*huma.Operation{item.Get, item.Head}
		writes := []*huma.Operation{item.Post, item.Put, item.Patch, item.Delete}
		for i, op := range append(reads, writes...) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = errorResponse
			if i >= len(reads) && route != devLoginPath {
				op.Security = writeSecurity
			}
		}
	}
}

const docsPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8"/>
<title>Bountyline API</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
</head>
<body>
<p>Reads are public. Writes take <code>Authorization: Bearer &lt;jwt&gt;</code> or <code>X-Api-Key</code>.</p>
<div id="ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
<script>SwaggerUIBundle({url: "{{SPEC}}", dom_id: "#ui"});</script>
</body>
</html>
`

func docsHandler(basePath string) http.HandlerFunc {
	page := strings.Replace(docsPage, "{{SPEC}}", path.Join("/", basePath, "openapi.json"), 1)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}
}
