package api

import (
    _ "embed"
    "encoding/json"
    "html/template"
    "net/http"
    "sync"

    yaml "gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIYAML []byte

var (
    openAPIOnce sync.Once
    openAPIJSON []byte
    openAPIErr  error
)

// openAPIDocument converts the embedded YAML document to JSON once.
func openAPIDocument() ([]byte, error) {
    openAPIOnce.Do(func() {
        var obj map[string]any
        if openAPIErr = yaml.Unmarshal(openAPIYAML, &obj); openAPIErr != nil {
            return
        }
        openAPIJSON, openAPIErr = json.Marshal(obj)
    })
    return openAPIJSON, openAPIErr
}

// OpenAPIHandler serves the OpenAPI spec
func (s *Server) OpenAPIHandler(w http.ResponseWriter, r *http.Request) {
    w.Header().Set("Content-Type", "application/yaml")
    w.WriteHeader(http.StatusOK)
    _, _ = w.Write(openAPIYAML)
}

// OpenAPIJSONHandler serves the same document as JSON.
func (s *Server) OpenAPIJSONHandler(w http.ResponseWriter, r *http.Request) {
    b, err := openAPIDocument()
    if err != nil { writeProblem(w, http.StatusInternalServerError, "OpenAPI parse failed", err.Error(), r.URL.Path); return }
    w.Header().Set("Content-Type", "application/json")
    _, _ = w.Write(b)
}

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html><html><head><title>commsplan API</title>
<meta charset="utf-8"/>
<meta name="viewport" content="width=device-width, initial-scale=1">
<script src="https://cdn.jsdelivr.net/npm/redoc@next/bundles/redoc.standalone.js"></script>
</head><body>
<div id="redoc"></div>
<script>Redoc.init({{.}}, {}, document.getElementById('redoc'));</script>
</body></html>`))

// DocsHandler serves a ReDoc page with the OpenAPI document inlined.
func (s *Server) DocsHandler(w http.ResponseWriter, r *http.Request) {
    b, err := openAPIDocument()
    if err != nil { writeProblem(w, http.StatusInternalServerError, "OpenAPI parse failed", err.Error(), r.URL.Path); return }
    var spec any
    _ = json.Unmarshal(b, &spec)
    w.Header().Set("Content-Type", "text/html; charset=utf-8")
    _ = docsPage.Execute(w, spec)
}
