package api

import (
    "bytes"
    "embed"
    "encoding/json"

    "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
    timelineRequestSchema = mustCompileSchema("timeline_request.json")
    routeRequestSchema    = mustCompileSchema("route_request.json")
    missionSchema         = mustCompileSchema("mission.json")
    legSchema             = mustCompileSchema("leg.json")
    subscriptionSchema    = mustCompileSchema("subscription.json")
)

func mustCompileSchema(name string) *jsonschema.Schema {
    b, err := schemaFS.ReadFile("schema/" + name)
    if err != nil {
        panic(err)
    }
    c := jsonschema.NewCompiler()
    c.Draft = jsonschema.Draft2020
    c.AssertFormat = true
    url := "mem://schema/" + name
    if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
        panic(err)
    }
    return c.MustCompile(url)
}

// validateBody checks body against sch and decodes it into v.
func validateBody(sch *jsonschema.Schema, body []byte, v any) error {
    var doc any
    dec := json.NewDecoder(bytes.NewReader(body))
    dec.UseNumber()
    if err := dec.Decode(&doc); err != nil {
        return &malformedError{err: err}
    }
    if err := sch.Validate(doc); err != nil {
        return err
    }
    return decodeJSON(body, v)
}
