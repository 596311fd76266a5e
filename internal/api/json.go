package api

import (
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"

    "github.com/santhosh-tekuri/jsonschema/v5"

    "commsplan/internal/integrations/csvroute"
    "commsplan/internal/logging"
    "commsplan/internal/store"
    "commsplan/internal/timeline"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Problem represents an RFC7807 problem details response body.
type Problem struct {
    Type     string `json:"type"`
    Title    string `json:"title"`
    Status   int    `json:"status"`
    Detail   string `json:"detail,omitempty"`
    Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
    w.Header().Set("Content-Type", "application/problem+json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(Problem{
        Type:     "about:blank",
        Title:    title,
        Status:   status,
        Detail:   detail,
        Instance: instance,
    })
}

// malformedError marks a body that is not valid JSON (400, as opposed to a
// well-formed body that fails validation, 422).
type malformedError struct{ err error }

func (e *malformedError) Error() string { return e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

// invalidInputError is a semantic validation failure outside the engine.
type invalidInputError struct{ msg string }

func (e *invalidInputError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
    return &invalidInputError{msg: fmt.Sprintf(format, args...)}
}

// readBody reads at most maxBodyBytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
    b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
    if err != nil {
        return nil, &malformedError{err: err}
    }
    return b, nil
}

func decodeJSON(b []byte, v any) error {
    if err := json.Unmarshal(b, v); err != nil {
        return &malformedError{err: err}
    }
    return nil
}

// writeError maps service and engine errors onto Problem responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
    p := s.problemFor(r, err)
    writeProblem(w, p.Status, p.Title, p.Detail, p.Instance)
}

// problemFor classifies err. Bad input maps to 4xx; anything else is logged
// and reported as a 500 without internal detail.
func (s *Server) problemFor(r *http.Request, err error) Problem {
    var (
        mal *malformedError
        inv *invalidInputError
        ve  *jsonschema.ValidationError
        ir  *timeline.InvalidRouteError
        uw  *timeline.UnknownWaypointError
        ce  *timeline.ConsistencyError
        pe  *csvroute.ParseError
    )
    p := Problem{Type: "about:blank", Instance: r.URL.Path}
    set := func(status int, title, detail string) Problem {
        p.Status, p.Title, p.Detail = status, title, detail
        return p
    }
    switch {
    case errors.As(err, &mal):
        return set(http.StatusBadRequest, "Invalid JSON", err.Error())
    case errors.As(err, &ve):
        return set(http.StatusUnprocessableEntity, "Request failed schema validation", schemaDetail(ve))
    case errors.As(err, &inv):
        return set(http.StatusUnprocessableEntity, "Invalid request", err.Error())
    case errors.As(err, &ir):
        return set(http.StatusUnprocessableEntity, "Invalid route", err.Error())
    case errors.As(err, &uw):
        return set(http.StatusUnprocessableEntity, "Unknown waypoint", err.Error())
    case errors.As(err, &pe):
        return set(http.StatusUnprocessableEntity, "Invalid route file", err.Error())
    case errors.Is(err, store.ErrNotFound):
        return set(http.StatusNotFound, "Not Found", "")
    case errors.Is(err, store.ErrVersionConflict):
        return set(http.StatusConflict, "Version conflict", "the leg was modified since it was read")
    case errors.Is(err, store.ErrRouteAttached):
        return set(http.StatusConflict, "Route already attached", "routes are immutable once attached")
    case errors.As(err, &ce):
        s.logger(r).Error(r.Context(), "timeline consistency failure", logging.Err(err))
        return set(http.StatusInternalServerError, "Timeline computation failed", "internal consistency check failed")
    }
    s.logger(r).Error(r.Context(), "request failed", logging.Err(err))
    return set(http.StatusInternalServerError, "Internal error", "")
}

// schemaDetail flattens the leaf causes of a validation error into one line.
func schemaDetail(ve *jsonschema.ValidationError) string {
    leaves := []*jsonschema.ValidationError{}
    var walk func(e *jsonschema.ValidationError)
    walk = func(e *jsonschema.ValidationError) {
        if len(e.Causes) == 0 {
            leaves = append(leaves, e)
            return
        }
        for _, c := range e.Causes { walk(c) }
    }
    walk(ve)
    out := ""
    for i, l := range leaves {
        if i > 0 { out += "; " }
        loc := l.InstanceLocation
        if loc == "" { loc = "/" }
        out += loc + ": " + l.Message
    }
    return out
}
