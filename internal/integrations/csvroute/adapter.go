// Package csvroute reads waypoints from CSV exports of the route-planning tool.
package csvroute

import (
    "context"
    "encoding/csv"
    "errors"
    "fmt"
    "io"
    "strconv"
    "strings"

    "commsplan/internal/model"
)

// ParseError reports a malformed row. Line is 1-based and counts the header.
type ParseError struct {
    Line   int
    Reason string
}

func (e *ParseError) Error() string {
    if e.Line == 0 {
        return "csv route: " + e.Reason
    }
    return fmt.Sprintf("csv route line %d: %s", e.Line, e.Reason)
}

var required = []string{"sequence", "latitude", "longitude", "elapsed_seconds"}

// Adapter parses sequence,name,latitude,longitude,altitude,elapsed_seconds
// rows. Column order is free; name and altitude are optional.
type Adapter struct {
    MaxRows int // 0 means 10000
}

func (Adapter) Name() string { return "csv" }

func (Adapter) ContentTypes() []string { return []string{"text/csv", "application/csv"} }

func (a Adapter) Waypoints(ctx context.Context, r io.Reader) ([]model.Waypoint, error) {
    max := a.MaxRows
    if max <= 0 { max = 10000 }
    cr := csv.NewReader(r)
    cr.TrimLeadingSpace = true
    cr.FieldsPerRecord = -1
    cr.Comment = '#'

    header, err := cr.Read()
    if errors.Is(err, io.EOF) {
        return nil, &ParseError{Reason: "empty input"}
    }
    if err != nil {
        return nil, &ParseError{Reason: err.Error()}
    }
    col := map[string]int{}
    for i, h := range header {
        col[strings.ToLower(strings.TrimSpace(h))] = i
    }
    for _, name := range required {
        if _, ok := col[name]; !ok {
            return nil, &ParseError{Line: 1, Reason: "missing column " + name}
        }
    }

    var out []model.Waypoint
    for {
        if err := ctx.Err(); err != nil { return nil, err }
        rec, err := cr.Read()
        if errors.Is(err, io.EOF) { break }
        if err != nil {
            var ce *csv.ParseError
            line := 0
            if errors.As(err, &ce) { line = ce.Line }
            return nil, &ParseError{Line: line, Reason: err.Error()}
        }
        line, _ := cr.FieldPos(0)
        if len(out) == max {
            return nil, &ParseError{Line: line, Reason: fmt.Sprintf("more than %d rows", max)}
        }
        wp, err := parseRow(rec, col)
        if err != nil {
            return nil, &ParseError{Line: line, Reason: err.Error()}
        }
        out = append(out, wp)
    }
    if len(out) == 0 {
        return nil, &ParseError{Reason: "no waypoints"}
    }
    return out, nil
}

func parseRow(rec []string, col map[string]int) (model.Waypoint, error) {
    get := func(name string) string {
        i, ok := col[name]
        if !ok || i >= len(rec) { return "" }
        return strings.TrimSpace(rec[i])
    }
    num := func(name string) (float64, error) {
        v, err := strconv.ParseFloat(get(name), 64)
        if err != nil { return 0, fmt.Errorf("%s: %q is not a number", name, get(name)) }
        return v, nil
    }
    var wp model.Waypoint
    seq, err := strconv.Atoi(get("sequence"))
    if err != nil { return wp, fmt.Errorf("sequence: %q is not an integer", get("sequence")) }
    wp.Sequence = seq
    wp.Name = get("name")
    if wp.Latitude, err = num("latitude"); err != nil { return wp, err }
    if wp.Longitude, err = num("longitude"); err != nil { return wp, err }
    if wp.ElapsedSeconds, err = num("elapsed_seconds"); err != nil { return wp, err }
    if get("altitude") != "" {
        alt, err := num("altitude")
        if err != nil { return wp, err }
        wp.Altitude = &alt
    }
    return wp, nil
}
