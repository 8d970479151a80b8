package simdasi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// availableMarker is the value of "data-availability" on usable responses.
const availableMarker = "available"

// PayloadError reports a response that does not have the shape an endpoint
// is expected to return.
type PayloadError struct {
	Endpoint string // "catalog" or "detail"
	Field    string // dotted path into the document
	Reason   string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("simdasi: %s payload: %s: %s", e.Endpoint, e.Field, e.Reason)
}

// envelope is the outer shape shared by the catalog and detail endpoints:
// an availability marker and a two-element "data" array whose second element
// carries the content.
type envelope struct {
	Availability string          `json:"data-availability"`
	Data         json.RawMessage `json:"data"`
}

// body validates availability and returns data[1].
func (e envelope) body(endpoint string) (json.RawMessage, error) {
	if e.Availability != availableMarker {
		return nil, fmt.Errorf("%w (data-availability=%q)", ErrUnavailable, e.Availability)
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(e.Data, &parts); err != nil {
		return nil, &PayloadError{Endpoint: endpoint, Field: "data", Reason: "not an array"}
	}
	if len(parts) < 2 {
		return nil, &PayloadError{Endpoint: endpoint, Field: "data", Reason: fmt.Sprintf("want at least 2 elements, got %d", len(parts))}
	}
	raw := bytes.TrimSpace(parts[1])
	if len(raw) == 0 || raw[0] != '{' {
		return nil, &PayloadError{Endpoint: endpoint, Field: "data[1]", Reason: "not an object"}
	}
	return raw, nil
}

// CatalogEntry is one table listed by the catalog endpoint (id/23).
type CatalogEntry struct {
	TableID string `json:"id_tabel"`
	Years   []int  `json:"ketersediaan_tahun"`
}

// UnmarshalJSON accepts id_tabel as string or number and years as numbers or
// numeric strings; the API has served both.
func (c *CatalogEntry) UnmarshalJSON(b []byte) error {
	var raw struct {
		TableID json.RawMessage   `json:"id_tabel"`
		Years   []json.RawMessage `json:"ketersediaan_tahun"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	id, err := scalarString(raw.TableID)
	if err != nil {
		return &PayloadError{Endpoint: "catalog", Field: "data[1].data[].id_tabel", Reason: err.Error()}
	}
	c.TableID = id
	c.Years = c.Years[:0]
	for _, y := range raw.Years {
		s, err := scalarString(y)
		if err != nil {
			return &PayloadError{Endpoint: "catalog", Field: "data[1].data[].ketersediaan_tahun", Reason: err.Error()}
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return &PayloadError{Endpoint: "catalog", Field: "data[1].data[].ketersediaan_tahun", Reason: fmt.Sprintf("year %q is not an integer", s)}
		}
		c.Years = append(c.Years, n)
	}
	return nil
}

// Catalog is the decoded content of a catalog response.
type Catalog struct {
	Tables []CatalogEntry `json:"data"`
}

// decodeCatalog validates and decodes a catalog response body.
func decodeCatalog(env envelope) (*Catalog, error) {
	raw, err := env.body("catalog")
	if err != nil {
		return nil, err
	}
	var c Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, wrapDecode("catalog", "data[1]", err)
	}
	return &c, nil
}

// Column is one entry of the detail payload's "kolom" mapping.
type Column struct {
	Key   string
	Label string
}

// columns decodes the "kolom" object preserving key order, which a Go map
// would lose.
type columns []Column

func (cs *columns) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*cs = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return &PayloadError{Endpoint: "detail", Field: "data[1].kolom", Reason: "not an object"}
	}
	var out columns
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var meta struct {
			Name *string `json:"nama_variabel"`
		}
		if err := dec.Decode(&meta); err != nil {
			return &PayloadError{Endpoint: "detail", Field: "data[1].kolom." + key, Reason: err.Error()}
		}
		if meta.Name == nil {
			return &PayloadError{Endpoint: "detail", Field: "data[1].kolom." + key + ".nama_variabel", Reason: "missing"}
		}
		out = append(out, Column{Key: key, Label: *meta.Name})
	}
	*cs = out
	return nil
}

// Row is one entry of the detail payload's row list.
type Row struct {
	Label string
	// Variables maps column key to the raw cell. A nil map means the row
	// carried no usable "variables" object.
	Variables map[string]json.RawMessage
}

func (r *Row) UnmarshalJSON(b []byte) error {
	var raw struct {
		Label     *string         `json:"label"`
		Variables json.RawMessage `json:"variables"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Label != nil {
		r.Label = *raw.Label
	}
	r.Variables = nil
	if v := bytes.TrimSpace(raw.Variables); len(v) > 0 && v[0] == '{' {
		var vars map[string]json.RawMessage
		if err := json.Unmarshal(v, &vars); err != nil {
			return err
		}
		r.Variables = vars
	}
	return nil
}

// rawValue returns the "value_raw" member for key, or nil when the row, the
// cell, or the member is absent or not an object.
func (r Row) rawValue(key string) json.RawMessage {
	cell := bytes.TrimSpace(r.Variables[key])
	if len(cell) == 0 || cell[0] != '{' {
		return nil
	}
	var v struct {
		Raw json.RawMessage `json:"value_raw"`
	}
	if err := json.Unmarshal(cell, &v); err != nil {
		return nil
	}
	return v.Raw
}

// Detail is the decoded content of one year's detail response (id/25).
type Detail struct {
	ScopeID    string          `json:"-"`
	CategoryID json.RawMessage `json:"mms_id"`
	Columns    columns         `json:"kolom"`
	Rows       []Row           `json:"data"`
}

// decodeDetail validates and decodes a detail response body.
func decodeDetail(env envelope) (*Detail, error) {
	raw, err := env.body("detail")
	if err != nil {
		return nil, err
	}
	var d Detail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, wrapDecode("detail", "data[1]", err)
	}
	var scope struct {
		ScopeID json.RawMessage `json:"lingkup_id"`
	}
	if err := json.Unmarshal(raw, &scope); err != nil {
		return nil, wrapDecode("detail", "data[1].lingkup_id", err)
	}
	if d.ScopeID, err = scalarString(scope.ScopeID); err != nil {
		return nil, &PayloadError{Endpoint: "detail", Field: "data[1].lingkup_id", Reason: err.Error()}
	}
	return &d, nil
}

// scalarString renders a JSON string or number as a Go string. null and an
// absent member yield "".
func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(raw), nil
	default:
		return "", fmt.Errorf("want string or number, got %s", truncate(string(raw), 32))
	}
}

func wrapDecode(endpoint, field string, err error) error {
	var pe *PayloadError
	if errors.As(err, &pe) {
		return pe
	}
	return &PayloadError{Endpoint: endpoint, Field: field, Reason: err.Error()}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
