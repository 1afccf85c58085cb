package forwarder

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/chain-data-gateway/internal/pagination"
)

// Payload is an upstream JSON body classified once by shape. It is one of
// PayloadArray, PayloadRows or PayloadObject.
type Payload interface {
	isPayload()
}

// PayloadArray is a top-level JSON array of records.
type PayloadArray struct {
	Records []json.RawMessage
}

// PayloadRows is an object whose records sit in an array under Path, such
// as {"rows": [...]} or {"result": {"rows": [...]}}.
type PayloadRows struct {
	Envelope map[string]json.RawMessage
	Path     []string
	Records  []json.RawMessage
}

// PayloadObject is any other JSON value, passed through unchanged.
type PayloadObject struct {
	Raw json.RawMessage
}

func (PayloadArray) isPayload()  {}
func (PayloadRows) isPayload()   {}
func (PayloadObject) isPayload() {}

// rowPaths are searched in order for a records array inside an object.
var rowPaths = [][]string{
	{"rows"},
	{"data"},
	{"result", "rows"},
	{"data", "rows"},
}

// Classify decodes body into its Payload variant.
func Classify(body []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUpstream)
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrUpstream)
	}

	switch trimmed[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return PayloadArray{Records: records}, nil
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		for _, path := range rowPaths {
			if records, ok := lookupArray(envelope, path); ok {
				return PayloadRows{Envelope: envelope, Path: path, Records: records}, nil
			}
		}
	}
	return PayloadObject{Raw: trimmed}, nil
}

func lookupArray(obj map[string]json.RawMessage, path []string) ([]json.RawMessage, bool) {
	raw, ok := obj[path[0]]
	if !ok {
		return nil, false
	}
	if len(path) > 1 {
		var nested map[string]json.RawMessage
		if json.Unmarshal(raw, &nested) != nil {
			return nil, false
		}
		return lookupArray(nested, path[1:])
	}
	var records []json.RawMessage
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) && json.Unmarshal(raw, &records) == nil {
		return records, true
	}
	return nil, false
}

// Reshape renders payload for the client, paginating record sets.
func Reshape(p Payload, page int, opts pagination.Options) ([]byte, error) {
	switch v := p.(type) {
	case PayloadArray:
		return reshapeArray(v, page, opts)
	case PayloadRows:
		return reshapeRows(v, page, opts)
	case PayloadObject:
		return v.Raw, nil
	default:
		return nil, fmt.Errorf("unknown payload variant %T", p)
	}
}

func reshapeArray(p PayloadArray, page int, opts pagination.Options) ([]byte, error) {
	res, err := pagination.Paginate(p.Records, page, opts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// reshapeRows keeps the upstream envelope, swapping the records array for
// the requested page and adding the pagination blocks at the top level.
func reshapeRows(p PayloadRows, page int, opts pagination.Options) ([]byte, error) {
	res, err := pagination.Paginate(p.Records, page, opts)
	if err != nil {
		return nil, err
	}
	rows, err := json.Marshal(res.Data)
	if err != nil {
		return nil, err
	}

	out, err := replaceAt(p.Envelope, p.Path, rows)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{"is_complete": res.IsComplete}
	if res.Pagination != nil {
		fields["pagination"] = res.Pagination
		fields["navigation"] = res.Navigation
	}
	if res.Warning != "" {
		fields["warning"] = res.Warning
	}
	for key, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		out[key] = raw
	}
	return json.Marshal(out)
}

func replaceAt(obj map[string]json.RawMessage, path []string, value json.RawMessage) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(obj)+4)
	for k, v := range obj {
		out[k] = v
	}
	if len(path) == 1 {
		out[path[0]] = value
		return out, nil
	}

	var nested map[string]json.RawMessage
	if err := json.Unmarshal(obj[path[0]], &nested); err != nil {
		return nil, err
	}
	replaced, err := replaceAt(nested, path[1:], value)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(replaced)
	if err != nil {
		return nil, err
	}
	out[path[0]] = raw
	return out, nil
}
