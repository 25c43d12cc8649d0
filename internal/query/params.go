package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Param struct {
	Name  string
	Value any
}

// Params is an ordered name/value list. It encodes as a JSON object and keeps
// the key order of the object it was decoded from.
type Params []Param

func (p Params) Lookup(name string) (int, bool) {
	for i, param := range p {
		if param.Name == name {
			return i, true
		}
	}
	for i, param := range p {
		if strings.EqualFold(param.Name, name) {
			return i, true
		}
	}
	return -1, false
}

func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for _, param := range p {
		names = append(names, param.Name)
	}
	return names
}

func (p Params) Values() []any {
	values := make([]any, 0, len(p))
	for _, param := range p {
		values = append(values, param.Value)
	}
	return values
}

func (p Params) Map() map[string]any {
	out := make(map[string]any, len(p))
	for _, param := range p {
		out[param.Name] = param.Value
	}
	return out
}

func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, param := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(param.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(param.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal parameter %q: %w", param.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Params) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	token, err := decoder.Token()
	if err != nil {
		return err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("parameters must be a JSON object")
	}
	out := Params{}
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return err
		}
		name, ok := token.(string)
		if !ok {
			return fmt.Errorf("parameter name must be a string")
		}
		var value any
		if err := decoder.Decode(&value); err != nil {
			return fmt.Errorf("decode parameter %q: %w", name, err)
		}
		out = append(out, Param{Name: name, Value: normalizeNumber(value)})
	}
	if _, err := decoder.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

func normalizeNumber(value any) any {
	number, ok := value.(json.Number)
	if !ok {
		return value
	}
	if i, err := number.Int64(); err == nil {
		return i
	}
	if f, err := number.Float64(); err == nil {
		return f
	}
	return number.String()
}
