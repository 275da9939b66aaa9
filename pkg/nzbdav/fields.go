package nzbdav

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// fields is a decoded JSON object whose keys the queue API spells
// inconsistently across versions (nzo_id / nzoId / NzoId). Lookups take
// every known spelling and return the first one present.
type fields map[string]json.RawMessage

func decodeFields(data []byte) (fields, error) {
	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}

func (f fields) raw(keys ...string) json.RawMessage {
	for _, k := range keys {
		if v, ok := f[k]; ok && len(v) > 0 && !bytes.Equal(v, []byte("null")) {
			return v
		}
	}
	return nil
}

// str returns a string value, accepting JSON strings and numbers.
func (f fields) str(keys ...string) string {
	for _, k := range keys {
		v := f.raw(k)
		if v == nil {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

// int64 returns a numeric value, accepting JSON numbers and numeric strings.
func (f fields) int64(keys ...string) int64 {
	for _, k := range keys {
		v := f.raw(k)
		if v == nil {
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			if i, err := n.Int64(); err == nil {
				return i
			}
			if fl, err := n.Float64(); err == nil {
				return int64(fl)
			}
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return i
			}
		}
	}
	return 0
}

// boolean accepts true/false as well as "true"/"1" strings.
func (f fields) boolean(keys ...string) bool {
	for _, k := range keys {
		v := f.raw(k)
		if v == nil {
			continue
		}
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			return b
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			s = strings.ToLower(strings.TrimSpace(s))
			return s == "true" || s == "1" || s == "ok"
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			return n.String() != "0"
		}
	}
	return false
}

// object returns a nested object under the first matching key.
func (f fields) object(keys ...string) fields {
	v := f.raw(keys...)
	if v == nil {
		return nil
	}
	nested, err := decodeFields(v)
	if err != nil {
		return nil
	}
	return nested
}

// list returns a nested array under the first matching key.
func (f fields) list(keys ...string) []json.RawMessage {
	v := f.raw(keys...)
	if v == nil {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil
	}
	return items
}
