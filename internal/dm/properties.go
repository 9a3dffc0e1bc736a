package dm

import (
	"sort"
	"strconv"
)

// Well-known service property keys.
const (
	PropObjectClass    = "objectClass"
	PropServiceID      = "service.id"
	PropServiceRanking = "service.ranking"
	PropServiceVersion = "service.version"
	PropServiceBundle  = "service.bundleid"
)

// Properties are the string key/value pairs attached to a registered
// service.
type Properties map[string]string

// Get returns the value for key or the empty string.
func (p Properties) Get(key string) string {
	if p == nil {
		return ""
	}
	return p[key]
}

// Int64 parses key as an integer, returning def when the key is absent or
// not a number.
func (p Properties) Int64(key string, def int64) int64 {
	raw, ok := p[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

// Clone returns a copy that is safe to mutate.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the property keys in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
