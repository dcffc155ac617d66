package model

import "sort"

// Bag is the mutable key/value configuration owned by the host. The resolver
// reads login and credential fields from it and writes them back on persist.
type Bag interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Keys() []string
}

// MapBag is a Bag over a plain map.
type MapBag map[string]string

func (b MapBag) Get(key string) (string, bool) {
	v, ok := b[key]
	return v, ok
}

func (b MapBag) Set(key, value string) {
	b[key] = value
}

func (b MapBag) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone copies the bag.
func (b MapBag) Clone() MapBag {
	out := make(MapBag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}
