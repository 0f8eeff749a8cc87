// Package codec provides pluggable (de)serialization for values stored in
// the response cache. The client encodes its cached response envelopes
// through a Codec; pick one codec per cache namespace and keep it stable, or
// old entries will fail to decode and be treated as misses.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
