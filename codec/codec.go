// Package codec holds the value codecs for tiermap.Map.
//
// The map compares values by their encoded bytes, so a codec must encode equal
// values to equal bytes. JSON (struct fields in declaration order), CBOR with
// deterministic=true, Msgpack and Protobuf here all do.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
