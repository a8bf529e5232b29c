package codec

import "encoding/json"

// JSONCodec encodes with encoding/json. Output is deterministic for equal
// values because encoding/json writes map keys in sorted order, which keeps
// byte-compared CompareAndSwap/CompareAndDelete correct for maps.
type JSONCodec[V any] struct{}

func (JSONCodec[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSONCodec[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
