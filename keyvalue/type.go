package keyvalue

// T is a key/value pair attached to diagnostic output.
type T struct {
	Key   string
	Value string
}

// KV is a shorthand for building a T.
func KV(k, v string) T {
	return T{Key: k, Value: v}
}
