package schemas

// Optional holds a value that may be absent. The zero Optional is absent,
// which is distinct from a present zero value.
type Optional[T any] struct {
	value T
	ok    bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

func (o Optional[T]) IsSet() bool {
	return o.ok
}

// ValueOr returns the held value, or def when absent.
func (o Optional[T]) ValueOr(def T) T {
	if !o.ok {
		return def
	}
	return o.value
}
