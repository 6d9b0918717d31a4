package model

// Result is the outcome of a repository operation: either a value or an
// error message, never both.
type Result[T any] struct {
	data    T
	message string
	ok      bool
}

// Success wraps a successful value.
func Success[T any](data T) Result[T] {
	return Result[T]{data: data, ok: true}
}

// Error wraps a failure message.
func Error[T any](message string) Result[T] {
	return Result[T]{message: message}
}

// IsSuccess reports which variant is populated.
func (r Result[T]) IsSuccess() bool { return r.ok }

// Data returns the value of a Success. For an Error it returns the zero value
// and false.
func (r Result[T]) Data() (T, bool) {
	return r.data, r.ok
}

// Message returns the failure message of an Error, or "" for a Success.
func (r Result[T]) Message() string {
	if r.ok {
		return ""
	}
	return r.message
}
