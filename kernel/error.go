package kernel

// Error describes an error raised by code in the kernel. Errors must be
// defined as global variables that are pointers to the Error structure; the
// Go allocator is not guaranteed to be available at the time an error is
// raised so errors.New cannot be used.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
