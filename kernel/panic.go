package kernel

// panicFn is invoked by Panic. It is a plain Go panic by default; a future
// console-reporting layer may install a handler here during startup that
// formats the error before halting, so every fatal kernel.Error flows
// through the same reporting path regardless of caller. Tests keep the
// default and observe a fatal call with recover().
var panicFn = func(err *Error) { panic(err) }

// SetPanicHandler installs the function invoked by Panic, returning the
// previous handler so callers can restore it.
func SetPanicHandler(fn func(err *Error)) (previous func(err *Error)) {
	previous = panicFn
	panicFn = fn
	return previous
}

// Panic reports a fatal, unrecoverable kernel error: a caller bug or an
// invariant violation, as opposed to a recoverable condition like
// out-of-memory. It never returns control to its caller.
func Panic(err *Error) {
	panicFn(err)
}
