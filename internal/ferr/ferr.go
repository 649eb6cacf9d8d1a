// Package ferr holds the sentinel errors shared between the store and the
// command executor, and the typed parser errors.
package ferr

import "errors"

var (
	// ErrKeyNotFound is returned by store lookups/mutations against a
	// missing key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrContention is returned when a compare-and-swap retry loop exhausts
	// its attempt budget under concurrent writers.
	ErrContention = errors.New("too much contention on key")

	// ErrWrongType is returned when a command expects the stored value (or
	// its encoding) to be one structured type but finds another.
	ErrWrongType = errors.New("value is not the expected type")

	// ErrNotInteger is returned when a command requires an integer-decodable
	// value (INCR/DECR) and the stored bytes don't parse as one.
	ErrNotInteger = errors.New("value is not an integer or out of range")

	// ErrHashFieldNotInteger is HINCRBY's dedicated error, worded per the
	// Redis-faithful message rather than ErrNotInteger's generic one.
	ErrHashFieldNotInteger = errors.New("hash value is not an integer")

	// ErrSyntax is returned for malformed command arguments (bad option
	// flags, wrong arity shape).
	ErrSyntax = errors.New("syntax error")

	// ErrAuthRequired is returned when a command is attempted on a
	// connection that has not completed AUTH and the server requires one.
	ErrAuthRequired = errors.New("authentication required")

	// ErrAuthInvalid is returned when AUTH is sent with the wrong password.
	ErrAuthInvalid = errors.New("invalid password")

	// ErrNoAuthSet is returned when AUTH is sent but the server has no
	// password configured.
	ErrNoAuthSet = errors.New("client sent AUTH, but no password is set")
)

// WrongNumArgs formats the standard Redis arity error for a command name.
func WrongNumArgs(cmd string) error {
	return &ArityError{Cmd: cmd}
}

// ArityError is returned by the command parser when a command is given the
// wrong number of arguments.
type ArityError struct{ Cmd string }

func (e *ArityError) Error() string {
	return "wrong number of arguments for '" + e.Cmd + "' command"
}

// UnknownCommandError is returned by the command parser for a command name
// it does not recognize.
type UnknownCommandError struct{ Cmd string }

func (e *UnknownCommandError) Error() string {
	return "unknown command '" + e.Cmd + "'"
}
