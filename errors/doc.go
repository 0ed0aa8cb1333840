/*
Package errors provides semantic error types for the QueryCore library.

The package defines one error family per failure class in the query and write
pipeline. Each family has a sentinel checked with the standard errors.Is()
function (or the provided helpers) and a typed struct carrying detail.

Common Errors:

	var (
	    ErrValidation          = errors.New("invalid input")
	    ErrNotFound            = errors.New("row not found")
	    ErrConstraintViolation = errors.New("constraint violation")
	    ErrConcurrency         = errors.New("concurrent modification")
	    ErrFatalIntegrity      = errors.New("data integrity broken")
	)

Recoverability:

  - Validation, NotFound, and ConstraintViolation errors are expected business
    outcomes; the caller corrects the input or treats them as a result.
  - Concurrency errors are transient; retrying the whole operation is expected
    to succeed.
  - FatalIntegrity errors indicate a broken invariant in stored data and abort
    the enclosing transaction; they are not retryable.

Usage:

	row, err := set.Update(ctx, params)
	if err != nil {
	    if errors.IsNotFound(err) {
	        // Target row does not exist
	    }
	    if errors.IsConstraintViolation(err) {
	        // Unique conflict, e.g. duplicate sku
	    }
	}

The error types implement the error interface and support wrapping,
making them compatible with Go's standard error handling patterns.
*/
package errors
