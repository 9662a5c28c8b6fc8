package util

import (
	"fmt"
)

// SafeOperation wraps an operation on a named item such that panics are recovered and nice error messages are constructed
func SafeOperation(item string, op func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				if anErr, ok := r.(error); ok {
					err = fmt.Errorf("Panic: %w\nItem: %s\n%s", anErr, item, GetTrace())
				} else {
					err = fmt.Errorf("Panic: %v\nItem: %s\n%s", r, item, GetTrace())
				}
			} else if err != nil {
				err = fmt.Errorf("Error: %w\nItem: %s", err, item)
			}
		}()
		err = op()
		return
	}
}
