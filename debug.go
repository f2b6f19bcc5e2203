//go:build debug

package ccd

import "fmt"

func assert(truth bool, msg ...any) {
	if !truth {
		panic(fmt.Sprint("Assertion failed: ", msg))
	}
}
