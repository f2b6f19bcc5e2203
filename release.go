//go:build !debug

package ccd

func assert(truth bool, msg ...any) {}
