//go:build !tinygo

// Package main holds the XDP probe. Build it with TinyGo and tinybpf; the
// standard toolchain only sees this placeholder.
package main

func main() {}
