// Package main is the entry point for the dbsync binary.
package main

import "os"

func main() {
	os.Exit(Execute())
}
