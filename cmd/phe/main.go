// Command phe generates ElGamal keys, encrypts and combines values, and runs
// or talks to an encrypted-cart relay.
package main

import (
	"fmt"
	"os"
)

func main() {
	app := CLI()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "phe: %v\n", err)
		os.Exit(1)
	}
}
