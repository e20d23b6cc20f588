package main

import (
	"flag"
	"fmt"
	"os"

	"ensemblelung/internal/crypto"
)

func main() {
	keyFile := flag.String("out", "session.key", "Where to write the hex session secret")
	flag.Parse()

	if _, err := os.Stat(*keyFile); err == nil {
		fmt.Fprintf(os.Stderr, "Error: %s already exists. Refusing to overwrite.\n", *keyFile)
		os.Exit(1)
	}
	if err := os.WriteFile(*keyFile, []byte(crypto.GenerateSecret()+"\n"), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *keyFile, err)
		os.Exit(1)
	}
	fmt.Printf("Session secret written to %s\n", *keyFile)
}
