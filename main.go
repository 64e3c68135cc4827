package main

import (
	"os"

	"github.com/igorsilveira/deckhand/cmd/deckhand"
)

func main() {
	if err := deckhand.Execute(); err != nil {
		os.Exit(1)
	}
}
