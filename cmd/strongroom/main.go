package main

import (
	"errors"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var silent errSilent
		if !errors.As(err, &silent) {
			reportError(err)
		}
		os.Exit(1)
	}
}
