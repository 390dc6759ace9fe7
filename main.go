package main

import (
	"context"
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		// The summary has already been printed.
		if errors.Is(err, errRunFailed) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
