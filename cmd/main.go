package main

import (
	"log"
	"os"
)

func main() {
	lg := log.New(os.Stdout, "fsevents --> ", 1|4)

	if err := newRootCommand(lg).Execute(); err != nil {
		os.Exit(1)
	}
}
