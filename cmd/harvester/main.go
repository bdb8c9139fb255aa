package main

import (
	"errors"
	"os"

	"github.com/ternarybob/harvester/internal/common"
)

// exitInterrupted is returned when a session stops on a signal; progress is saved
const exitInterrupted = 130

func main() {
	defer common.RecoverWithCrashFile()

	if err := Execute(); err != nil {
		if errors.Is(err, errInterrupted) {
			os.Exit(exitInterrupted)
		}
		os.Exit(1)
	}
}
