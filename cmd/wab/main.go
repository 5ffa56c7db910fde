package main

import (
	"os"

	"github.com/bnema/whatsapp-accounts-broker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
