package main

import (
	"os"

	"github.com/acpxdev/acpx/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
