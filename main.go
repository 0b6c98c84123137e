// main.go
package main

import (
	"os"

	"github.com/petervdpas/voyage/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
