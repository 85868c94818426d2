package main

import (
	"github.com/spf13/cobra"

	// Loads .env into the process environment before config is read.
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	var root = &cobra.Command{Use: "briefgen"}

	root.AddCommand(serveCMD(), briefCMD(), migrateCMD())
	_ = root.Execute()
}
