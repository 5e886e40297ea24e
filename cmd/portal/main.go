package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eclipse-tractusx/portal-backend-sub020/internal/cli"
)

var rootCmd = &cobra.Command{Use: "portal"}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Database connection string")
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
