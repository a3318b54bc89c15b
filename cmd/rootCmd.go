package cmd

import (
	"Netlab/pkg"

	"github.com/spf13/cobra"
)

var Lab *pkg.Lab
var rootCmd = &cobra.Command{
	Use:   "netlab",
	Short: "netlab Management CLI",
	Long:  "A command-line tool for emulating networks of namespace-backed hosts.",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(lab *pkg.Lab) error {
	Lab = lab
	err := rootCmd.Execute()
	return err
}
