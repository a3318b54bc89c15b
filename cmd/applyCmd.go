package cmd

import (
	"log"

	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply Topology",
	Long:  `Apply a topology file: nodes, links and NAT bridges.`,
	Run: func(cmd *cobra.Command, args []string) {
		filepath, _ := cmd.Flags().GetString("from")
		err := Lab.ApplyTopoConfig(filepath)
		if err != nil {
			Lab.Destroy()
			log.Fatal(err.Error())
			return
		}
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringP("from", "f", "", "Path to the topology configuration file")
	_ = applyCmd.MarkFlagRequired("from")
}
