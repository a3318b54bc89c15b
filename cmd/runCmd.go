package cmd

import (
	"Netlab/api"
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply Topology and enter the interactive prompt",
	Long: `Apply a topology file, then read "<node> <command>" lines and run
each command inside that node's namespace until exit.`,
	Run: func(cmd *cobra.Command, args []string) {
		filepath, _ := cmd.Flags().GetString("from")
		if filepath != "" {
			if err := Lab.ApplyTopoConfig(filepath); err != nil {
				Lab.Destroy()
				log.Fatal(err.Error())
				return
			}
		}
		defer Lab.Destroy()
		prompt(os.Stdin)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("from", "f", "", "Path to the topology configuration file")
}

// prompt is the interactive dispatcher. Per-command errors are
// printed and the session continues; only exit/EOF ends it.
func prompt(in *os.File) {
	fmt.Println("Entering netlab prompt. Type 'exit' to quit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Print("netlab> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "exit", "quit":
			return
		case "help":
			printHelp()
			continue
		case "nodes":
			listNodes()
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		if len(parts) == 1 {
			fmt.Println("Usage: <node|all> <command>")
			continue
		}
		target, command := parts[0], parts[1]

		if target == "all" {
			for _, name := range nodeNames() {
				runOn(name, command, true)
			}
			continue
		}
		runOn(target, command, false)
	}
}

func runOn(nodeName, command string, tagged bool) {
	res, err := Lab.Manager().Cmd(nodeName, command)
	if err != nil {
		if errors.Is(err, api.ErrNodeNotFound) {
			fmt.Printf("Unknown node: %s\n", nodeName)
			fmt.Printf("Available nodes: %s\n", strings.Join(nodeNames(), ", "))
			return
		}
		fmt.Printf("Error: %v\n", err)
		return
	}
	if out := res.Output(); out != "" {
		if tagged {
			fmt.Printf("[%s] %s\n", nodeName, out)
		} else {
			fmt.Println(out)
		}
	}
	if res.ExitCode != 0 {
		fmt.Printf("[exit code: %d]\n", res.ExitCode)
	}
}

func nodeNames() []string {
	return Lab.Manager().NodeNames()
}

func listNodes() {
	fmt.Println("Available nodes:")
	for _, name := range nodeNames() {
		fmt.Printf("  - %s\n", name)
	}
}

func printHelp() {
	fmt.Println(`Available commands:
  <node> <command>  - Run command on specific node
  all <command>     - Run command on all nodes
  nodes             - List all nodes
  exit/quit         - Exit prompt
  help              - Show this help`)
}
