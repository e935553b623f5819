// Command tracker runs the ledgernet admission tracker (spec.md §6).
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ledgernet/core"
	"ledgernet/pkg/config"
)

func main() {
	cmd := &cobra.Command{
		Use:   "tracker <port>",
		Short: "run the ledgernet tracker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil || port < 1 || port > 65535 {
				return fmt.Errorf("invalid port %q", args[0])
			}
			return run(port)
		},
	}
	if err := cmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func run(port int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tracker, err := core.NewTracker(cfg.ToCoreConfig())
	if err != nil {
		return fmt.Errorf("create tracker: %w", err)
	}

	addr := fmt.Sprintf("localhost:%d", port)
	if err := tracker.Listen(addr); err != nil {
		return err
	}
	go tracker.Serve()

	shell(tracker)
	return nil
}

func shell(t *core.Tracker) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch scanner.Text() {
		case "stop":
			t.Shutdown()
			return
		case "nodes":
			for _, p := range t.Nodes() {
				fmt.Printf("%d %s:%d\n", p.Ident, p.Host, p.Port)
			}
		case "chain":
			printChain(t.ChainSnapshot())
		default:
			fmt.Println("commands: stop, nodes, chain")
		}
	}
	t.Shutdown()
}

func printChain(snap core.ChainSnapshot) {
	for i, b := range snap.Blocks {
		fmt.Printf("block %d: %d tx, prev=%s\n", i, len(b.Transactions), b.PreviousBlockHash)
	}
}
