// Command node runs a ledgernet peer (spec.md §6).
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ledgernet/core"
	"ledgernet/pkg/config"
)

func main() {
	cmd := &cobra.Command{
		Use:   "node <tracker-port> <listen-port>",
		Short: "run a ledgernet node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			trackerPort, err := strconv.Atoi(args[0])
			if err != nil || trackerPort < 1 || trackerPort > 65535 {
				return fmt.Errorf("invalid tracker port %q", args[0])
			}
			listenPort, err := strconv.Atoi(args[1])
			if err != nil || listenPort < 1 || listenPort > 65535 {
				return fmt.Errorf("invalid listen port %q", args[1])
			}
			return run(trackerPort, listenPort)
		},
	}
	if err := cmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func run(trackerPort, listenPort int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	n, err := core.NewNode(cfg.ToCoreConfig(), "localhost", listenPort)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	if err := n.Connect(fmt.Sprintf("localhost:%d", trackerPort)); err != nil {
		return fmt.Errorf("connect to tracker: %w", err)
	}

	shell(n)
	return nil
}

func shell(n *core.Node) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "disconnect":
			n.Disconnect()
			return
		case "peers":
			for _, p := range n.Peers() {
				fmt.Printf("%d %s:%d\n", p.Ident, p.Host, p.Port)
			}
		case "chain":
			for i, b := range n.ChainSnapshot().Blocks {
				fmt.Printf("block %d: %d tx, prev=%s\n", i, len(b.Transactions), b.PreviousBlockHash)
			}
		case "balance":
			fmt.Println(n.Balance())
		case "send":
			receiver, amount, ok := parseSend(fields)
			if !ok {
				fmt.Println("usage: send <receiver_ident> <amount>")
				continue
			}
			n.Send(receiver, amount)
		default:
			fmt.Println("commands: disconnect, peers, chain, send <receiver_ident> <amount>, balance")
		}
	}
	n.Disconnect()
}

func parseSend(fields []string) (receiver, amount int, ok bool) {
	if len(fields) != 3 {
		return 0, 0, false
	}
	r, err1 := strconv.Atoi(fields[1])
	a, err2 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return r, a, true
}
