// Command powmesh runs a single proof-of-work mesh node and exposes its
// public commands as CLI verbs, standing in for the button-per-command
// desktop GUI earlier implementations used to drive a running node
// interactively.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/powmesh/node/chainmodel"
	"github.com/powmesh/node/internal/config"
	"github.com/powmesh/node/internal/logging"
	"github.com/powmesh/node/node"
)

var log = logging.New("cmd")

func main() {
	app := &cli.App{
		Name:  "powmesh",
		Usage: "run and drive a proof-of-work mesh node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
			&cli.IntFlag{Name: "port", Usage: "listener port (overrides config)", Value: 0},
		},
		Action: runInteractive,
	}

	if err := app.Run(os.Args); err != nil {
		log.Crit("powmesh exited with error", "err", err)
	}
}

// runInteractive starts a node, binds its listener, and drives a simple
// line-oriented command loop over stdin — the CLI analogue of the
// original GUI's button panel.
func runInteractive(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if port := c.Int("port"); port != 0 {
		cfg.Port = port
	}

	n, err := node.New(cfg)
	if err != nil {
		return err
	}

	if err := n.StartListener(); err != nil {
		return err
	}
	log.Info("node ready", "address", n.Address(), "listen", n.Self())

	printHelp()
	return runCommandLoop(n)
}

func printHelp() {
	fmt.Println(`commands:
  listener start | listener stop
  miner start    | miner stop
  connect <host> <port>
  network <host> <port>
  disconnect
  tx <amount>
  chain | last | pools | ledger | status
  quit`)
}

func runCommandLoop(n *node.Node) error {
	var cmd string
	for {
		fmt.Print("> ")
		if _, err := fmt.Scan(&cmd); err != nil {
			break
		}
		switch cmd {
		case "quit":
			n.StopListener()
			return nil
		case "listener":
			handleListener(n)
		case "miner":
			handleMiner(n)
		case "connect":
			handlePeerCommand(n, n.ConnectToNode)
		case "network":
			handlePeerCommand(n, n.ConnectToNetwork)
		case "disconnect":
			n.DisconnectFromNetwork()
		case "tx":
			handleGenerateTransaction(n)
		case "chain":
			printJSON(n.Chain())
		case "last":
			last, ok := n.LastBlock()
			if !ok {
				fmt.Println("chain is empty")
				continue
			}
			printJSON(last)
		case "pools":
			free, firm := n.Pools()
			printJSON(map[string]interface{}{"free": free, "firm": firm})
		case "ledger":
			printJSON(n.Ledger())
		case "status":
			printJSON(n.Status())
		default:
			fmt.Println("unknown command")
		}
	}
	return nil
}

func handleListener(n *node.Node) {
	var sub string
	fmt.Scanln(&sub)
	switch sub {
	case "start":
		if err := n.StartListener(); err != nil {
			fmt.Println("error:", err)
		}
	case "stop":
		n.StopListener()
	}
}

func handleMiner(n *node.Node) {
	var sub string
	fmt.Scanln(&sub)
	switch sub {
	case "start":
		n.StartMiner()
	case "stop":
		n.StopMiner()
	}
}

func handlePeerCommand(n *node.Node, action func(chainmodel.PeerAddr) error) {
	var host, portStr string
	fmt.Scanln(&host, &portStr)
	port, err := strconv.Atoi(portStr)
	if err != nil {
		fmt.Println("bad port:", err)
		return
	}
	if err := action(chainmodel.PeerAddr{Host: host, Port: port}); err != nil {
		fmt.Println("error:", err)
	}
}

func handleGenerateTransaction(n *node.Node) {
	var amountStr string
	fmt.Scanln(&amountStr)
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil {
		fmt.Println("bad amount:", err)
		return
	}
	receipt, err := n.GenerateTestTransaction(amount)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printJSON(receipt)
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(string(b))
}
