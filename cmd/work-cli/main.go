package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"workchain/crypto"
	sdk "workchain/sdk/escrow"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("WORKCHAIN_RPC_TOKEN")

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("RPC_URL")); url != "" {
		return url
	}
	return "http://127.0.0.1:8645"
}

func main() {
	args := os.Args[1:]
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	args = args[1:]
	switch command {
	case "generate-key":
		generateKey()
	case "balance":
		requireArgs(args, 1, "Please provide an address.")
		getBalance(args[0])
	case "create":
		requireArgs(args, 4, "Please provide client, freelancer, descriptions and amounts.")
		createEscrow(args[0], args[1], args[2], args[3])
	case "submit":
		runMilestoneAction(args, func(c *sdk.Client, caller string, id uint64, index int) (*sdk.Receipt, error) {
			return c.SubmitMilestone(context.Background(), caller, id, index)
		})
	case "approve":
		runMilestoneAction(args, func(c *sdk.Client, caller string, id uint64, index int) (*sdk.Receipt, error) {
			return c.ApproveMilestone(context.Background(), caller, id, index)
		})
	case "reject":
		runMilestoneAction(args, func(c *sdk.Client, caller string, id uint64, index int) (*sdk.Receipt, error) {
			return c.RejectMilestone(context.Background(), caller, id, index)
		})
	case "dispute":
		runEscrowAction(args, func(c *sdk.Client, caller string, id uint64) (*sdk.Receipt, error) {
			return c.RaiseDispute(context.Background(), caller, id)
		})
	case "cancel":
		runEscrowAction(args, func(c *sdk.Client, caller string, id uint64) (*sdk.Receipt, error) {
			return c.Cancel(context.Background(), caller, id)
		})
	case "get":
		requireArgs(args, 1, "Please provide an escrow id.")
		getEscrow(args[0])
	case "milestone":
		requireArgs(args, 2, "Please provide an escrow id and a milestone index.")
		getMilestone(args[0], args[1])
	case "count":
		requireArgs(args, 1, "Please provide an escrow id.")
		getMilestoneCount(args[0])
	case "list-client":
		requireArgs(args, 1, "Please provide an address.")
		listEscrows(args[0], true)
	case "list-freelancer":
		requireArgs(args, 1, "Please provide an address.")
		listEscrows(args[0], false)
	case "events":
		pollEvents(args)
	case "watch":
		watchEvents()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: work-cli [--rpc <url>] <command> [args]

Commands:
  generate-key                                        Create a new key file and print its address
  balance <address>                                   Show the spendable balance of an address
  create <client> <freelancer> <descs> <amounts>      Fund a new escrow (comma-separated milestone
                                                      descriptions and display-unit amounts)
  submit <caller> <escrowId> <index>                  Mark a milestone as delivered
  approve <caller> <escrowId> <index>                 Release a submitted milestone
  reject <caller> <escrowId> <index>                  Send a submitted milestone back for rework
  dispute <caller> <escrowId>                         Freeze an escrow pending resolution
  cancel <caller> <escrowId>                          Refund an untouched escrow
  get <escrowId>                                      Show an escrow record
  milestone <escrowId> <index>                        Show one milestone
  count <escrowId>                                    Show the milestone count
  list-client <address>                               List escrows funded by an address
  list-freelancer <address>                           List escrows assigned to an address
  events <after> [limit]                              Fetch finalized events after a sequence number
  watch                                               Stream finalized events`)
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a URL")
			}
			i++
			rpcEndpoint = strings.TrimSpace(args[i])
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimSpace(strings.TrimPrefix(arg, "--rpc="))
		default:
			out = append(out, arg)
		}
	}
	if rpcEndpoint == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	return out, nil
}

func requireArgs(args []string, count int, message string) {
	if len(args) < count {
		fmt.Println("Error: " + message)
		printUsage()
		os.Exit(1)
	}
}

func newClient() *sdk.Client {
	client, err := sdk.New(rpcEndpoint, sdk.WithAuthToken(rpcAuthToken))
	if err != nil {
		fatal(err)
	}
	return client
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(out))
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fatal(err)
	}
	address := key.PubKey().Address().String()
	filename := fmt.Sprintf("%s.key", address)
	if err := os.WriteFile(filename, []byte(key.Hex()), 0o600); err != nil {
		fatal(err)
	}
	fmt.Printf("New key saved to %s\n", filename)
	fmt.Printf("Address: %s\n", address)
}

func getBalance(address string) {
	balance, err := newClient().Balance(context.Background(), address)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("%s WORK (%s base units)\n", sdk.FormatAmount(balance, sdk.NativeDecimals), balance.String())
}

func createEscrow(client, freelancer, descriptions, amounts string) {
	descs := splitList(descriptions)
	amountFields := splitList(amounts)
	if len(descs) != len(amountFields) {
		fatal(fmt.Errorf("descriptions and amounts must have the same length"))
	}
	baseAmounts := make([]string, len(amountFields))
	total := big.NewInt(0)
	for i, field := range amountFields {
		amount, err := sdk.ParseAmount(field, sdk.NativeDecimals)
		if err != nil {
			fatal(err)
		}
		baseAmounts[i] = amount.String()
		total.Add(total, amount)
	}
	id, receipt, err := newClient().Create(context.Background(), sdk.CreateRequest{
		Client:       client,
		Freelancer:   freelancer,
		Descriptions: descs,
		Amounts:      baseAmounts,
		Value:        total.String(),
	})
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Escrow %d created\n", id)
	printJSON(receipt)
}

func runMilestoneAction(args []string, action func(*sdk.Client, string, uint64, int) (*sdk.Receipt, error)) {
	requireArgs(args, 3, "Please provide caller, escrow id and milestone index.")
	id := parseEscrowID(args[1])
	index, err := strconv.Atoi(args[2])
	if err != nil {
		fatal(fmt.Errorf("invalid milestone index %q", args[2]))
	}
	receipt, err := action(newClient(), args[0], id, index)
	if err != nil {
		fatal(err)
	}
	printJSON(receipt)
}

func runEscrowAction(args []string, action func(*sdk.Client, string, uint64) (*sdk.Receipt, error)) {
	requireArgs(args, 2, "Please provide caller and escrow id.")
	receipt, err := action(newClient(), args[0], parseEscrowID(args[1]))
	if err != nil {
		fatal(err)
	}
	printJSON(receipt)
}

func getEscrow(idArg string) {
	record, err := newClient().Get(context.Background(), parseEscrowID(idArg))
	if err != nil {
		fatal(err)
	}
	printJSON(record)
}

func getMilestone(idArg, indexArg string) {
	index, err := strconv.Atoi(indexArg)
	if err != nil {
		fatal(fmt.Errorf("invalid milestone index %q", indexArg))
	}
	milestone, err := newClient().GetMilestone(context.Background(), parseEscrowID(idArg), index)
	if err != nil {
		fatal(err)
	}
	printJSON(milestone)
}

func getMilestoneCount(idArg string) {
	count, err := newClient().MilestoneCount(context.Background(), parseEscrowID(idArg))
	if err != nil {
		fatal(err)
	}
	fmt.Println(count)
}

func listEscrows(address string, byClient bool) {
	client := newClient()
	var ids []uint64
	var err error
	if byClient {
		ids, err = client.ListByClient(context.Background(), address)
	} else {
		ids, err = client.ListByFreelancer(context.Background(), address)
	}
	if err != nil {
		fatal(err)
	}
	printJSON(ids)
}

func pollEvents(args []string) {
	after := int64(0)
	limit := 100
	if len(args) > 0 {
		parsed, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fatal(fmt.Errorf("invalid sequence %q", args[0]))
		}
		after = parsed
	}
	if len(args) > 1 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil {
			fatal(fmt.Errorf("invalid limit %q", args[1]))
		}
		limit = parsed
	}
	events, err := newClient().Events(context.Background(), after, limit)
	if err != nil {
		fatal(err)
	}
	printJSON(events)
}

func watchEvents() {
	watcher := sdk.NewWatcher(newClient(), sdk.WithPollInterval(2*time.Second))
	watcher.Subscribe("", func(evt sdk.Event) {
		printJSON(evt)
	})
	fmt.Println("Watching for events (Ctrl-C to stop)...")
	watcher.Run(context.Background())
}

func parseEscrowID(arg string) uint64 {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		fatal(fmt.Errorf("invalid escrow id %q", arg))
	}
	return id
}

func splitList(value string) []string {
	fields := strings.Split(value, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
