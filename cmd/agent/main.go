// The agent command runs a headless bidder with a line-based console:
// discover houses, connect, list items, bid, and inspect balance and
// purchases.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/davidleathers/distributed-auction-network/internal/agent"
	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
	"github.com/davidleathers/distributed-auction-network/internal/infrastructure/config"
	"github.com/davidleathers/distributed-auction-network/internal/infrastructure/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	name := flag.String("name", "", "agent display name")
	balance := flag.String("balance", "1000", "opening balance")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: agent -name <name> [-balance <amount>]")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	opening, err := values.NewMoneyFromString(*balance)
	if err != nil {
		logger.Error("bad opening balance", "error", err)
		os.Exit(1)
	}

	a := agent.New(agent.Config{
		RequestTimeout: cfg.Agent.RequestTimeout,
		BidTimeout:     cfg.Agent.BidTimeout,
	}, logger)

	if err := a.Register(*name, opening, cfg.Agent.BankAddr); err != nil {
		logger.Error("registration failed", "error", err)
		os.Exit(1)
	}
	defer a.Disconnect()

	go console(ctx, a)
	<-ctx.Done()
	logger.Info("shutting down gracefully")
}

func console(ctx context.Context, a *agent.Agent) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println(`commands: houses | connect <house-id> | items <house-id> | bid <house-id> <item-id> <amount> | balance | purchases | quit`)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "houses":
			if err := a.RefreshHouses(); err != nil {
				fmt.Println("refresh failed:", err)
				continue
			}
			for _, reg := range a.Houses() {
				fmt.Printf("house %d at %s:%d\n", reg.HouseID, reg.Host, reg.Port)
			}
		case "connect":
			id, ok := parseID(fields, 1)
			if !ok {
				continue
			}
			if err := a.ConnectToHouse(id); err != nil {
				fmt.Println("connect failed:", err)
				continue
			}
			fmt.Println("connected to house", id)
		case "items":
			id, ok := parseID(fields, 1)
			if !ok {
				continue
			}
			items, err := a.GetItems(id)
			if err != nil {
				fmt.Println("get items failed:", err)
				continue
			}
			for _, item := range items {
				fmt.Printf("#%d %q min=%s current=%s\n",
					item.ItemID, item.Description, item.MinimumBid, item.CurrentBid)
			}
		case "bid":
			if len(fields) != 4 {
				fmt.Println("usage: bid <house-id> <item-id> <amount>")
				continue
			}
			houseID, ok := parseID(fields, 1)
			if !ok {
				continue
			}
			itemID, ok := parseID(fields, 2)
			if !ok {
				continue
			}
			amount, err := values.NewMoneyFromString(fields[3])
			if err != nil {
				fmt.Println("bad amount:", err)
				continue
			}
			resp, err := a.PlaceBid(houseID, itemID, amount)
			if err != nil {
				fmt.Println("bid failed:", err)
				continue
			}
			fmt.Printf("%s: %s\n", resp.Status, resp.Message)
		case "balance":
			if err := a.UpdateBalance(); err != nil {
				fmt.Println("refresh failed:", err)
				continue
			}
			b := a.Balance()
			fmt.Printf("total=%s available=%s blocked=%s\n", b.Total, b.Available, b.Blocked)
		case "purchases":
			for _, p := range a.Purchases() {
				fmt.Printf("house %d item %d %q for %s\n", p.HouseID, p.ItemID, p.Description, p.Price)
			}
		case "quit":
			a.Disconnect()
			os.Exit(0)
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func parseID(fields []string, idx int) (int64, bool) {
	if len(fields) <= idx {
		fmt.Println("missing id argument")
		return 0, false
	}
	id, err := strconv.ParseInt(fields[idx], 10, 64)
	if err != nil {
		fmt.Println("bad id:", err)
		return 0, false
	}
	return id, true
}
