// The house command runs an auction house node and a small line-based
// operator console on stdin: add/remove items, list the catalog,
// check the balance.
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

	"go.uber.org/zap"

	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
	"github.com/davidleathers/distributed-auction-network/internal/house"
	"github.com/davidleathers/distributed-auction-network/internal/infrastructure/config"
	"github.com/davidleathers/distributed-auction-network/internal/infrastructure/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

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

	zlog, err := zap.NewProduction()
	if err != nil {
		logger.Error("failed to setup zap logger", "error", err)
		os.Exit(1)
	}
	defer zlog.Sync()

	if err := run(ctx, cfg, logger, zlog); err != nil {
		logger.Error("auction house failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, zlog *zap.Logger) error {
	h, err := house.New(house.Config{
		BankAddr:      cfg.House.BankAddr,
		ListenAddr:    cfg.House.ListenAddr,
		AdvertiseHost: cfg.House.AdvertiseHost,
		OpsAddr:       cfg.House.OpsAddr,
		ReadTimeout:   cfg.House.ReadTimeout,
		Engine: house.EngineConfig{
			BidWindow:         cfg.House.BidWindow,
			SettlementTimeout: cfg.House.SettlementTimeout,
		},
	}, logger, zlog)
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}

	go console(ctx, h)

	<-ctx.Done()
	logger.Info("shutting down gracefully")
	shutdownCtx := context.Background()
	return h.Shutdown(shutdownCtx)
}

// console is the operator control plane: a thin REPL over the house's
// operator methods.
func console(ctx context.Context, h *house.House) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println(`commands: add <min-bid> <description> | remove <item-id> | list | balance | quit`)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "add":
			if len(fields) < 3 {
				fmt.Println("usage: add <min-bid> <description>")
				continue
			}
			minBid, err := values.NewMoneyFromString(fields[1])
			if err != nil {
				fmt.Println("bad minimum bid:", err)
				continue
			}
			id, err := h.AddItem(strings.Join(fields[2:], " "), minBid)
			if err != nil {
				fmt.Println("add failed:", err)
				continue
			}
			fmt.Println("added item", id)
		case "remove":
			if len(fields) != 2 {
				fmt.Println("usage: remove <item-id>")
				continue
			}
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Println("bad item id:", err)
				continue
			}
			if err := h.RemoveItem(id); err != nil {
				fmt.Println("remove failed:", err)
				continue
			}
			fmt.Println("removed item", id)
		case "list":
			for _, item := range h.Snapshot() {
				bidder := "none"
				if item.HasBidder() {
					bidder = strconv.FormatInt(item.CurrentBidder, 10)
				}
				fmt.Printf("#%d %q min=%s current=%s bidder=%s\n",
					item.ItemID, item.Description, item.MinimumBid, item.CurrentBid, bidder)
			}
		case "balance":
			total, err := h.Balance()
			if err != nil {
				fmt.Println("balance failed:", err)
				continue
			}
			fmt.Println("house balance:", total)
		case "quit":
			if err := h.Shutdown(context.Background()); err != nil {
				fmt.Println("shutdown refused:", err)
				continue
			}
			os.Exit(0)
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}
