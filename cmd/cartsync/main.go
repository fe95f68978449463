package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"goflare.io/cartsync"
	"goflare.io/cartsync/config"
	"goflare.io/cartsync/logger"
	"goflare.io/cartsync/models"
)

const usage = `usage: cartsync [-session id] [-token t] <command> [args]

commands:
  cart                         show the cart
  add <productId> <qty>        add units of a product
  set <productId> <qty>        set the quantity of a line
  remove <productId>           remove a line
  cancel                       empty the cart
  refresh                      refresh stock from the catalog
  login                        merge the local cart into the account of -token
  logout                       end the authenticated session
  checkout <address> <card>    finalize the cart (requires -token)`

func main() {
	os.Exit(run())
}

// run returns the exit code so every deferred cleanup has happened by the
// time main exits.
func run() int {
	sessionID := flag.String("session", os.Getenv("CARTSYNC_SESSION"), "device or session id")
	token := flag.String("token", os.Getenv("CARTSYNC_TOKEN"), "bearer token of the shopper")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	cfg := config.MustLoad()
	log := logger.New(cfg.Logger)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cartsync.Bootstrap(ctx, cfg, *sessionID, log)
	if err != nil {
		log.Error("Failed to bootstrap", zap.Error(err))
		return 1
	}
	defer app.Close()

	// 有 token 時先登入，讓後續指令走遠端購物車
	if *token != "" && flag.Arg(0) != "login" {
		if _, err = app.Service.Login(ctx, *token); err != nil && !errors.Is(err, models.ErrSyncPartialFailure) {
			log.Error("Login failed", zap.Error(err))
			return 1
		}
	}

	result, err := dispatch(ctx, app.Service, *token, flag.Args())
	if err != nil {
		log.Error("Command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		if !errors.Is(err, models.ErrSyncPartialFailure) {
			return 1
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err = enc.Encode(result); err != nil {
		log.Error("Failed to write result", zap.Error(err))
		return 1
	}
	return 0
}

func dispatch(ctx context.Context, svc cartsync.Service, token string, args []string) (any, error) {
	switch args[0] {
	case "cart":
		return svc.Cart(ctx)
	case "add", "set":
		if len(args) != 3 {
			return nil, errors.New(args[0] + " needs <productId> <qty>")
		}
		productID, qty, err := parseLine(args[1], args[2])
		if err != nil {
			return nil, err
		}
		if args[0] == "add" {
			return svc.Add(ctx, productID, qty)
		}
		return svc.SetQuantity(ctx, productID, qty)
	case "remove":
		if len(args) != 2 {
			return nil, errors.New("remove needs <productId>")
		}
		productID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid product id %q: %w", args[1], err)
		}
		return svc.Remove(ctx, productID)
	case "cancel":
		return svc.Cancel(ctx)
	case "refresh":
		return svc.RefreshCatalog(ctx)
	case "login":
		// a partial failure still returns the synced cart
		return svc.Login(ctx, token)
	case "logout":
		return svc.Logout(ctx)
	case "checkout":
		if len(args) != 3 {
			return nil, errors.New("checkout needs <address> <card>")
		}
		return svc.Checkout(ctx, models.CheckoutRequest{ShippingAddress: args[1], PaymentToken: args[2]})
	default:
		return nil, fmt.Errorf("unknown command %q", args[0])
	}
}

func parseLine(rawID, rawQty string) (int64, int, error) {
	productID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid product id %q: %w", rawID, err)
	}
	qty, err := strconv.Atoi(rawQty)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid quantity %q: %w", rawQty, err)
	}
	return productID, qty, nil
}
