package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/powledger/internal/metrics"
	"github.com/goodnatureofminers/powledger/internal/transport/httppeer"
	"github.com/goodnatureofminers/powledger/internal/wallet"
)

type options struct {
	Wallet  string        `long:"wallet" env:"POWLEDGER_WALLET_FILE" description:"wallet file" default:"wallet.toml"`
	Node    string        `long:"node" env:"POWLEDGER_WALLET_NODE" description:"node address" default:"http://localhost:5000"`
	Timeout time.Duration `long:"timeout" env:"POWLEDGER_WALLET_TIMEOUT" description:"timeout of a node request" default:"10s"`
}

type app struct {
	ctx    context.Context
	opts   options
	logger *zap.Logger
}

type createCommand struct {
	app *app
}

type showCommand struct {
	app *app
}

type sendCommand struct {
	app       *app
	Recipient string `long:"to" description:"recipient identity" required:"true"`
	Amount    string `long:"amount" description:"amount to transfer" required:"true"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()

	a := &app{ctx: ctx, logger: logger}
	parser := flags.NewParser(&a.opts, flags.Default)
	if _, err := parser.AddCommand("create", "create a wallet", "Generates a key pair and writes it to the wallet file.", &createCommand{app: a}); err != nil {
		logger.Fatal("failed to register command", zap.Error(err))
	}
	if _, err := parser.AddCommand("show", "show identity and balance", "Prints the wallet identity and its balance on the node.", &showCommand{app: a}); err != nil {
		logger.Fatal("failed to register command", zap.Error(err))
	}
	if _, err := parser.AddCommand("send", "send a transfer", "Signs a transfer and submits it to the node.", &sendCommand{app: a}); err != nil {
		logger.Fatal("failed to register command", zap.Error(err))
	}

	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		logger.Fatal("wallet command failed", zap.Error(err))
	}
}

func (c *createCommand) Execute([]string) error {
	w, err := wallet.New()
	if err != nil {
		return err
	}
	if err := w.Save(c.app.opts.Wallet); err != nil {
		return err
	}
	c.app.logger.Info("wallet created", zap.String("file", c.app.opts.Wallet), zap.String("identity", w.Identity()))
	fmt.Println(w.Identity())
	return nil
}

func (c *showCommand) Execute([]string) error {
	w, err := wallet.Load(c.app.opts.Wallet)
	if err != nil {
		return err
	}
	client, err := c.app.client()
	if err != nil {
		return err
	}
	balance, err := client.Balance(c.app.ctx, c.app.opts.Node, w.Identity())
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	fmt.Printf("identity: %s\nbalance:  %s\n", w.Identity(), balance)
	return nil
}

func (c *sendCommand) Execute([]string) error {
	amount, err := decimal.NewFromString(c.Amount)
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	w, err := wallet.Load(c.app.opts.Wallet)
	if err != nil {
		return err
	}
	tx, err := w.Transfer(c.Recipient, amount)
	if err != nil {
		return err
	}
	client, err := c.app.client()
	if err != nil {
		return err
	}
	if err := client.SubmitTransaction(c.app.ctx, c.app.opts.Node, tx); err != nil {
		return fmt.Errorf("submit transaction: %w", err)
	}
	c.app.logger.Info("transaction submitted",
		zap.String("recipient", tx.Recipient),
		zap.String("amount", tx.Amount.String()),
		zap.String("signature", tx.Signature),
	)
	return nil
}

func (a *app) client() (*httppeer.Client, error) {
	return httppeer.NewClient(httppeer.ClientConfig{Timeout: a.opts.Timeout}, metrics.NewPeerClient(), a.logger.Named("node_client"))
}
