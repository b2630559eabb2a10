package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/elnosh/htlcswap/config"
	"github.com/elnosh/htlcswap/keys"
	"github.com/elnosh/htlcswap/messaging"
	"github.com/elnosh/htlcswap/mintclient"
	"github.com/elnosh/htlcswap/peer"
	"github.com/elnosh/htlcswap/peer/d"
	"github.com/elnosh/htlcswap/proofstore"
	"github.com/urfave/cli/v2"
)

var dealer *d.Dealer

func dataDir() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}
	return filepath.Join(homedir, ".htlcswap", "dealer")
}

func setupDealer(ctx *cli.Context) error {
	cfg, err := config.LoadDealer(dataDir())
	if err != nil {
		printErr(err)
	}

	mnemonic := cfg.Mnemonic
	if mnemonic == "" {
		mnemonic, err = keys.NewMnemonic()
		if err != nil {
			printErr(err)
		}
		fmt.Printf("generated a new seed phrase, save it and set DEALER_MNEMONIC to reuse this identity:\n%s\n", mnemonic)
	}
	privKey, err := keys.DerivePrivateKey(mnemonic, keys.RoleDealer)
	if err != nil {
		printErr(err)
	}

	store, err := proofstore.Open(cfg.DataDir)
	if err != nil {
		printErr(err)
	}
	mint := mintclient.New(cfg.MintURL)
	keysetCache, err := mintclient.OpenKeysetCache(cfg.DataDir)
	if err != nil {
		printErr(err)
	}
	mint.SetCache(keysetCache)

	mt := messaging.NewMultiTransport()
	bus := messaging.NewBus(mt)
	base := peer.NewBase("D", bus, mint, store, privKey)

	if err := peer.DialPeers(mt, cfg.Peers, base.PubKeyHex()); err != nil {
		printErr(err)
	}
	srv := peer.ServeRelay(cfg.ListenAddr, mt)
	go srv.ListenAndServe()

	dealer = d.New(base, cfg.FeeSats)
	return nil
}

func main() {
	app := &cli.App{
		Name:  "peer-d",
		Usage: "htlcswap dealer peer",
		Commands: []*cli.Command{
			serveCmd,
			balanceCmd,
			pkCmd,
			infoCmd,
			receiveTokenCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		printErr(err)
	}
}

var serveCmd = &cli.Command{
	Name:   "serve",
	Usage:  "run the dealer, answering requests until terminated",
	Before: setupDealer,
	Action: func(ctx *cli.Context) error {
		fmt.Printf("dealer %s listening, fee=%d sat\n", dealer.PubKeyHex(), dealer.Fee)
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
		<-c
		return nil
	},
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "wallet balance",
	Before: setupDealer,
	Action: func(ctx *cli.Context) error {
		fmt.Printf("%d sat\n", dealer.Store.Balance())
		return nil
	},
}

var pkCmd = &cli.Command{
	Name:   "pk",
	Usage:  "print this peer's pubkey",
	Before: setupDealer,
	Action: func(ctx *cli.Context) error {
		fmt.Println(dealer.PubKeyHex())
		return nil
	},
}

var infoCmd = &cli.Command{
	Name:      "info",
	Usage:     "query a peer's info",
	ArgsUsage: "<pubkey>",
	Before:    setupDealer,
	Action: func(ctx *cli.Context) error {
		if ctx.Args().Len() < 1 {
			printErr(errors.New("pubkey not provided"))
		}
		resp, err := dealer.Bus.Call(context.Background(), ctx.Args().First(), "info", nil, messaging.DefaultTimeout)
		if err != nil {
			printErr(err)
		}
		if resp.Error != nil {
			printErr(resp.Error)
		}
		fmt.Println(string(resp.Result))
		return nil
	},
}

var receiveTokenCmd = &cli.Command{
	Name:      "receive",
	Usage:     "deposit a bearer token locked to this peer",
	ArgsUsage: "<token>",
	Before:    setupDealer,
	Action: func(ctx *cli.Context) error {
		if ctx.Args().Len() < 1 {
			printErr(errors.New("token not provided"))
		}
		amount, err := dealer.ReceiveToken(ctx.Args().First())
		if err != nil {
			printErr(err)
		}
		fmt.Printf("%d sat received\n", amount)
		return nil
	},
}

func printErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
