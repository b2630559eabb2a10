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
	"github.com/elnosh/htlcswap/lightning"
	"github.com/elnosh/htlcswap/messaging"
	"github.com/elnosh/htlcswap/mintclient"
	"github.com/elnosh/htlcswap/peer"
	"github.com/elnosh/htlcswap/peer/g"
	"github.com/elnosh/htlcswap/proofstore"
	"github.com/urfave/cli/v2"
)

var gateway *g.Gateway

func dataDir() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}
	return filepath.Join(homedir, ".htlcswap", "gateway")
}

func setupGateway(ctx *cli.Context) error {
	cfg, err := config.LoadGateway(dataDir())
	if err != nil {
		printErr(err)
	}

	mnemonic := cfg.Mnemonic
	if mnemonic == "" {
		mnemonic, err = keys.NewMnemonic()
		if err != nil {
			printErr(err)
		}
		fmt.Printf("generated a new seed phrase, save it and set GATEWAY_MNEMONIC to reuse this identity:\n%s\n", mnemonic)
	}
	privKey, err := keys.DerivePrivateKey(mnemonic, keys.RoleGateway)
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
	base := peer.NewBase("G", bus, mint, store, privKey)

	if err := peer.DialPeers(mt, cfg.Peers, base.PubKeyHex()); err != nil {
		printErr(err)
	}
	srv := peer.ServeRelay(cfg.ListenAddr, mt)
	go srv.ListenAndServe()

	gateway = g.New(base, lightning.NewFakeHodlBackend())
	return nil
}

func main() {
	app := &cli.App{
		Name:  "peer-g",
		Usage: "htlcswap lightning gateway peer",
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

// serveCmd keeps the gateway's relay connections open so make_invoice
// and pay_invoice requests keep being answered; the other
// commands are one-shot admin calls against the same on-disk store.
var serveCmd = &cli.Command{
	Name:   "serve",
	Usage:  "run the gateway, answering requests until terminated",
	Before: setupGateway,
	Action: func(ctx *cli.Context) error {
		fmt.Printf("gateway %s listening\n", gateway.PubKeyHex())
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
		<-c
		return nil
	},
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "wallet balance",
	Before: setupGateway,
	Action: func(ctx *cli.Context) error {
		fmt.Printf("%d sat\n", gateway.Store.Balance())
		return nil
	},
}

var pkCmd = &cli.Command{
	Name:   "pk",
	Usage:  "print this peer's pubkey",
	Before: setupGateway,
	Action: func(ctx *cli.Context) error {
		fmt.Println(gateway.PubKeyHex())
		return nil
	},
}

var infoCmd = &cli.Command{
	Name:      "info",
	Usage:     "query a peer's info",
	ArgsUsage: "<pubkey>",
	Before:    setupGateway,
	Action: func(ctx *cli.Context) error {
		if ctx.Args().Len() < 1 {
			printErr(errors.New("pubkey not provided"))
		}
		resp, err := gateway.Bus.Call(context.Background(), ctx.Args().First(), "info", nil, messaging.DefaultTimeout)
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
	Before:    setupGateway,
	Action: func(ctx *cli.Context) error {
		if ctx.Args().Len() < 1 {
			printErr(errors.New("token not provided"))
		}
		amount, err := gateway.ReceiveToken(ctx.Args().First())
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
