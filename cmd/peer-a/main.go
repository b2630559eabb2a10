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
	"github.com/elnosh/htlcswap/peer/a"
	"github.com/elnosh/htlcswap/proofstore"
	"github.com/urfave/cli/v2"
)

var alice *a.Alice

func dataDir() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}
	return filepath.Join(homedir, ".htlcswap", "alice")
}

func setupAlice(ctx *cli.Context) error {
	cfg, err := config.LoadAlice(dataDir())
	if err != nil {
		printErr(err)
	}

	mnemonic := cfg.Mnemonic
	if mnemonic == "" {
		mnemonic, err = keys.NewMnemonic()
		if err != nil {
			printErr(err)
		}
		fmt.Printf("generated a new seed phrase, save it and set ALICE_MNEMONIC to reuse this identity:\n%s\n", mnemonic)
	}
	privKey, err := keys.DerivePrivateKey(mnemonic, keys.RoleAlice)
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
	base := peer.NewBase("A", bus, mint, store, privKey)

	if err := peer.DialPeers(mt, cfg.Peers, base.PubKeyHex()); err != nil {
		printErr(err)
	}
	srv := peer.ServeRelay(cfg.ListenAddr, mt)
	go srv.ListenAndServe()

	alice = a.New(base)
	return nil
}

func main() {
	app := &cli.App{
		Name:  "peer-a",
		Usage: "htlcswap payer peer",
		Commands: []*cli.Command{
			serveCmd,
			balanceCmd,
			pkCmd,
			infoCmd,
			receiveTokenCmd,
			payCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		printErr(err)
	}
}

// serveCmd keeps Alice's relay connections open so she can answer info
// queries and inbound blinded_signatures callbacks outside of a foreground
// receive command. balance/pk/receive/pay dial out for the duration of a
// single flow and exit once it completes.
var serveCmd = &cli.Command{
	Name:   "serve",
	Usage:  "run alice, answering requests until terminated",
	Before: setupAlice,
	Action: func(ctx *cli.Context) error {
		fmt.Printf("alice %s listening\n", alice.PubKeyHex())
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
		<-c
		return nil
	},
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "wallet balance",
	Before: setupAlice,
	Action: func(ctx *cli.Context) error {
		fmt.Printf("%d sat\n", alice.Store.Balance())
		return nil
	},
}

var pkCmd = &cli.Command{
	Name:   "pk",
	Usage:  "print this peer's pubkey",
	Before: setupAlice,
	Action: func(ctx *cli.Context) error {
		fmt.Println(alice.PubKeyHex())
		return nil
	},
}

var infoCmd = &cli.Command{
	Name:      "info",
	Usage:     "query a peer's info",
	ArgsUsage: "<pubkey>",
	Before:    setupAlice,
	Action: func(ctx *cli.Context) error {
		if ctx.Args().Len() < 1 {
			printErr(errors.New("pubkey not provided"))
		}
		resp, err := alice.Bus.Call(context.Background(), ctx.Args().First(), "info", nil, messaging.DefaultTimeout)
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
	Usage:     "deposit a bearer token locked to this peer, or request a Lightning-backed receive",
	ArgsUsage: "<token> | <amount> <gatewayPubkey> <dealerPubkey>",
	Before:    setupAlice,
	Action: func(ctx *cli.Context) error {
		args := ctx.Args()
		switch args.Len() {
		case 1:
			amount, err := alice.ReceiveToken(args.First())
			if err != nil {
				printErr(err)
			}
			fmt.Printf("%d sat received\n", amount)
			return nil
		case 3:
			return receiveBridge(ctx)
		default:
			printErr(errors.New("usage: receive <token> | receive <amount> <gatewayPubkey> <dealerPubkey>"))
			return nil
		}
	},
}

func receiveBridge(ctx *cli.Context) error {
	args := ctx.Args()
	var amount uint64
	if _, err := fmt.Sscanf(args.Get(0), "%d", &amount); err != nil || amount == 0 {
		printErr(errors.New("invalid amount"))
	}
	gatewayPubkey := args.Get(1)
	dealerPubkey := args.Get(2)

	invoice, preimageHash, err := alice.RequestReceive(context.Background(), amount, gatewayPubkey, dealerPubkey)
	if err != nil {
		printErr(err)
	}
	fmt.Printf("pay this invoice to receive %d sat (preimage_hash=%s):\n%s\n", amount, preimageHash, invoice)

	fmt.Println("waiting for settlement...")
	if err := alice.WaitReceive(context.Background(), preimageHash); err != nil {
		printErr(err)
	}
	fmt.Println("received")
	return nil
}

var payCmd = &cli.Command{
	Name:      "pay",
	Usage:     "pay a lightning invoice through a gateway",
	ArgsUsage: "<invoice> <gatewayPubkey> [amount]",
	Before:    setupAlice,
	Action: func(ctx *cli.Context) error {
		args := ctx.Args()
		if args.Len() < 2 {
			printErr(errors.New("usage: pay <invoice> <gatewayPubkey> [amount]"))
		}
		var amountOverride uint64
		if args.Len() >= 3 {
			fmt.Sscanf(args.Get(2), "%d", &amountOverride)
		}

		preimage, err := alice.Send(context.Background(), args.Get(0), args.Get(1), amountOverride)
		if err != nil {
			printErr(err)
		}
		fmt.Printf("paid, preimage=%s\n", preimage)
		return nil
	},
}

func printErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
