// SPDX-License-Identifier: Apache-2.0

// Command ilp-plugin-ethereum-asym-server is a two-party demo: alice and
// bob link their addresses, alice sends bob two ILP PREPAREs that bob's
// data handler fulfills, and the resulting balances are logged. The demo
// opens no payment channel, so no claim is signed or redeemed.
package main

import (
	"context"
	"log"
	"math/big"
	"os"

	"github.com/sharafian/ilp-plugin-ethereum-asym-server/btp"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/config"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethchannel"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethrpc"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ethwallet"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/ilp"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/peeraccount"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/plugin"
	"github.com/sharafian/ilp-plugin-ethereum-asym-server/store"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	log.Println(cfg.String())

	aliceShell, bobShell, err := setupDemo(cfg)
	if err != nil {
		log.Fatalf("setting up demo: %v", err)
	}
	defer aliceShell.Disconnect(context.Background())
	defer bobShell.Disconnect(context.Background())

	ctx := context.Background()

	alice, err := aliceShell.Account(ctx, "bob")
	if err != nil {
		log.Fatalf("resolving alice's account for bob: %v", err)
	}

	if err := alice.RequestAddressLink(ctx); err != nil {
		log.Fatalf("linking addresses: %v", err)
	}
	log.Println("addresses linked")

	log.Println("sending prepares")
	reply, err := alice.SendPrepare(ctx, ilp.Prepare{
		Destination: "g.crypto.bob",
		Amount:      big.NewInt(1000),
		Expiry:      1,
	})
	if err != nil {
		log.Fatalf("sending prepare: %v", err)
	}
	if _, ferr := ilp.UnmarshalFulfill(reply); ferr != nil {
		log.Fatalf("expected fulfill, got: %s", reply)
	}
	log.Printf("payable balance after first prepare: %s gwei", alice.Payable())

	reply, err = alice.SendPrepare(ctx, ilp.Prepare{
		Destination: "g.crypto.bob",
		Amount:      big.NewInt(2000),
		Expiry:      1,
	})
	if err != nil {
		log.Fatalf("sending second prepare: %v", err)
	}
	if _, ferr := ilp.UnmarshalFulfill(reply); ferr != nil {
		log.Fatalf("expected fulfill, got: %s", reply)
	}
	log.Printf("payable balance after second prepare: %s gwei", alice.Payable())

	bob, err := bobShell.Account(ctx, "alice")
	if err != nil {
		log.Fatalf("resolving bob's account for alice: %v", err)
	}
	log.Printf("bob's receivable balance: %s gwei", bob.Receivable())

	log.Println("demo complete")
}

// setupDemo wires two PeerAccount-backed shells, alice and bob, connected
// over an in-process loopback bus, sharing one on-chain channel contract
// address and one chain client per side.
func setupDemo(cfg *config.Config) (*plugin.Shell, *plugin.Shell, error) {
	backend, err := ethrpc.Dial(cfg.RPCURL)
	if err != nil {
		return nil, nil, err
	}
	executor := ethrpc.New(backend, 0)

	contract, err := ethchannel.NewContract(cfg.ContractAddress, backend)
	if err != nil {
		return nil, nil, err
	}

	aliceKey, err := ethwallet.GenerateAccount()
	if err != nil {
		return nil, nil, err
	}
	bobKey, err := ethwallet.GenerateAccount()
	if err != nil {
		return nil, nil, err
	}

	aliceChain := ethrpc.NewChain(contract, executor, backend, aliceKey, cfg.ChainID)
	bobChain := ethrpc.NewChain(contract, executor, backend, bobKey, cfg.ChainID)

	aliceStore, err := store.Open(cfg.StorePath + ".alice")
	if err != nil {
		return nil, nil, err
	}
	bobStore, err := store.Open(cfg.StorePath + ".bob")
	if err != nil {
		return nil, nil, err
	}

	params := peeraccount.Params{
		OutgoingChannelAmountGwei: cfg.OutgoingChannelAmountGwei,
		OutgoingDisputePeriod:     cfg.OutgoingDisputePeriod,
		MinIncomingDisputePeriod:  cfg.MinIncomingDisputePeriod,
		MaxPacketAmountGwei:       cfg.MaxPacketAmountGwei,
		MaxBalanceGwei:            cfg.MaxBalanceGwei,
		ChannelWatcherInterval:    cfg.ChannelWatcherInterval,
		Confirmations:             cfg.Confirmations,
	}

	bus := btp.NewLoopbackBus()
	aliceShell := plugin.NewShell(bus.Connect("alice"), aliceChain, aliceKey, cfg.ContractAddress, aliceStore, params,
		plugin.WithLogger(log.New(os.Stderr, "alice ", log.LstdFlags)))
	bobShell := plugin.NewShell(bus.Connect("bob"), bobChain, bobKey, cfg.ContractAddress, bobStore, params,
		plugin.WithLogger(log.New(os.Stderr, "bob ", log.LstdFlags)))

	bobShell.RegisterDataHandler(func(ctx context.Context, from btp.Address, prepare []byte) ([]byte, error) {
		p, err := ilp.UnmarshalPrepare(prepare)
		if err != nil {
			return ilp.RejectBundled(err).Marshal(), nil
		}
		log.Printf("bob received prepare for %s gwei from %s", p.Amount, from)
		return ilp.Fulfill{}.Marshal(), nil
	})

	return aliceShell, bobShell, nil
}
