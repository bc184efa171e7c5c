package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
	"github.com/fortiblox/X1-Onering/pkg/rpcclient"
	"github.com/fortiblox/X1-Onering/pkg/token"
)

// runStatus prints the state of a running server and describes each
// address argument the way inspect does.
func runStatus(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	urls := fs.String("url", strings.Join(a.cfg.RPC.URLs, ","), "Comma separated server URLs, tried in rotation")
	timeout := fs.Duration("timeout", 10*time.Second, "Per-request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var endpoints []string
	for _, u := range strings.Split(*urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			endpoints = append(endpoints, u)
		}
	}
	cfg := rpcclient.DefaultConfig()
	cfg.Timeout = *timeout
	client, err := rpcclient.Dial(endpoints, cfg)
	if err != nil {
		return err
	}

	version, err := client.GetVersion(ctx)
	if err != nil {
		return err
	}
	health := "ok"
	if err := client.GetHealth(ctx); err != nil {
		health = err.Error()
	}
	hash, slot, err := client.GetStateHash(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("version     %s\nprogram     %s\nhealth      %s\nslot        %d\nstate hash  %s\n",
		version.Version, version.Program, health, slot, hash)

	programID, err := types.PubkeyFromBase58(version.Program)
	if err != nil {
		return fmt.Errorf("server program id: %w", err)
	}
	if fs.NArg() > 0 {
		fmt.Println()
	}
	for _, arg := range fs.Args() {
		pk, err := types.PubkeyFromBase58(arg)
		if err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
		acc, err := client.GetAccount(ctx, pk)
		if errors.Is(err, accounts.ErrAccountNotFound) {
			fmt.Printf("%-12s %s\n", "missing", pk)
			continue
		}
		if err != nil {
			return err
		}

		// Token balances render in whole tokens when the mint is readable.
		decimals := make(map[types.Pubkey]uint8)
		if ta, err := token.DecodeAccount(acc); err == nil {
			if supply, err := client.GetTokenSupply(ctx, ta.Mint); err == nil {
				decimals[ta.Mint] = supply.Decimals
			}
		}
		kind, line := describe(programID, pk, acc, decimals)
		if kind == "" {
			kind = "Account"
			line = fmt.Sprintf("owner=%s size=%d", acc.Owner, len(acc.Data))
		}
		fmt.Printf("%-12s %s %s\n", kind, pk, line)
	}
	return nil
}
