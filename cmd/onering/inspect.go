package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
	"github.com/fortiblox/X1-Onering/pkg/journal"
	"github.com/fortiblox/X1-Onering/pkg/onering"
	"github.com/fortiblox/X1-Onering/pkg/token"
)

func runInspect(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	kind := fs.String("kind", "", "Only print one kind: GlobalState, Market, Reserve, Mint or TokenAccount")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Mint decimals are needed to render token balances.
	decimals := make(map[types.Pubkey]uint8)
	err := a.db.IterateAccounts(func(pk types.Pubkey, acc *accounts.Account) error {
		if m, err := token.DecodeMint(acc); err == nil {
			decimals[pk] = m.Decimals
		}
		return nil
	})
	if err != nil {
		return err
	}

	var printed int
	err = a.db.IterateAccounts(func(pk types.Pubkey, acc *accounts.Account) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		k, line := describe(a.cfg.ProgramID, pk, acc, decimals)
		if k == "" || (*kind != "" && !strings.EqualFold(*kind, k)) {
			return nil
		}
		fmt.Printf("%-12s %s %s\n", k, pk, line)
		printed++
		return nil
	})
	if err != nil {
		return err
	}

	hash, err := accounts.ComputeStateHash(a.db)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d records, state hash %s\n", printed, hash)
	return nil
}

// describe renders one stored account, or returns an empty kind for
// accounts that are neither ledger records nor token state.
func describe(programID, pk types.Pubkey, acc *accounts.Account, decimals map[types.Pubkey]uint8) (string, string) {
	db := singleAccount{pk: pk, acc: acc}
	switch kind := onering.RecordKind(programID, acc); kind {
	case "GlobalState":
		s, err := onering.FetchGlobalState(db, programID, pk)
		if err != nil {
			return kind, err.Error()
		}
		return kind, fmt.Sprintf("admin=%s synthetic_mint=%s emergency=%v total_deposits=%s",
			s.Admin, s.SyntheticMint, s.EmergencyFlag, token.UIAmount(s.TotalDepositAmount, s.SyntheticDecimals))
	case "Market":
		m, err := onering.FetchMarket(db, programID, pk)
		if err != nil {
			return kind, err.Error()
		}
		return kind, fmt.Sprintf("collateral_mint=%s vault=%s liquidity=%s locked=%v",
			m.CollateralMint, m.Vault, token.UIAmount(m.WithdrawalLiquidity, m.CollateralDecimals), m.LockFlag)
	case "Reserve":
		r, err := onering.FetchReserve(db, programID, pk)
		if err != nil {
			return kind, err.Error()
		}
		return kind, fmt.Sprintf("owner=%s global_state=%s deposit=%d frozen=%v", r.Owner, r.GlobalState, r.DepositAmount, r.FreezeFlag)
	}

	if m, err := token.DecodeMint(acc); err == nil {
		return "Mint", fmt.Sprintf("authority=%s supply=%s decimals=%d",
			m.MintAuthority, token.UIAmount(m.Supply, m.Decimals), m.Decimals)
	}
	if ta, err := token.DecodeAccount(acc); err == nil {
		amount := fmt.Sprint(ta.Amount)
		if d, ok := decimals[ta.Mint]; ok {
			amount = token.UIAmount(ta.Amount, d)
		}
		return "TokenAccount", fmt.Sprintf("mint=%s owner=%s amount=%s", ta.Mint, ta.Owner, amount)
	}
	return "", ""
}

// singleAccount serves one already-loaded account as an onering.AccountReader.
type singleAccount struct {
	pk  types.Pubkey
	acc *accounts.Account
}

func (s singleAccount) GetAccount(pk types.Pubkey) (*accounts.Account, error) {
	if pk != s.pk {
		return nil, accounts.ErrAccountNotFound
	}
	return s.acc, nil
}

func runHistory(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "Maximum records to print, 0 for all")
	verbose := fs.Bool("v", false, "Print program logs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		recs []*journal.Record
		err  error
	)
	switch fs.NArg() {
	case 0:
		var rec *journal.Record
		rec, err = a.journal.Latest()
		if errors.Is(err, journal.ErrNotFound) {
			fmt.Println("journal is empty")
			return nil
		}
		if err == nil {
			recs = append(recs, rec)
		}
	case 1:
		if sig, serr := types.SignatureFromBase58(fs.Arg(0)); serr == nil {
			var rec *journal.Record
			if rec, err = a.journal.Get(sig); err == nil {
				recs = append(recs, rec)
			}
			break
		}
		var addr types.Pubkey
		if addr, err = types.PubkeyFromBase58(fs.Arg(0)); err != nil {
			return fmt.Errorf("%q is neither a signature nor an address: %w", fs.Arg(0), err)
		}
		recs, err = a.journal.ForAddress(addr, *limit)
	default:
		return fmt.Errorf("history takes at most one address or signature")
	}
	if err != nil {
		return err
	}

	for _, rec := range recs {
		fmt.Printf("#%-6d slot %-6d %-6s %s %s\n", rec.Sequence, rec.Slot, rec.Status(),
			rec.BlockTime.Format("2006-01-02T15:04:05Z"), strings.Join(rec.Instructions, ","))
		fmt.Printf("        signature %s  compute %d\n", rec.Signature, rec.ComputeUnits)
		if !rec.Succeeded {
			fmt.Printf("        error %d: %s\n", rec.ErrorCode, rec.Error)
		}
		if *verbose {
			for _, l := range rec.Logs {
				fmt.Printf("        %s\n", l)
			}
		}
	}
	fmt.Printf("%d of %d journaled transactions\n", len(recs), a.journal.Count())
	return nil
}

func runPrune(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	retain := fs.Uint64("retain", a.cfg.JournalRetain, "Journal records to keep")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *retain == 0 {
		return fmt.Errorf("prune needs -retain or JOURNAL_RETAIN")
	}
	removed, err := a.journal.Prune(*retain)
	if err != nil {
		return err
	}
	a.logger.Info("journal pruned", "removed", removed, "remaining", a.journal.Count())

	if bdb, ok := a.db.(*accounts.BadgerDB); ok {
		if err := bdb.RunGC(); err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
	}
	return nil
}
