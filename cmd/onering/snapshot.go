package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/fortiblox/X1-Onering/pkg/snapshot"
)

func runSnapshot(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: onering snapshot export|import|verify|list [path]")
	}
	fs := flag.NewFlagSet("snapshot "+args[0], flag.ContinueOnError)
	dir := fs.String("dir", a.cfg.SnapshotDir, "Snapshot directory")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	switch args[0] {
	case "export":
		path, res, err := snapshot.WriteFile(a.db, a.rt.Slot(), *dir)
		if err != nil {
			return err
		}
		a.logger.Info("snapshot exported", "path", path, "slot", res.Slot, "accounts", res.AccountCount, "state_hash", res.StateHash.String())
		fmt.Println(path)
		return nil

	case "import":
		path, err := snapshotPath(fs, *dir)
		if err != nil {
			return err
		}
		res, err := snapshot.LoadFile(path, a.db)
		if err != nil {
			return err
		}
		a.rt.SetSlot(res.Slot)
		a.logger.Info("snapshot imported", "path", path, "slot", res.Slot, "accounts", res.AccountCount, "state_hash", res.StateHash.String())
		return nil

	case "verify":
		path, err := snapshotPath(fs, *dir)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		res, err := snapshot.Verify(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("%s: ok, slot %d, %d accounts, state hash %s\n", path, res.Slot, res.AccountCount, res.StateHash)
		return nil

	case "list":
		infos, err := snapshot.FindSnapshots(*dir)
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Printf("slot %-8d %10d bytes  %s\n", info.Slot, info.Size, info.Path)
		}
		return nil
	}
	return fmt.Errorf("%w: snapshot %s", errUnknownCommand, args[0])
}

// snapshotPath is the path argument, or the newest snapshot in dir.
func snapshotPath(fs *flag.FlagSet, dir string) (string, error) {
	if fs.NArg() > 0 {
		return fs.Arg(0), nil
	}
	info, err := snapshot.FindLatestSnapshot(dir)
	if err != nil {
		return "", fmt.Errorf("%s: %w", dir, err)
	}
	return info.Path, nil
}
