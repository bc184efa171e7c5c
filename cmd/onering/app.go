package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fortiblox/X1-Onering/internal/config"
	"github.com/fortiblox/X1-Onering/internal/logging"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
	"github.com/fortiblox/X1-Onering/pkg/journal"
	"github.com/fortiblox/X1-Onering/pkg/onering"
	"github.com/fortiblox/X1-Onering/pkg/runtime"
	"github.com/fortiblox/X1-Onering/pkg/token"
)

// app holds the opened stores and the runtime every command works against.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      accounts.DB
	journal *journal.Store
	rt      *runtime.Runtime

	// scratch is removed on Close; the memory backend journals into it.
	scratch string
}

func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	switch cfg.Backend {
	case config.BackendMemory:
		a.db = accounts.NewMemoryDB()
	case config.BackendBadger:
		bcfg := accounts.DefaultBadgerDBConfig(cfg.AccountsPath)
		bcfg.InMemory = cfg.BadgerInMemory
		bcfg.Logger = logging.Badger(logger)
		db, err := accounts.NewBadgerDB(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open account store: %w", err)
		}
		a.db = db
	default:
		return nil, fmt.Errorf("%w: backend %q", config.ErrInvalidConfig, cfg.Backend)
	}

	journalPath := cfg.JournalPath
	if cfg.Backend == config.BackendMemory || cfg.BadgerInMemory {
		dir, err := os.MkdirTemp("", "onering-journal-*")
		if err != nil {
			a.db.Close()
			return nil, fmt.Errorf("create scratch directory: %w", err)
		}
		a.scratch = dir
		journalPath = filepath.Join(dir, "journal.db")
	}
	jcfg := journal.DefaultConfig(journalPath)
	jcfg.NoSync = cfg.JournalNoSync
	j, err := journal.Open(jcfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	a.journal = j

	a.rt = runtime.New(a.db, runtime.Config{
		Logger:       logger,
		Journal:      j,
		ComputeLimit: cfg.ComputeLimit,
	})
	a.rt.Register(token.NewProgram(), onering.NewProgram(cfg.ProgramID))

	latest, err := j.Latest()
	switch {
	case err == nil:
		a.rt.SetSlot(latest.Slot)
	case !errors.Is(err, journal.ErrNotFound):
		a.Close()
		return nil, fmt.Errorf("read journal: %w", err)
	}

	count, _ := a.db.AccountsCount()
	logger.Debug("ledger opened",
		"backend", cfg.Backend,
		"accounts", count,
		"journal", journalPath,
		"journal_records", j.Count(),
		"slot", a.rt.Slot())
	return a, nil
}

// Close applies the journal retention limit and closes every store.
func (a *app) Close() error {
	var errs []error
	if a.journal != nil {
		if a.cfg.JournalRetain > 0 {
			if removed, err := a.journal.Prune(a.cfg.JournalRetain); err != nil {
				errs = append(errs, err)
			} else if removed > 0 {
				a.logger.Debug("journal pruned", "removed", removed)
			}
		}
		errs = append(errs, a.journal.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.scratch != "" {
		errs = append(errs, os.RemoveAll(a.scratch))
	}
	return errors.Join(errs...)
}
