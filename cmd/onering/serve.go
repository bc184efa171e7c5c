package main

import (
	"context"
	"flag"
	"net"
	"strings"

	"github.com/fortiblox/X1-Onering/pkg/rpc"
)

func runServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", a.cfg.RPC.Addr, "JSON-RPC listen address")
	origins := fs.String("cors-origins", strings.Join(a.cfg.RPC.CORSOrigins, ","), "Comma separated allowed CORS origins, empty allows all")
	logRequests := fs.Bool("log-requests", a.cfg.RPC.LogRequests, "Log every request at debug level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := rpc.DefaultConfig()
	cfg.Addr = *addr
	cfg.LogRequests = *logRequests
	cfg.Version = Version
	for _, o := range strings.Split(*origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	a.logger.Info("serving ledger",
		"addr", ln.Addr().String(),
		"program", a.cfg.ProgramID.String(),
		"slot", a.rt.Slot())

	server := rpc.New(cfg, a.rt, a.journal, a.cfg.ProgramID, a.logger)
	if err := server.Serve(ctx, ln); err != nil {
		return err
	}
	a.logger.Info("server stopped", "slot", a.rt.Slot())
	return nil
}
