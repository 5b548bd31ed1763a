package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"zkbattle/internal/app"
	"zkbattle/internal/codec"
	"zkbattle/internal/command"
	"zkbattle/internal/config"
	"zkbattle/internal/game"
	"zkbattle/internal/identity"
	"zkbattle/internal/ledger"
	"zkbattle/internal/notify"
	"zkbattle/internal/prover"
	"zkbattle/internal/recovery"
	"zkbattle/internal/server"
	"zkbattle/internal/storage/sqlite"
	"zkbattle/internal/telemetry"
	"zkbattle/internal/zk"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Logger())

	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = cmdServe(cfg, args)
	case "play":
		err = cmdPlay(cfg, args)
	case "status":
		err = cmdStatus(cfg, args)
	case "account":
		err = cmdAccount(cfg, args)
	case "keys":
		err = cmdKeys(cfg, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("command failed", "command", os.Args[1], "err", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`zkbattle

Commands:
  serve   --addr :8080 --db zkbattle.db
  play    --db zkbattle.db
  status  --db zkbattle.db
  account --db zkbattle.db
  keys    --dir ./keys

Settings are read from ZKBATTLE_* environment variables; flags override them.`)
}

func newProver(cfg config.Config) prover.Prover {
	if cfg.Prover == config.ProverGnark {
		return zk.NewProver(cfg.KeysDir)
	}
	return prover.NewSimulated(cfg.SimLatency)
}

func newService(cfg config.Config, store *sqlite.Store, opts ...app.Option) *app.Service {
	settings := app.Settings{
		Stake:        cfg.Stake,
		Rules:        game.Rules{RestoreTurnOnFailure: cfg.RestoreTurnOnFailure},
		StageTimeout: cfg.StageTimeout,
		LowBalance:   cfg.LowBalance,
	}
	id := identity.Static{Key: cfg.Account, Verified: cfg.Verified}
	opts = append([]app.Option{app.WithLogger(slog.Default())}, opts...)
	return app.New(settings, store, store, newProver(cfg), id, opts...)
}

func cmdServe(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.Addr, "listen address")
	db := fs.String("db", cfg.DBPath, "sqlite database path")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "zkbattle", cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown", "err", err)
		}
	}()

	store, err := sqlite.Open(ctx, *db)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := server.NewHub(slog.Default())
	svc := newService(cfg, store,
		app.WithObservers(hub),
		app.WithAlerter(notify.Fanout{notify.Log{Logger: slog.Default()}, hub}),
	)
	outcome, err := svc.Open(ctx)
	if err != nil {
		return err
	}
	slog.Info("session resumed", "outcome", outcome)
	defer func() {
		if err := svc.Close(context.Background()); err != nil {
			slog.Warn("close session", "err", err)
		}
	}()

	mux := http.NewServeMux()
	server.New(svc, hub, slog.Default()).Routes(mux)
	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           server.WithCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("serving", "addr", *addr, "prover", cfg.Prover)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			slog.Error("graceful shutdown failed", "err", err)
			return httpSrv.Close()
		}
		return nil
	})
	return g.Wait()
}

func cmdPlay(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	db := fs.String("db", cfg.DBPath, "sqlite database path")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(ctx, *db)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := newService(cfg, store, app.WithAlerter(notify.Func(func(_ context.Context, t notify.Type, _, detail string) {
		fmt.Printf("! %s %s\n", t, detail)
	})))
	outcome, err := svc.Open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(context.Background()) }()
	fmt.Println("resume:", outcome)
	printState(os.Stdout, svc.State())

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch strings.ToLower(fields[0]) {
		case "quit", "exit":
			return nil
		case "status":
			printState(os.Stdout, svc.State())
			continue
		case "account":
			acc, err := svc.Account(ctx)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("balance %d  wins %d  losses %d\n", acc.Balance, acc.Wins, acc.Losses)
			continue
		case "start":
			stake := cfg.Stake
			if len(fields) > 1 {
				v, err := strconv.ParseInt(fields[1], 10, 64)
				if err != nil {
					fmt.Println("error: stake must be a number")
					continue
				}
				stake = v
			}
			s, err := svc.Start(ctx, stake)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			printState(os.Stdout, s)
			continue
		}

		reply, err := svc.Handle(ctx, command.Transcript{Text: line})
		if reply.Fire != nil && !reply.Fire.Skipped {
			fmt.Printf("shot %s: stage %s hit=%t ref=%s\n",
				game.CellName(reply.Fire.Target), reply.Fire.Stage, reply.Fire.Hit, reply.Fire.Ref)
		}
		if err != nil {
			fmt.Println("error:", err)
		}
		printState(os.Stdout, reply.State)
	}
}

func printState(w io.Writer, s game.State) {
	if s.SessionID == "" {
		fmt.Fprintln(w, "no session; type 'start [stake]'")
		return
	}
	fmt.Fprintf(w, "session %s  phase %s  stake %d  turn %s\n", s.SessionID, s.Phase, s.Stake, s.Turn)
	fmt.Fprintln(w, "   yours        theirs")
	for r := 0; r < game.GridSize; r++ {
		var b strings.Builder
		for c := 0; c < game.GridSize; c++ {
			b.WriteByte(cellGlyph(s.PlayerGrid[r*game.GridSize+c]))
			b.WriteByte(' ')
		}
		b.WriteString("   ")
		for c := 0; c < game.GridSize; c++ {
			st := s.OpponentGrid[r*game.GridSize+c]
			if st == game.CellOccupied {
				st = game.CellUnrevealed
			}
			b.WriteByte(cellGlyph(st))
			b.WriteByte(' ')
		}
		fmt.Fprintf(w, "%d  %s\n", r+1, b.String())
	}
	if s.Phase == game.PhaseEnded {
		fmt.Fprintf(w, "winner: %s\n", s.Winner)
	}
}

func cellGlyph(c game.CellState) byte {
	switch c {
	case game.CellOccupied:
		return 'U'
	case game.CellTargeted:
		return '?'
	case game.CellHit:
		return 'X'
	case game.CellMiss:
		return 'o'
	}
	return '.'
}

// cmdStatus reads the persisted snapshot without resuming it, so no
// refund or repair runs as a side effect.
func cmdStatus(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	db := fs.String("db", cfg.DBPath, "sqlite database path")
	_ = fs.Parse(args)

	ctx := context.Background()
	store, err := sqlite.Open(ctx, *db)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Get(ctx)
	if errors.Is(err, recovery.ErrNoSnapshot) {
		return printJSON(map[string]any{"session": nil})
	}
	if err != nil {
		return err
	}
	s, savedAt, err := codec.Decode(snap.Payload)
	if err != nil {
		return printJSON(map[string]any{"sessionId": snap.SessionID, "corrupt": true, "error": err.Error()})
	}
	return printJSON(map[string]any{
		"sessionId":  s.SessionID,
		"phase":      s.Phase.String(),
		"stake":      s.Stake,
		"turn":       s.Turn.String(),
		"shotsFired": s.ShotsFired,
		"shotsTaken": s.ShotsTaken,
		"stage":      s.Proof.Stage.String(),
		"seq":        s.Seq,
		"savedAt":    savedAt,
	})
}

func cmdAccount(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("account", flag.ExitOnError)
	db := fs.String("db", cfg.DBPath, "sqlite database path")
	key := fs.String("key", cfg.Account, "account key")
	_ = fs.Parse(args)

	ctx := context.Background()
	store, err := sqlite.Open(ctx, *db)
	if err != nil {
		return err
	}
	defer store.Close()

	acc, err := ledger.NewBook(store).Account(ctx, *key)
	if err != nil {
		return err
	}
	return printJSON(acc)
}

func cmdKeys(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	dir := fs.String("dir", cfg.KeysDir, "keys directory")
	_ = fs.Parse(args)

	ccs, err := zk.Compile()
	if err != nil {
		return err
	}
	if _, _, err := zk.EnsureKeys(*dir, ccs); err != nil {
		return err
	}
	fmt.Println("✓ keys ready in", *dir)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
