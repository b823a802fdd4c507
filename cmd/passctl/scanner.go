package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dropDatabas3/leopass/internal/offline"
	"github.com/spf13/cobra"
)

// openAgent abre la base local y arma el agente desde el entorno (LEOPASS_*).
func openAgent() (*offline.DB, *offline.Components, error) {
	cfg, err := offline.LoadAgentConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := offline.Open(cfg.DataPath)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg.Build(db), nil
}

func scanCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <token>",
		Short: "Escanea un token: lo verifica, lo envía o lo encola si no hay red",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, c, err := openAgent()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			c.Monitor.Check(ctx)
			out, err := c.Agent.Scan(ctx, args[0])
			if err != nil {
				if errors.Is(err, offline.ErrQueueFull) {
					fmt.Fprintln(os.Stderr, offline.QueueFullMessage(c.Queue.Capacity()))
					return err
				}
				if cls := offline.Class(err); cls != "" {
					return fmt.Errorf("%w (class=%s, review=%t)", err, cls, offline.NeedsReview(err))
				}
				return err
			}
			if out.Queued != nil {
				g.print(out.Queued, func() { fmt.Printf("sin red: encolado %s\n", out.Queued.ID) })
				return nil
			}
			g.print(out.Result, func() {
				fmt.Printf("%s · sesión %s", out.Result.Action, out.Result.SessionID)
				if out.Result.Replayed {
					fmt.Print(" (replay)")
				}
				fmt.Println()
			})
			return nil
		},
	}
}

func queueCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Cola offline del dispositivo"}

	list := &cobra.Command{
		Use:   "list",
		Short: "Lista los scans encolados, más viejo primero",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, c, err := openAgent()
			if err != nil {
				return err
			}
			defer db.Close()
			items, err := c.Queue.List(cmd.Context())
			if err != nil {
				return err
			}
			g.print(items, func() {
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tENQUEUED\tRETRIES\tREVIEW\tLAST ERROR")
				for _, it := range items {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n", it.ID, it.EnqueuedAt.Format(time.RFC3339), it.Retries, it.NeedsReview, it.LastError)
				}
				_ = tw.Flush()
			})
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Cuenta pendientes, vencidos y marcados para revisión",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, c, err := openAgent()
			if err != nil {
				return err
			}
			defer db.Close()
			st, err := c.Queue.Stats(cmd.Context())
			if err != nil {
				return err
			}
			g.print(st, func() { fmt.Printf("pending=%d stale=%d review=%d\n", st.Pending, st.Stale, st.Review) })
			return nil
		},
	}

	flush := &cobra.Command{
		Use:   "flush",
		Short: "Reenvía la cola si el servicio está disponible",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, c, err := openAgent()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := c.Client.Ready(cmd.Context()); err != nil {
				return fmt.Errorf("servicio no disponible: %w", err)
			}
			rep, err := c.Flusher.Flush(cmd.Context())
			if err != nil {
				return err
			}
			g.print(rep, func() {
				fmt.Printf("submitted=%d replayed=%d failed=%d stale=%d skipped=%d stopped=%t\n",
					rep.Submitted, rep.Replayed, rep.Failed, rep.Stale, rep.Skipped, rep.Stopped)
			})
			return nil
		},
	}

	drop := &cobra.Command{
		Use:   "drop <id>",
		Short: "Descarta un item ya resuelto a mano",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, c, err := openAgent()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := c.Queue.Remove(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, offline.ErrItemNotFound) {
					return fmt.Errorf("no existe el item %s", args[0])
				}
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}

	var interval time.Duration
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Sigue la conectividad y sincroniza en cada reconexión",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := offline.LoadAgentConfig()
			if err != nil {
				return err
			}
			if interval > 0 {
				cfg.CheckInterval = interval
			}
			db, err := offline.Open(cfg.DataPath)
			if err != nil {
				return err
			}
			defer db.Close()
			err = cfg.Build(db).Monitor.Run(cmd.Context())
			if errors.Is(err, cmd.Context().Err()) {
				return nil
			}
			return err
		},
	}
	watch.Flags().DurationVar(&interval, "interval", 0, "intervalo entre chequeos (default LEOPASS_CHECK_INTERVAL)")

	cmd.AddCommand(list, stats, flush, drop, watch)
	return cmd
}
