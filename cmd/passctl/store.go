package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/leopass/internal/config"
	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/dropDatabas3/leopass/internal/jwt"
	"github.com/dropDatabas3/leopass/internal/scantoken"
	"github.com/dropDatabas3/leopass/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func migrateCmd(g *globals) *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica migraciones pendientes (o las lista con --status)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.openCore(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()

			if status {
				st, err := store.MigrationState(cmd.Context(), c.store)
				if err != nil {
					return err
				}
				g.print(st, func() {
					fmt.Printf("version=%d dirty=%t\n", st.Version, st.Dirty)
					if len(st.Pending) == 0 {
						fmt.Println("al día")
						return
					}
					fmt.Printf("pendientes: %v\n", st.Pending)
				})
				return nil
			}

			res, err := store.Migrate(cmd.Context(), c.store)
			if err != nil {
				return err
			}
			g.print(res, func() {
				fmt.Printf("%s: applied=%v version=%d took=%s\n", c.store.Name(), res.Applied, res.Version, res.Duration.Round(time.Millisecond))
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "solo listar migraciones pendientes")
	return cmd
}

func seedCmd(g *globals) *cobra.Command {
	var (
		eventID, name string
		start, end    string
		grace         int
		members       []string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Crea (o actualiza) un evento y provisiona pases de miembros",
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := repository.Event{ID: strings.TrimSpace(eventID), Name: name}
			if ev.ID == "" {
				ev.ID = uuid.NewString()
			}
			var err error
			if ev.StartTime, err = parseTime(start, time.Now()); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if ev.EndTime, err = parseTime(end, ev.StartTime.Add(2*time.Hour)); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if !ev.EndTime.After(ev.StartTime) {
				return fmt.Errorf("--end debe ser posterior a --start")
			}
			if grace >= 0 {
				ev.AutoCheckoutGraceMin = &grace
			}

			c, err := g.openCore(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			if err := c.store.Passes().UpsertEvent(ctx, ev); err != nil {
				return err
			}
			for _, m := range members {
				m = strings.TrimSpace(m)
				if m == "" {
					continue
				}
				if err := c.store.Passes().UpsertPass(ctx, repository.MemberEventPass{
					ID: uuid.NewString(), EventID: ev.ID, UserID: m, Status: repository.PassProvisioned,
				}); err != nil {
					return fmt.Errorf("pass %s: %w", m, err)
				}
			}
			g.print(map[string]any{"eventId": ev.ID, "members": len(members)}, func() {
				fmt.Printf("evento %s (%s → %s) con %d pases\n", ev.ID,
					ev.StartTime.Format(time.RFC3339), ev.EndTime.Format(time.RFC3339), len(members))
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "id del evento (default: uuid nuevo)")
	cmd.Flags().StringVar(&name, "name", "Evento", "nombre del evento")
	cmd.Flags().StringVar(&start, "start", "", "inicio RFC3339 (default: ahora)")
	cmd.Flags().StringVar(&end, "end", "", "fin RFC3339 (default: inicio + 2h)")
	cmd.Flags().IntVar(&grace, "grace", -1, "minutos de gracia para auto check-out (default: el del servicio)")
	cmd.Flags().StringSliceVar(&members, "member", nil, "user id a provisionar (repetible o separado por comas)")
	return cmd
}

func tokenCmd(g *globals) *cobra.Command {
	var eventID, userID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Emite un scan token para (evento, miembro) directo contra el store",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.openCore(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()

			iss, err := newIssuer(c).IssueToken(cmd.Context(), userID, eventID)
			if err != nil {
				return err
			}
			g.print(iss, func() {
				fmt.Println(iss.Token)
				fmt.Printf("expires=%s kid=%s\n", iss.ExpiresAt.Format(time.RFC3339), iss.KeyID)
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "id del evento")
	cmd.Flags().StringVar(&userID, "user", "", "id del miembro")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func parseTime(s string, def time.Time) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return def.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func newIssuer(c *core) *scantoken.Issuer {
	return scantoken.NewIssuer(c.store, jwt.NewCodec(c.keys),
		scantoken.WithTTL(config.Duration(c.cfg.Tokens.TTL, scantoken.DefaultTTL)))
}
