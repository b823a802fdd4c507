package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dropDatabas3/leopass/internal/domain/repository"
	"github.com/spf13/cobra"
)

type keyView struct {
	KID         string     `json:"kid"`
	Status      string     `json:"status"`
	ActivatedAt time.Time  `json:"activatedAt"`
	RotatedAt   *time.Time `json:"rotatedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func viewKey(k repository.SigningKey) keyView {
	return keyView{KID: k.ID, Status: string(k.Status), ActivatedAt: k.ActivatedAt, RotatedAt: k.RotatedAt, ExpiresAt: k.ExpiresAt}
}

func keysCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Ciclo de vida de las claves de firma"}

	list := &cobra.Command{
		Use:   "list",
		Short: "Lista claves ACTIVE, ROTATING y RETIRED",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.openCore(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()
			recs, err := c.store.Keys().ListByStatus(cmd.Context(),
				repository.KeyStatusActive, repository.KeyStatusRotating, repository.KeyStatusRetired)
			if err != nil {
				return err
			}
			views := make([]keyView, 0, len(recs))
			for _, r := range recs {
				views = append(views, viewKey(r))
			}
			g.print(views, func() {
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KID\tSTATUS\tACTIVATED")
				for _, v := range views {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", v.KID, v.Status, v.ActivatedAt.Format(time.RFC3339))
				}
				_ = tw.Flush()
			})
			return nil
		},
	}

	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Crea una clave ACTIVE si no hay ninguna",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.openCore(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()
			k, err := c.keys.EnsureActiveKey(cmd.Context())
			if err != nil {
				return err
			}
			v := viewKey(*k)
			g.print(v, func() { fmt.Printf("%s %s\n", v.KID, v.Status) })
			return nil
		},
	}

	rotate := &cobra.Command{
		Use:   "rotate",
		Short: "Pasa la ACTIVE a ROTATING y crea una nueva ACTIVE",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.openCore(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()
			k, err := c.keys.Rotate(cmd.Context())
			if err != nil {
				return err
			}
			v := viewKey(*k)
			g.print(v, func() { fmt.Printf("nueva ACTIVE: %s\n", v.KID) })
			return nil
		},
	}

	retire := &cobra.Command{
		Use:   "retire <kid>",
		Short: "Pasa una clave ROTATING a RETIRED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.openCore(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.keys.Retire(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Borra el material de claves RETIRED más viejas que --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.openCore(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()
			n, err := c.keys.PurgeRetired(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			g.print(map[string]int{"purged": n}, func() { fmt.Printf("purged=%d\n", n) })
			return nil
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "antigüedad mínima de la clave retirada")

	genMaster := &cobra.Command{
		Use:   "gen-master",
		Short: "Genera una clave maestra de 32 bytes para SECRETBOX_MASTER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("generate master key: %w", err)
			}
			enc := base64.StdEncoding.EncodeToString(key)
			g.print(map[string]string{"masterKey": enc}, func() { fmt.Println(enc) })
			return nil
		},
	}

	cmd.AddCommand(list, ensure, rotate, retire, purge, genMaster)
	return cmd
}
