package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"termpool/internal/model"
	"termpool/internal/store"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the saved pool state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		snap, err := st.Load()
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintln(cmd.OutOrStdout(), "no saved pool state")
			return nil
		}
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		printStatus(cmd.OutOrStdout(), snap, time.Now())
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw snapshot as JSON")
}

func printStatus(w io.Writer, snap *model.Snapshot, now time.Time) {
	r := snap.Round
	fmt.Fprintf(w, "owner:            %s\n", snap.Owner)
	fmt.Fprintf(w, "round:            %d (%s)\n", r.Number, r.PhaseAt(now))
	fmt.Fprintf(w, "start:            %s\n", r.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "dispersal:        %s\n", r.DispersalDate.Format(time.RFC3339))
	fmt.Fprintf(w, "terms:            %d%% apy, cap %d, fee %d\n",
		snap.Terms.APYPercent, snap.Terms.MaxPerMember, snap.Terms.MembershipFee)
	fmt.Fprintf(w, "total deposited:  %d\n", r.TotalDeposited)
	fmt.Fprintf(w, "swept:            %d\n", r.Swept)
	fmt.Fprintf(w, "dispersal funds:  %d\n", r.DispersalFunds)
	fmt.Fprintf(w, "depositors:       %d\n", len(snap.Directory))
	fmt.Fprintf(w, "members:          %d\n", len(snap.Memberships))
	fmt.Fprintf(w, "allowlisted:      %d\n", len(snap.AllowListed()))
	if !snap.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "updated:          %s\n", snap.UpdatedAt.Format(time.RFC3339))
	}
}
