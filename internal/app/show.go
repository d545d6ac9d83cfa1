package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"depegshield/internal/claims"
)

// Show prints recent accepted prices, or recent claims with --claims.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Claims {
		return a.showClaims(ctx, store, opts.Limit)
	}

	points, err := store.ListRecentPriceHistory(ctx, opts.Asset, opts.Limit)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		fmt.Fprintln(os.Stdout, "no price history found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAsset\tPrice\tSource")
	for _, p := range points {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			p.Timestamp.UTC().Format(time.RFC3339),
			p.Asset,
			p.Price.StringFixed(6),
			p.Source,
		)
	}
	writer.Flush()
	return nil
}

func (a *App) showClaims(ctx context.Context, store claims.Store, limit int) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Submitted (UTC)\tClaim\tPolicy\tAsset\tAmount\tStatus\tDecision Price")

	total := 0
	for _, status := range []claims.Status{claims.StatusSubmitted, claims.StatusApproved, claims.StatusPaid, claims.StatusRejected} {
		list, err := store.ListClaimsByStatus(ctx, status, limit)
		if err != nil {
			return err
		}
		for _, c := range list {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				c.SubmittedAt.UTC().Format(time.RFC3339),
				c.ID,
				c.PolicyID,
				c.Asset,
				c.Amount.StringFixed(2),
				c.Status,
				c.DecisionPrice.StringFixed(6),
			)
			total++
		}
	}
	if total == 0 {
		fmt.Fprintln(os.Stdout, "no claims found")
		return nil
	}
	writer.Flush()
	return nil
}
