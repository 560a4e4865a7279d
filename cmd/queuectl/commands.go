package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/paysync/internal/domain"
	"github.com/dvloznov/paysync/internal/events"
	"github.com/dvloznov/paysync/internal/history"
	"github.com/dvloznov/paysync/internal/queue"
)

func printQueue(ctx context.Context, c *controlClient, out io.Writer) error {
	var status queue.Status
	if err := c.do(ctx, http.MethodGet, "/api/queue", nil, &status); err != nil {
		return err
	}

	fmt.Fprintf(out, "%d pending, %d abandoned\n", status.QueuedCount, status.AbandonedCount)
	if len(status.Transactions) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECIPIENT\tAMOUNT\tSTATE\tATTEMPTS\tENQUEUED\tLAST ERROR")
	for _, tx := range status.Transactions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			tx.ID,
			tx.RecipientHandle,
			tx.Amount.StringFixed(2),
			tx.State,
			tx.AttemptCount,
			tx.EnqueuedAt.Local().Format(time.DateTime),
			tx.LastError,
		)
	}
	return tw.Flush()
}

func sendPayment(ctx context.Context, c *controlClient, out io.Writer, to, amount, description string) error {
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", amount, err)
	}

	req := map[string]any{
		"recipient_handle": to,
		"amount":           amt.String(),
		"description":      description,
	}
	var resp struct {
		ID      string         `json:"id"`
		Outcome events.Outcome `json:"outcome"`
		Message string         `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/transactions", req, &resp); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %s\n", resp.ID, resp.Message)
	if resp.Outcome.Kind == events.OutcomeRejected {
		return fmt.Errorf("payment rejected")
	}
	return nil
}

func printConnectivity(ctx context.Context, c *controlClient, out io.Writer, refresh bool) error {
	path := "/api/connectivity"
	if refresh {
		path += "?refresh=true"
	}
	var state domain.ConnectivityState
	if err := c.do(ctx, http.MethodGet, path, nil, &state); err != nil {
		return err
	}

	label := "offline"
	if state.Online {
		label = "online"
	}
	if state.LastChangedAt.IsZero() {
		fmt.Fprintf(out, "%s (not yet probed)\n", label)
		return nil
	}
	fmt.Fprintf(out, "%s since %s\n", label, state.LastChangedAt.Local().Format(time.DateTime))
	return nil
}

func printTrackers(ctx context.Context, c *controlClient, out io.Writer) error {
	var resp struct {
		Trackers []struct {
			domain.TransactionStatus
			Message string `json:"message"`
		} `json:"trackers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/trackers", nil, &resp); err != nil {
		return err
	}
	if len(resp.Trackers) == 0 {
		fmt.Fprintln(out, "No transactions being tracked")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REFERENCE\tREMOTE ID\tSTATE\tPOLLS\tMESSAGE")
	for _, t := range resp.Trackers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", t.TransactionRef, t.RemoteID, t.State, t.Attempts, t.Message)
	}
	return tw.Flush()
}

func printHistory(ctx context.Context, c *controlClient, out io.Writer, limit int) error {
	var resp struct {
		Events []*history.Row `json:"events"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.do(ctx, http.MethodGet, "/api/history?"+q.Encode(), nil, &resp); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tKIND\tTRANSACTION\tREFERENCE\tSTATE\tMESSAGE")
	for _, row := range resp.Events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			row.RecordedAt.Local().Format(time.DateTime),
			row.Kind,
			row.TransactionID.StringVal,
			row.TransactionRef.StringVal,
			row.State,
			row.Message.StringVal,
		)
	}
	return tw.Flush()
}
