package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/subgate-microservice/subgate-sub000/internal/app"
)

type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }
func (l *idList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

func main() {
	var txs idList
	var dryRun bool
	flag.Var(&txs, "tx", "transaction_id to roll back (repeatable)")
	flag.BoolVar(&dryRun, "dry-run", false, "print the logs of each transaction without rolling back")
	flag.Parse()

	ids := make([]uuid.UUID, 0, len(txs))
	for _, s := range txs {
		id, err := uuid.Parse(s)
		if err != nil || id == uuid.Nil {
			fmt.Printf("invalid transaction_id %q\n", s)
			os.Exit(2)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		fmt.Println("no transaction_id values provided")
		os.Exit(2)
	}

	ctx := context.Background()
	application, err := app.New(ctx)
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	failed := 0
	for _, id := range ids {
		logs, err := application.UoW.Store().ByTransactionID(ctx, nil, id)
		if err != nil {
			fmt.Printf("%s: load logs: %v\n", id, err)
			failed++
			continue
		}
		if dryRun {
			for _, l := range logs {
				fmt.Printf("%s\t%d\t%s\t%s\t%s\n", id, l.ID, l.Action, l.CollectionName, l.ModelID)
			}
			continue
		}
		if err := rollback(ctx, application, id); err != nil {
			fmt.Printf("%s: rollback failed: %v\n", id, err)
			failed++
			continue
		}
		fmt.Printf("%s: rolled back (%d logs)\n", id, len(logs))
	}
	if failed > 0 {
		application.Close()
		os.Exit(1)
	}
}

func rollback(ctx context.Context, application *app.App, id uuid.UUID) error {
	u, err := application.UoW.ForTransaction(ctx, id)
	if err != nil {
		return err
	}
	defer func() { _ = u.Close() }()
	return u.Rollback(ctx)
}
