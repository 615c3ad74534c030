package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"hr-messenger/domain"
	"hr-messenger/infrastructure/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dbPath := flag.String("db", "./data/messages", "Path to badger DB")
	userA := flag.String("a", "", "Only show the conversation of this user")
	userB := flag.String("b", "", "With -a, only show the conversation between a and b")
	flag.Parse()

	// Read-only so it can run next to a live server.
	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("error while opening Badger: %w", err)
	}
	defer db.Close()

	return dump(context.Background(), db, os.Stdout, *userA, *userB)
}

func dump(ctx context.Context, db *badger.DB, out io.Writer, userA, userB string) error {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Id", "Created", "From", "To", "Read", "Text"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	count := 0
	err := storage.WalkMessages(ctx, db, func(m domain.Message) error {
		if !matches(m, userA, userB) {
			return nil
		}
		count++
		table.Append([]string{
			shorten(m.ID, 8),
			m.CreatedAt.Format("2006-01-02 15:04:05.000"),
			m.SenderID,
			m.ReceiverID,
			strconv.FormatBool(m.IsRead),
			shorten(m.Text, 60),
		})
		return nil
	})
	if err != nil {
		return err
	}
	table.Render()
	_, err = fmt.Fprintf(out, "%d message(s)\n", count)
	return err
}

func matches(m domain.Message, userA, userB string) bool {
	switch {
	case userA == "":
		return true
	case userB == "":
		return m.SenderID == userA || m.ReceiverID == userA
	default:
		return m.Involves(userA, userB)
	}
}

func shorten(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
