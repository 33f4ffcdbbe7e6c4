// Command history_inspect dumps the persisted message log of a relay
// instance. Read-only: safe to point at the Badger directory of a
// running relay thanks to the lock guard bypass.
//
// Usage:
//
//	go run ./tools -db /var/lib/chat-relay/badger -room general
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"chat-relay/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "", "Path to the relay's badger directory")
	room := flag.String("room", "", "Restrict the dump to one room (empty scans every room)")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("missing -db flag")
	}

	db, err := openReadOnly(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Room", "Time", "Author", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	prefix := "msg:"
	if *room != "" {
		prefix = fmt.Sprintf("msg:%s:", *room)
	}

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			rawKey := string(item.Key())

			err := item.Value(func(v []byte) error {
				var stored repositories.StoredMessage
				if err := cbor.Unmarshal(v, &stored); err != nil {
					// Keep scanning, one bad record should not hide the rest
					fmt.Printf("Error unmarshaling key %s: %v\n", rawKey, err)
					return nil
				}

				table.Append([]string{
					rawKey,
					string(stored.Room),
					stored.At.Format("2006-01-02 15:04:05"),
					stored.Author,
					stored.Content,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

func openReadOnly(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true).
		WithValueLogFileSize(10 * 1024 * 1024)

	db, err := badger.Open(opts)
	if err != nil {
		// A crashed relay can leave the value log needing truncation;
		// a brief writable open repairs it, then reopen read-only.
		if strings.Contains(err.Error(), "Log truncate required") {
			repairOpts := badger.DefaultOptions(path).
				WithLogger(nil).WithBypassLockGuard(true)

			db, err = badger.Open(repairOpts)
			if err != nil {
				return nil, fmt.Errorf("repair failed: %w", err)
			}

			db.Close()
			return badger.Open(opts)
		}
		return nil, err
	}
	return db, nil
}
