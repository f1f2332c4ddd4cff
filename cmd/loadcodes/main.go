// Command loadcodes imports access codes into the bot database from a CSV
// file with a "code,house_id" header. Already-known codes are skipped.
//
//	loadcodes codes.csv [db_path]
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"house-concierge-bot/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: loadcodes <codes.csv> [db_path]")
		os.Exit(1)
	}
	csvPath := os.Args[1]
	dbPath := "./house-bots.db"
	if len(os.Args) > 2 {
		dbPath = os.Args[2]
	}

	rows, err := readCodes(csvPath)
	if err != nil {
		log.Fatalf("read %s: %s", csvPath, err)
	}

	db, err := storage.New(dbPath)
	if err != nil {
		log.Fatalf("open %s: %s", dbPath, err)
	}
	defer db.Close()

	n, err := db.BulkLoadCodes(context.Background(), rows)
	if err != nil {
		log.Fatalf("load codes: %s", err)
	}
	fmt.Printf("Loaded %d codes from %s\n", n, csvPath)
}

func readCodes(path string) ([]storage.CodeRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	codeIdx, houseIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case "code":
			codeIdx = i
		case "house_id":
			houseIdx = i
		}
	}
	if codeIdx < 0 || houseIdx < 0 {
		return nil, fmt.Errorf("missing code/house_id columns in header %v", header)
	}

	var rows []storage.CodeRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		code, err := strconv.ParseInt(strings.TrimSpace(rec[codeIdx]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad code %q: %w", rec[codeIdx], err)
		}
		rows = append(rows, storage.CodeRow{Code: code, HouseID: strings.TrimSpace(rec[houseIdx])})
	}
	return rows, nil
}
