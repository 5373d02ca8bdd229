package ingest_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/rs/zerolog"

	"github.com/sana-health/procsync/internal/catalog"
	"github.com/sana-health/procsync/internal/ingest"
	"github.com/sana-health/procsync/internal/procedure"
	"github.com/sana-health/procsync/internal/store"
)

// This example demonstrates a sync pass against a remote catalog.
// Note: This is for documentation only and won't run as a test.
func ExampleSyncer_Run() {
	ctx := context.Background()
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	st, err := store.Open(ctx, store.Config{Path: ".procsync/procedures.db"})
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	remote, err := catalog.NewHTTP(catalog.HTTPConfig{BaseURL: "https://mds.example.org"}, logger)
	if err != nil {
		log.Fatal(err)
	}

	pre, err := procedure.DefaultPreamble()
	if err != nil {
		log.Fatal(err)
	}

	syncer := ingest.New(remote, st, pre, ingest.DefaultConfig(), logger)
	result, err := syncer.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("inserted=%d updated=%d failed=%d\n", result.Inserted, result.Updated, result.Failed)
}

// This example demonstrates importing a procedure file from removable storage.
func ExampleSyncer_ImportFile() {
	ctx := context.Background()

	st, err := store.Open(ctx, store.Config{Path: ".procsync/procedures.db"})
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	pre, err := procedure.DefaultPreamble()
	if err != nil {
		log.Fatal(err)
	}

	syncer := ingest.New(nil, st, pre, ingest.DefaultConfig(), zerolog.Nop())
	item, err := syncer.ImportFile(ctx, "/sdcard/procedures/hiv.xml")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s stored as %d (%s)\n", item.Title, item.Ref, item.Action)
}
