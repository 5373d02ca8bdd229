package daemon_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/sana-health/procsync/internal/catalog"
	"github.com/sana-health/procsync/internal/daemon"
	"github.com/sana-health/procsync/internal/ingest"
	"github.com/sana-health/procsync/internal/procedure"
	"github.com/sana-health/procsync/internal/store"
)

// Example_dropDirectory imports procedure files copied into a directory and
// syncs a local catalog every minute until interrupted.
func Example_dropDirectory() {
	dir, err := os.MkdirTemp("", "procsync-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(context.Background(), store.Config{Path: filepath.Join(dir, "procedures.db")})
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	pre, err := procedure.DefaultPreamble()
	if err != nil {
		log.Fatal(err)
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	syncer := ingest.New(catalog.NewDir(filepath.Join(dir, "catalog")), st, pre, ingest.DefaultConfig(), logger)

	config := daemon.DefaultConfig()
	config.Interval = time.Minute
	config.DropDir = filepath.Join(dir, "inbox")
	config.Logger = logger
	config.OnResult = func(kind daemon.PassKind, res *ingest.Result, err error) {
		if res != nil {
			fmt.Printf("%s: %d inserted, %d updated, %d failed\n", kind, res.Inserted, res.Updated, res.Failed)
		}
	}

	d, err := daemon.New(syncer, config)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := d.Start(ctx); err != nil {
		log.Fatal(err)
	}
	<-d.Done()
}
