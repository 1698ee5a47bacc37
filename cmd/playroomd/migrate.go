package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/playhtml/playroom/pkg/normalize"
	"github.com/playhtml/playroom/pkg/storage"
	"github.com/spf13/cobra"
)

// migrateCmd backfills legacy "host/path" document keys into the
// canonical url-encoded room IDs §6 expects, leaving a redirect row
// behind so any client still requesting the old key lands on the same
// room. Mirrors cmd/warren-migrate's backup-then-migrate shape, applied
// to this repository's documents/room_redirects schema instead of
// warren's tasks/containers one.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Backfill legacy room keys into canonical IDs with redirects",
	RunE: func(cmd *cobra.Command, args []string) error {
		initLogging(cmd)

		dataDir, _ := cmd.Flags().GetString("data-dir")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backupPath, _ := cmd.Flags().GetString("backup")

		dbPath := dataDir + "/playroom.db"
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database not found at %s", dbPath)
		}

		fmt.Printf("Database: %s\n", dbPath)
		fmt.Printf("Dry run: %v\n", dryRun)

		if !dryRun {
			if backupPath == "" {
				backupPath = dbPath + ".backup"
			}
			fmt.Printf("Creating backup: %s\n", backupPath)
			if err := copyFile(dbPath, backupPath); err != nil {
				return fmt.Errorf("failed to create backup: %w", err)
			}
			fmt.Println("Backup created")
		}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()

		return migrateLegacyKeys(store, dryRun)
	},
}

func init() {
	migrateCmd.Flags().String("data-dir", "./data", "Directory holding the bbolt persistence file")
	migrateCmd.Flags().Bool("dry-run", false, "Show what would be migrated without making changes")
	migrateCmd.Flags().String("backup", "", "Path to back up the database before migrating (default: <db>.backup)")
}

// migrateLegacyKeys walks every stored document whose key is not a valid
// canonical room ID, derives its canonical successor by splitting on the
// first "/" into host and path, and installs a redirect from the legacy
// key to the canonical one — copying the document's blob under the new
// key if nothing already lives there. The legacy entry is left in place.
func migrateLegacyKeys(store *storage.BoltStore, dryRun bool) error {
	keys, err := store.ListDocumentKeys()
	if err != nil {
		return fmt.Errorf("list document keys: %w", err)
	}

	legacyCount := 0
	migratedCount := 0

	for _, legacyKey := range keys {
		if !normalize.IsInvalidID(legacyKey) {
			continue
		}
		host, path, ok := splitLegacyKey(legacyKey)
		if !ok {
			fmt.Printf("skipping unparseable legacy key %q\n", legacyKey)
			continue
		}
		canonical, err := normalize.CanonicalRoomID(host, path)
		if err != nil {
			fmt.Printf("skipping %q: %v\n", legacyKey, err)
			continue
		}
		legacyCount++

		if dryRun {
			fmt.Printf("[dry run] would redirect %q -> %q\n", legacyKey, canonical)
			continue
		}

		blob, ok, err := store.Load(legacyKey)
		if err != nil {
			return fmt.Errorf("load %q: %w", legacyKey, err)
		}
		if ok {
			if _, existing, err := store.Load(canonical); err != nil {
				return fmt.Errorf("load %q: %w", canonical, err)
			} else if !existing {
				if err := store.Upsert(canonical, blob); err != nil {
					return fmt.Errorf("upsert %q: %w", canonical, err)
				}
			}
		}
		if err := store.InsertRedirect(legacyKey, canonical); err != nil {
			return fmt.Errorf("insert redirect %q -> %q: %w", legacyKey, canonical, err)
		}
		migratedCount++
	}

	if dryRun {
		fmt.Printf("\nDry run complete: %d legacy keys would be migrated.\n", legacyCount)
		return nil
	}
	fmt.Printf("\nMigrated %d/%d legacy keys.\n", migratedCount, legacyCount)
	return nil
}

// splitLegacyKey splits a legacy "host/path" key into its two parts. A
// key with no "/" has no path component and is treated as root.
func splitLegacyKey(key string) (host, path string, ok bool) {
	if key == "" {
		return "", "", false
	}
	idx := strings.IndexByte(key, '/')
	if idx < 0 {
		return key, "/", true
	}
	return key[:idx], key[idx:], true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
