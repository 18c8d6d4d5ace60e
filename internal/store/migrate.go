package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// A migrationStep transforms the in-memory container from one version
// stamp to the next. Steps are pure over the container; the caller takes
// the pre-migration backup and persists the result.
type migrationStep struct {
	from, to uint32
	describe string
	apply    func(c *container) error
}

// migrationSteps is the ordered upgrade path. Every supported older
// version must reach CurrentStoreVersion through consecutive steps.
var migrationSteps = []migrationStep{
	{
		from:     1,
		to:       2,
		describe: "stamp datasets with a provenance source tag",
		apply: func(c *container) error {
			for _, ds := range c.datasets {
				if ds.meta.Source == "" {
					ds.meta.Source = DefaultSourceTag
				}
			}
			return nil
		},
	},
}

// migrateContainer upgrades c in place from its stamped version to
// CurrentStoreVersion. A backup copy of the original file is taken before
// any step runs; if a step fails the store refuses to proceed and the
// backup is the fallback.
func migrateContainer(path string, c *container, log *slog.Logger) error {
	backup := fmt.Sprintf("%s.bak-v%d-%d", path, c.version, time.Now().Unix())
	if err := copyFile(path, backup); err != nil {
		return fmt.Errorf("pre-migration backup of %s: %w", path, err)
	}
	log.Info("migrating store", "path", path, "from", c.version, "to", CurrentStoreVersion, "backup", backup)

	for _, step := range migrationSteps {
		if step.from != c.version {
			continue
		}
		if err := step.apply(c); err != nil {
			return fmt.Errorf("store migration v%d→v%d (%s) failed, restore from %s: %w",
				step.from, step.to, step.describe, backup, err)
		}
		c.version = step.to
		log.Info("store migration step applied", "to", step.to, "step", step.describe)
	}

	if c.version != CurrentStoreVersion {
		return fmt.Errorf("no migration path from store version %d to %d, restore from %s",
			c.version, CurrentStoreVersion, backup)
	}
	pruneBackups(path, log)
	return nil
}

// maxBackups bounds how many pre-migration backups are kept per store
// file. The newest ones survive.
const maxBackups = 5

func pruneBackups(path string, log *slog.Logger) {
	matches, err := filepath.Glob(path + ".bak-v*")
	if err != nil || len(matches) <= maxBackups {
		return
	}
	// Backup names embed the Unix timestamp, so lexical order is
	// creation order for same-version backups; sort to be safe.
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-maxBackups] {
		if err := os.Remove(old); err != nil {
			log.Warn("could not prune old backup", "path", old, "error", err)
			continue
		}
		log.Info("pruned old backup", "path", old)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
