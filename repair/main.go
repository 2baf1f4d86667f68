// Command repair rewrites JSON outputs written by older scraper versions,
// restoring text that was double-encoded as UTF-8.
package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/wimjan123/tweede-kamer-scraper/internal/archive"
	"github.com/wimjan123/tweede-kamer-scraper/internal/config"
	"github.com/wimjan123/tweede-kamer-scraper/internal/encodingfix"
	"github.com/wimjan123/tweede-kamer-scraper/internal/logger"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("repair")
	cfg, err := config.LoadRepair()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	dir := flag.String("dir", cfg.OutputDir, "output directory to repair")
	dryRun := flag.Bool("dry-run", cfg.DryRun, "report files that would change without writing")
	flag.Parse()

	fixed, scanned, err := repairDir(log, *dir, *dryRun)
	if err != nil {
		log.Error("repair", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("repair completed",
		slog.Int("scanned", scanned),
		slog.Int("fixed", fixed),
		slog.Bool("dry_run", *dryRun),
	)
}

func repairDir(log *slog.Logger, dir string, dryRun bool) (fixed, scanned int, err error) {
	fixed, scanned, err = repairStructured(log, dir, dryRun)
	if err != nil {
		return 0, 0, err
	}

	sf, ss, err := repairSidecars(log, filepath.Join(dir, "xml"), dryRun)
	if err != nil {
		return fixed, scanned, err
	}
	return fixed + sf, scanned + ss, nil
}

func repairStructured(log *slog.Logger, dir string, dryRun bool) (fixed, scanned int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		scanned++
		path := filepath.Join(dir, e.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("read file", slog.String("path", path), slog.Any("err", err))
			continue
		}

		repaired, changed, err := encodingfix.RepairJSON(data)
		if err != nil {
			log.Warn("repair file", slog.String("path", path), slog.Any("err", err))
			continue
		}
		if !changed {
			continue
		}

		if dryRun {
			log.Info("would fix", slog.String("path", path))
			fixed++
			continue
		}

		if err := os.WriteFile(path, repaired, 0o644); err != nil {
			log.Warn("write file", slog.String("path", path), slog.Any("err", err))
			continue
		}
		log.Info("fixed encoding", slog.String("path", path))
		fixed++
	}

	return fixed, scanned, nil
}

// repairSidecars fixes the metadata sidecars and rewrites each raw XML's
// embedded metadata comment with the repaired blob, so the two stay in
// agreement.
func repairSidecars(log *slog.Logger, xmlDir string, dryRun bool) (fixed, scanned int, err error) {
	entries, err := os.ReadDir(xmlDir)
	if os.IsNotExist(err) {
		// Older output layouts have no xml directory.
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".metadata.json") {
			continue
		}
		scanned++
		sidecarPath := filepath.Join(xmlDir, e.Name())

		data, err := os.ReadFile(sidecarPath)
		if err != nil {
			log.Warn("read file", slog.String("path", sidecarPath), slog.Any("err", err))
			continue
		}

		repaired, changed, err := encodingfix.RepairJSON(data)
		if err != nil {
			log.Warn("repair file", slog.String("path", sidecarPath), slog.Any("err", err))
			continue
		}
		if !changed {
			continue
		}

		if dryRun {
			log.Info("would fix", slog.String("path", sidecarPath))
			fixed++
			continue
		}

		xmlPath := filepath.Join(xmlDir, strings.TrimSuffix(e.Name(), ".metadata.json")+".xml")
		raw, err := os.ReadFile(xmlPath)
		switch {
		case err == nil:
			if err := os.WriteFile(xmlPath, archive.ReplaceMetadata(raw, repaired), 0o644); err != nil {
				log.Warn("rewrite embedded metadata", slog.String("path", xmlPath), slog.Any("err", err))
				continue
			}
		case !os.IsNotExist(err):
			log.Warn("read raw xml", slog.String("path", xmlPath), slog.Any("err", err))
			continue
		}

		if err := os.WriteFile(sidecarPath, repaired, 0o644); err != nil {
			log.Warn("write file", slog.String("path", sidecarPath), slog.Any("err", err))
			continue
		}
		log.Info("fixed encoding", slog.String("path", sidecarPath))
		fixed++
	}

	return fixed, scanned, nil
}
