package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"relaybot/internal/config"

	"github.com/spf13/cobra"
)

// Archive layout: every member carries a directory prefix that tells the
// restore side where it belongs, independent of on-disk file names.
//
//	state/        workflow database and its WAL sidecars
//	config/       the JSON configuration file
//	definitions/  YAML workflow definitions
const (
	archiveStateDir  = "state"
	archiveConfigDir = "config"
	archiveDefsDir   = "definitions"
)

// dbCanonicalName is the database's name inside the archive regardless of
// what the configured path calls it.
const dbCanonicalName = "workflows.db"

// archiveEntry pairs an on-disk file with its name inside the archive.
type archiveEntry struct {
	Name string
	Path string
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the workflow database, config and definitions",
		Long: `Writes a compressed tar archive of everything RelayBot persists: the
workflow database (with WAL sidecars), the configuration file and any
YAML workflow definitions. Archives are timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			entries := collectBackupSet(cfgPath)
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up under %s", filepath.Dir(cfgPath))
			}

			if outputPath == "" {
				dir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create backup directory: %w", err)
				}
				stamp := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(dir, "relaybot-"+stamp+".tar.gz")
			}

			if err := writeArchive(outputPath, entries); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}

			fmt.Printf("Backup written: %s\n", outputPath)
			for _, e := range entries {
				var size int64
				if info, err := os.Stat(e.Path); err == nil {
					size = info.Size()
				}
				fmt.Printf("  %-32s %s\n", e.Name, formatSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "archive path (default: ~/.relaybot/backups/relaybot-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var inputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [archive]",
		Short: "Restore RelayBot data from a backup archive",
		Long: `Unpacks an archive produced by 'relaybot backup', putting the workflow
database, configuration and definitions back in place.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify an archive: relaybot restore <file.tar.gz>")
			}

			cfgPath := resolveConfigPath()
			layout := layoutFor(cfgPath)

			if !force {
				if conflicts := layout.existing(); len(conflicts) > 0 {
					fmt.Println("Restore would overwrite:")
					for _, p := range conflicts {
						fmt.Printf("  %s\n", p)
					}
					return fmt.Errorf("aborted, re-run with --force to overwrite")
				}
			}

			restored, err := unpackArchive(inputPath, layout)
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}

			fmt.Printf("Restored %d file(s) from %s\n", len(restored), inputPath)
			for _, p := range restored {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "archive to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

// restoreLayout maps archive prefixes back to on-disk destinations.
type restoreLayout struct {
	dbPath  string
	cfgPath string
	defsDir string
}

func layoutFor(cfgPath string) restoreLayout {
	layout := restoreLayout{
		cfgPath: cfgPath,
		dbPath:  filepath.Join(filepath.Dir(cfgPath), "workflows.db"),
	}
	if cfg, err := config.Load(cfgPath); err == nil {
		if cfg.Workflows.DBPath != "" {
			layout.dbPath = cfg.Workflows.DBPath
		}
		layout.defsDir = cfg.Workflows.Dir
	}
	if layout.defsDir == "" {
		layout.defsDir = filepath.Join(filepath.Dir(cfgPath), "workflows")
	}
	return layout
}

// target resolves an archive member name to its destination path. Members
// with an unknown prefix or a nested name are rejected.
func (l restoreLayout) target(name string) (string, bool) {
	prefix, rest, ok := strings.Cut(filepath.ToSlash(name), "/")
	if !ok || rest == "" || rest == "." || rest == ".." || strings.Contains(rest, "/") {
		return "", false
	}
	switch prefix {
	case archiveStateDir:
		// The database lands at the configured path no matter what it was
		// called when the archive was written. Sidecar suffixes carry over.
		if suffix, found := strings.CutPrefix(rest, dbCanonicalName); found {
			return l.dbPath + suffix, true
		}
		return filepath.Join(filepath.Dir(l.dbPath), rest), true
	case archiveConfigDir:
		return l.cfgPath, true
	case archiveDefsDir:
		return filepath.Join(l.defsDir, rest), true
	}
	return "", false
}

// existing reports which destinations already hold data.
func (l restoreLayout) existing() []string {
	var present []string
	for _, p := range []string{l.dbPath, l.cfgPath} {
		if _, err := os.Stat(p); err == nil {
			present = append(present, p)
		}
	}
	return present
}

// collectBackupSet gathers every file worth archiving. Missing pieces are
// skipped so a fresh install still produces a config-only backup.
func collectBackupSet(cfgPath string) []archiveEntry {
	layout := layoutFor(cfgPath)
	var entries []archiveEntry

	if _, err := os.Stat(layout.dbPath); err == nil {
		entries = append(entries, archiveEntry{
			Name: archiveStateDir + "/" + dbCanonicalName,
			Path: layout.dbPath,
		})
		for _, suffix := range []string{"-wal", "-shm"} {
			if _, err := os.Stat(layout.dbPath + suffix); err == nil {
				entries = append(entries, archiveEntry{
					Name: archiveStateDir + "/" + dbCanonicalName + suffix,
					Path: layout.dbPath + suffix,
				})
			}
		}
	}

	if _, err := os.Stat(cfgPath); err == nil {
		entries = append(entries, archiveEntry{
			Name: archiveConfigDir + "/config.json",
			Path: cfgPath,
		})
	}

	if items, err := os.ReadDir(layout.defsDir); err == nil {
		for _, item := range items {
			if item.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(item.Name()))
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			entries = append(entries, archiveEntry{
				Name: archiveDefsDir + "/" + item.Name(),
				Path: filepath.Join(layout.defsDir, item.Name()),
			})
		}
	}

	return entries
}

// writeArchive produces dest as a gzip-compressed tar of the given entries.
func writeArchive(dest string, entries []archiveEntry) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		if err := archiveFile(tw, e); err != nil {
			return fmt.Errorf("%s: %w", e.Name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func archiveFile(tw *tar.Writer, e archiveEntry) error {
	f, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Name:     e.Name,
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// unpackArchive extracts every recognized member into the layout's
// destinations and returns the paths it wrote.
func unpackArchive(src string, layout restoreLayout) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var written []string

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		dest, ok := layout.target(hdr.Name)
		if !ok {
			fmt.Printf("  skipping unknown member %q\n", hdr.Name)
			continue
		}

		if dest == layout.dbPath {
			// Leftover WAL sidecars from a previous database would be
			// replayed into the restored file. Drop them first; the
			// archive's own sidecars, if any, extract afterwards.
			os.Remove(dest + "-wal")
			os.Remove(dest + "-shm")
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return written, err
		}
		if err := copyMember(dest, tr); err != nil {
			return written, fmt.Errorf("%s: %w", dest, err)
		}
		written = append(written, dest)
	}

	return written, nil
}

func copyMember(dest string, r io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// formatSize renders a byte count using binary units.
func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
