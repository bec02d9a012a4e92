package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
)

// chromem names collection directories after a hash prefix of the name.
var collectionDirPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

const quarantineDir = ".quarantine"

// openPersistent loads a persistent chromem DB. Collection directories
// that hold documents but lost their metadata file stop chromem from
// loading at all; those are moved aside and the load is retried.
func openPersistent(ctx context.Context, path string, compress bool, logger *logging.Logger) (*chromem.DB, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "collection metadata file not found") {
		return nil, err
	}

	corrupt, findErr := findCorruptCollections(path)
	if findErr != nil || len(corrupt) == 0 {
		return nil, err
	}

	qpath := filepath.Join(path, quarantineDir)
	if err := os.MkdirAll(qpath, 0o700); err != nil {
		return nil, fmt.Errorf("creating quarantine dir: %w", err)
	}
	for _, dir := range corrupt {
		src := filepath.Join(path, dir)
		dst := filepath.Join(qpath, dir)
		logger.Warn(ctx, "quarantining corrupt collection", zap.String("from", src), zap.String("to", dst))
		if err := os.Rename(src, dst); err != nil {
			logger.Error(ctx, "quarantine failed", zap.String("dir", dir), zap.Error(err))
		}
	}

	db, err = chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("loading after quarantine: %w", err)
	}
	logger.Info(ctx, "chromem loaded after quarantine", zap.Int("quarantined", len(corrupt)))
	return db, nil
}

// findCorruptCollections lists collection dirs with .gob documents but no
// 00000000.gob metadata file.
func findCorruptCollections(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var corrupt []string
	for _, entry := range entries {
		if !entry.IsDir() || !collectionDirPattern.MatchString(entry.Name()) {
			continue
		}
		dir := filepath.Join(path, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "00000000.gob")); !os.IsNotExist(err) {
			continue
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".gob") {
				corrupt = append(corrupt, entry.Name())
				break
			}
		}
	}
	return corrupt, nil
}
