// Package local collects metadata from a media library on disk. It needs no
// network access and no credentials; an enabled module scans the configured
// library path and records one entry per recognized media file.
package local

import (
	"context"
	"hash/fnv"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/priyxstudio/curator/config"
	"github.com/priyxstudio/curator/internal/models"
	"github.com/priyxstudio/curator/modules"
)

// maxConcurrentScans bounds how many files are processed at once during a
// library walk.
const maxConcurrentScans = 10

// mediaExtensions are the file types treated as library entries.
var mediaExtensions = map[string]bool{
	".mkv": true,
	".mp4": true,
	".avi": true,
	".m4v": true,
	".ts":  true,
}

// releaseTags strips bracketed release-group noise and episode markers from a
// filename so the remaining text can serve as a title.
var releaseTags = regexp.MustCompile(`(?i)(\[[^\]]*\]|\([^)]*\)|\b(1080p|720p|480p|x264|x265|hevc|bluray|web-?dl|s\d{1,2}e\d{1,3}|e\d{1,3})\b)`)

// Module implements the local library provider.
type Module struct {
	mu     sync.RWMutex
	db     *gorm.DB
	path   string
	logger *log.Entry
}

var _ modules.Module = (*Module)(nil)
var _ modules.Refresher = (*Module)(nil)

// New creates a local library module instance.
func New() *Module {
	return &Module{
		logger: log.WithField("module", "local"),
	}
}

func (m *Module) Name() string {
	return "local"
}

func (m *Module) Description() string {
	return "Indexes metadata from a local media library on disk"
}

// Run performs an initial library scan and then idles until shutdown. The
// scheduled refresh job triggers rescans through RefreshStale.
func (m *Module) Run(ctx context.Context, deps modules.Deps) error {
	path := deps.Config.Field("path")
	if path == "" {
		path = config.Get().System.StorageDirectory
	}

	m.mu.Lock()
	m.db = deps.DB
	m.path = path
	m.mu.Unlock()

	if err := m.scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.WithError(err).Warn("initial library scan failed")
	}

	<-ctx.Done()
	return ctx.Err()
}

// RefreshStale rescans the library so new and changed files are picked up.
func (m *Module) RefreshStale(ctx context.Context) error {
	return m.scan(ctx)
}

// scan walks the library path and records every recognized media file. File
// processing is bounded by a weighted semaphore so a large library does not
// turn into an unbounded goroutine spike.
func (m *Module) scan(ctx context.Context) error {
	m.mu.RLock()
	db, root := m.db, m.path
	m.mu.RUnlock()

	if db == nil || root == "" {
		return nil
	}

	sem := semaphore.NewWeighted(maxConcurrentScans)
	var wg sync.WaitGroup
	var indexed int64
	var countMu sync.Mutex

	start := time.Now()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			m.logger.WithError(err).WithField("path", path).Debug("skipping unreadable entry")
			return nil
		}
		if d.IsDir() || !mediaExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer sem.Release(1)
			defer wg.Done()
			if err := m.index(db, root, path); err != nil {
				m.logger.WithError(err).WithField("path", path).Warn("could not index library file")
				return
			}
			countMu.Lock()
			indexed++
			countMu.Unlock()
		}()
		return nil
	})
	wg.Wait()

	if err != nil {
		return errors.Wrapf(err, "local: library scan of %s failed", root)
	}

	m.logger.WithFields(log.Fields{
		"path":    root,
		"indexed": indexed,
		"elapsed": time.Since(start).String(),
	}).Info("library scan complete")
	return nil
}

// index upserts a single library file as a collected record.
func (m *Module) index(db *gorm.DB, root, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}

	var record models.Anime
	id := pathID(rel)
	result := db.Where("provider = ? AND remote_id = ?", m.Name(), id).First(&record)

	record.Provider = m.Name()
	record.RemoteID = id
	record.Title = titleFromFilename(filepath.Base(path))
	record.Status = "available"
	record.PictureURL = ""
	record.FetchedAt = time.Now()

	if result.Error == gorm.ErrRecordNotFound {
		err = db.Create(&record).Error
	} else if result.Error != nil {
		err = result.Error
	} else {
		err = db.Save(&record).Error
	}
	return errors.Wrapf(err, "local: could not store library entry %s", rel)
}

// pathID derives a stable identifier for a library file from its path
// relative to the library root.
func pathID(rel string) uint {
	h := fnv.New32a()
	_, _ = h.Write([]byte(filepath.ToSlash(rel)))
	return uint(h.Sum32())
}

// titleFromFilename turns a media filename into a displayable title by
// stripping the extension, release tags and separator characters.
func titleFromFilename(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = releaseTags.ReplaceAllString(name, " ")
	name = strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}
