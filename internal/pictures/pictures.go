// Package pictures downloads and stores artwork for collected records. Files
// land under the configured storage directory with names derived from the
// record, sanitized so a hostile title can never escape the directory.
package pictures

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gabriel-vasile/mimetype"
	"gorm.io/gorm"

	"github.com/priyxstudio/curator/config"
	"github.com/priyxstudio/curator/internal/models"
	"github.com/priyxstudio/curator/remote"
)

// unsafeChars matches everything not allowed in a stored artwork filename.
var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Service downloads artwork referenced by collected records.
type Service struct {
	db     *gorm.DB
	client *remote.Client
	dir    string
	logger *log.Entry
}

// NewService creates a picture service writing into the pictures subdirectory
// of the configured storage directory.
func NewService(db *gorm.DB) *Service {
	cfg := config.Get()
	return &Service{
		db: db,
		client: remote.New("",
			remote.WithUserAgent(cfg.Http.UserAgent),
			remote.WithTimeout(time.Duration(cfg.Http.TimeoutSeconds)*time.Second),
			remote.WithRetry(
				cfg.Http.Retry.MaxRetries,
				time.Duration(cfg.Http.Retry.BaseDelayMs)*time.Millisecond,
				time.Duration(cfg.Http.Retry.MaxDelayMs)*time.Millisecond,
			),
		),
		dir:    filepath.Join(cfg.System.StorageDirectory, "pictures"),
		logger: log.WithField("subsystem", "pictures"),
	}
}

// Fetch downloads the artwork for the given record and persists both the file
// and its database row. Records without a picture URL are a no-op.
func (s *Service) Fetch(ctx context.Context, animeID uint) error {
	var record models.Anime
	if err := s.db.First(&record, animeID).Error; err != nil {
		return errors.Wrapf(err, "pictures: no record with id %d", animeID)
	}
	if record.PictureURL == "" {
		s.logger.WithField("anime_id", animeID).Debug("record has no artwork url")
		return nil
	}

	body, err := s.client.Download(ctx, record.PictureURL)
	if err != nil {
		return errors.Wrapf(err, "pictures: could not download artwork for record %d", animeID)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, "pictures: could not create storage directory")
	}

	name := Filename(record.Provider, record.RemoteID, record.PictureURL, body)
	dest := filepath.Join(s.dir, name)
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return errors.Wrapf(err, "pictures: could not write %s", dest)
	}

	picture := models.Picture{
		AnimeID:   record.ID,
		URL:       record.PictureURL,
		Path:      dest,
		SizeBytes: int64(len(body)),
	}

	var existing models.Picture
	result := s.db.Where("anime_id = ? AND url = ?", record.ID, record.PictureURL).First(&existing)
	if result.Error == gorm.ErrRecordNotFound {
		err = s.db.Create(&picture).Error
	} else if result.Error != nil {
		err = result.Error
	} else {
		existing.Path = dest
		existing.SizeBytes = picture.SizeBytes
		err = s.db.Save(&existing).Error
	}
	if err != nil {
		return errors.Wrapf(err, "pictures: could not store artwork row for record %d", animeID)
	}

	s.logger.WithFields(log.Fields{
		"anime_id": animeID,
		"path":     dest,
		"size":     picture.SizeBytes,
	}).Info("artwork stored")
	return nil
}

// Filename builds a safe on-disk name for a downloaded artwork file. The
// extension is sniffed from the file content itself; URLs regularly lie about
// or omit the type, so the URL path is only a fallback hint and anything
// unrecognized is stored as .jpg.
func Filename(provider string, remoteID uint, rawURL string, body []byte) string {
	var ext string
	if len(body) > 0 {
		if m := mimetype.Detect(body); strings.HasPrefix(m.String(), "image/") {
			ext = m.Extension()
		}
	}
	if ext == "" {
		ext = strings.ToLower(path.Ext(path.Base(rawURL)))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		default:
			ext = ".jpg"
		}
	}

	base := unsafeChars.ReplaceAllString(provider, "_") + "_" + strconv.FormatUint(uint64(remoteID), 10)
	return base + ext
}
