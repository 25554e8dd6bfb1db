// Package myanimelist collects catalog metadata from the MyAnimeList v2 API.
// The API requires a client ID, so the module declares api_key as a required
// configuration field and never starts without one.
package myanimelist

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"gorm.io/gorm"

	"github.com/priyxstudio/curator/config"
	"github.com/priyxstudio/curator/internal/models"
	"github.com/priyxstudio/curator/modules"
	"github.com/priyxstudio/curator/remote"
)

const (
	// DefaultEndpoint is the MyAnimeList v2 API root, overridable through the
	// module's endpoint field.
	DefaultEndpoint = "https://api.myanimelist.net/v2"

	// fields requested on every anime lookup.
	animeFields = "id,title,synopsis,mean,num_episodes,status,main_picture"
)

// Module implements the MyAnimeList provider.
type Module struct {
	mu     sync.RWMutex
	client *remote.Client
	db     *gorm.DB
	logger *log.Entry
}

var _ modules.Module = (*Module)(nil)
var _ modules.Fetcher = (*Module)(nil)
var _ modules.Searcher = (*Module)(nil)
var _ modules.Refresher = (*Module)(nil)

// New creates a MyAnimeList module instance.
func New() *Module {
	return &Module{
		logger: log.WithField("module", "myanimelist"),
	}
}

func (m *Module) Name() string {
	return "myanimelist"
}

func (m *Module) Description() string {
	return "Collects anime metadata from the MyAnimeList v2 API"
}

// Run wires the module's HTTP client to its dedicated rate limiter and then
// idles until shutdown. All actual collection work arrives through the task
// queue via FetchByID, Search and RefreshStale.
func (m *Module) Run(ctx context.Context, deps modules.Deps) error {
	endpoint := deps.Config.Field("endpoint")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	httpCfg := config.Get().Http
	client := remote.New(endpoint,
		remote.WithHeader("X-MAL-CLIENT-ID", deps.Config.Field("api_key")),
		remote.WithUserAgent(httpCfg.UserAgent),
		remote.WithTimeout(time.Duration(httpCfg.TimeoutSeconds)*time.Second),
		remote.WithRateLimiter(deps.Limiter),
		remote.WithRetry(
			httpCfg.Retry.MaxRetries,
			time.Duration(httpCfg.Retry.BaseDelayMs)*time.Millisecond,
			time.Duration(httpCfg.Retry.MaxDelayMs)*time.Millisecond,
		),
		remote.WithCache(5*time.Minute),
	)

	m.mu.Lock()
	m.client = client
	m.db = deps.DB
	m.mu.Unlock()

	m.logger.WithField("endpoint", endpoint).Debug("provider client configured")

	<-ctx.Done()
	return ctx.Err()
}

// animePayload mirrors the subset of the MyAnimeList anime object we store.
type animePayload struct {
	ID          uint    `json:"id"`
	Title       string  `json:"title"`
	Synopsis    string  `json:"synopsis"`
	Mean        float64 `json:"mean"`
	NumEpisodes int     `json:"num_episodes"`
	Status      string  `json:"status"`
	MainPicture struct {
		Medium string `json:"medium"`
		Large  string `json:"large"`
	} `json:"main_picture"`
}

type searchPayload struct {
	Data []struct {
		Node animePayload `json:"node"`
	} `json:"data"`
}

// FetchByID fetches a single anime by its MyAnimeList ID and upserts the
// record into the database.
func (m *Module) FetchByID(ctx context.Context, id uint) error {
	client, db := m.collaborators()
	if client == nil {
		return errors.New("myanimelist: module is not running")
	}

	q := url.Values{}
	q.Set("fields", animeFields)

	var payload animePayload
	if err := client.Get(ctx, "/anime/"+strconv.FormatUint(uint64(id), 10), q, &payload); err != nil {
		return errors.Wrapf(err, "myanimelist: could not fetch anime %d", id)
	}

	if err := m.store(db, payload); err != nil {
		return err
	}
	m.logger.WithFields(log.Fields{
		"remote_id": payload.ID,
		"title":     payload.Title,
	}).Info("anime collected")
	return nil
}

// Search queries the catalog and stores every result.
func (m *Module) Search(ctx context.Context, query string, limit int) error {
	client, db := m.collaborators()
	if client == nil {
		return errors.New("myanimelist: module is not running")
	}
	if limit <= 0 {
		limit = 10
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("fields", animeFields)

	var payload searchPayload
	if err := client.Get(ctx, "/anime", q, &payload); err != nil {
		return errors.Wrapf(err, "myanimelist: search %q failed", query)
	}

	for _, item := range payload.Data {
		if err := m.store(db, item.Node); err != nil {
			return err
		}
	}
	m.logger.WithFields(log.Fields{
		"query":   query,
		"results": len(payload.Data),
	}).Info("search results collected")
	return nil
}

// RefreshStale re-fetches records owned by this provider whose last fetch is
// older than the configured staleness cutoff.
func (m *Module) RefreshStale(ctx context.Context) error {
	client, db := m.collaborators()
	if client == nil || db == nil {
		return nil
	}

	cutoff := time.Now().Add(-config.Get().Collection.StaleCutoff())

	var stale []models.Anime
	if err := db.Where("provider = ? AND fetched_at < ?", m.Name(), cutoff).
		Limit(50).Find(&stale).Error; err != nil {
		return errors.Wrap(err, "myanimelist: could not query stale records")
	}

	for _, record := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.FetchByID(ctx, record.RemoteID); err != nil {
			m.logger.WithError(err).WithField("remote_id", record.RemoteID).Warn("stale refresh failed")
		}
	}
	return nil
}

func (m *Module) collaborators() (*remote.Client, *gorm.DB) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client, m.db
}

func (m *Module) store(db *gorm.DB, payload animePayload) error {
	if db == nil {
		return nil
	}

	picture := payload.MainPicture.Large
	if picture == "" {
		picture = payload.MainPicture.Medium
	}

	var record models.Anime
	result := db.Where("provider = ? AND remote_id = ?", m.Name(), payload.ID).First(&record)

	record.Provider = m.Name()
	record.RemoteID = payload.ID
	record.Title = payload.Title
	record.Synopsis = payload.Synopsis
	record.Score = payload.Mean
	record.Episodes = payload.NumEpisodes
	record.Status = payload.Status
	record.PictureURL = picture
	record.FetchedAt = time.Now()

	var err error
	if result.Error == gorm.ErrRecordNotFound {
		err = db.Create(&record).Error
	} else if result.Error != nil {
		err = result.Error
	} else {
		err = db.Save(&record).Error
	}
	return errors.Wrapf(err, "myanimelist: could not store anime %d", payload.ID)
}
