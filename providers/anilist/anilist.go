// Package anilist collects catalog metadata from the AniList GraphQL API.
// AniList does not require an API key, so the module has no required fields
// and starts whenever it is enabled.
package anilist

import (
	"context"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/buger/jsonparser"
	"gorm.io/gorm"

	"github.com/priyxstudio/curator/config"
	"github.com/priyxstudio/curator/internal/models"
	"github.com/priyxstudio/curator/modules"
	"github.com/priyxstudio/curator/remote"
)

// DefaultEndpoint is the AniList GraphQL endpoint, overridable through the
// module's endpoint field.
const DefaultEndpoint = "https://graphql.anilist.co"

const mediaByIDQuery = `
query ($id: Int) {
  Media(id: $id, type: ANIME) {
    id
    title { romaji english }
    description
    averageScore
    episodes
    status
    coverImage { large }
  }
}`

const mediaSearchQuery = `
query ($search: String, $perPage: Int) {
  Page(perPage: $perPage) {
    media(search: $search, type: ANIME) {
      id
      title { romaji english }
      description
      averageScore
      episodes
      status
      coverImage { large }
    }
  }
}`

// Module implements the AniList provider.
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

// New creates an AniList module instance.
func New() *Module {
	return &Module{
		logger: log.WithField("module", "anilist"),
	}
}

func (m *Module) Name() string {
	return "anilist"
}

func (m *Module) Description() string {
	return "Collects anime metadata from the AniList GraphQL API"
}

// Run wires the module's HTTP client to its dedicated rate limiter and idles
// until shutdown; collection work arrives through the task queue.
func (m *Module) Run(ctx context.Context, deps modules.Deps) error {
	endpoint := deps.Config.Field("endpoint")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	httpCfg := config.Get().Http
	client := remote.New(endpoint,
		remote.WithUserAgent(httpCfg.UserAgent),
		remote.WithTimeout(time.Duration(httpCfg.TimeoutSeconds)*time.Second),
		remote.WithRateLimiter(deps.Limiter),
		remote.WithRetry(
			httpCfg.Retry.MaxRetries,
			time.Duration(httpCfg.Retry.BaseDelayMs)*time.Millisecond,
			time.Duration(httpCfg.Retry.MaxDelayMs)*time.Millisecond,
		),
	)

	m.mu.Lock()
	m.client = client
	m.db = deps.DB
	m.mu.Unlock()

	m.logger.WithField("endpoint", endpoint).Debug("provider client configured")

	<-ctx.Done()
	return ctx.Err()
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// FetchByID fetches a single anime by its AniList ID and upserts the record.
func (m *Module) FetchByID(ctx context.Context, id uint) error {
	client, db := m.collaborators()
	if client == nil {
		return errors.New("anilist: module is not running")
	}

	raw, err := m.query(ctx, client, mediaByIDQuery, map[string]interface{}{"id": id})
	if err != nil {
		return errors.Wrapf(err, "anilist: could not fetch anime %d", id)
	}

	media, _, _, err := jsonparser.Get(raw, "data", "Media")
	if err != nil {
		return errors.Wrapf(err, "anilist: unexpected response shape for anime %d", id)
	}

	record, err := parseMedia(media)
	if err != nil {
		return err
	}
	if err := m.store(db, record); err != nil {
		return err
	}
	m.logger.WithFields(log.Fields{
		"remote_id": record.RemoteID,
		"title":     record.Title,
	}).Info("anime collected")
	return nil
}

// Search queries the catalog and stores every result.
func (m *Module) Search(ctx context.Context, query string, limit int) error {
	client, db := m.collaborators()
	if client == nil {
		return errors.New("anilist: module is not running")
	}
	if limit <= 0 {
		limit = 10
	}

	raw, err := m.query(ctx, client, mediaSearchQuery, map[string]interface{}{
		"search":  query,
		"perPage": limit,
	})
	if err != nil {
		return errors.Wrapf(err, "anilist: search %q failed", query)
	}

	var stored int
	var parseErr error
	_, err = jsonparser.ArrayEach(raw, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		if parseErr != nil {
			return
		}
		record, err := parseMedia(value)
		if err != nil {
			parseErr = err
			return
		}
		if err := m.store(db, record); err != nil {
			parseErr = err
			return
		}
		stored++
	}, "data", "Page", "media")
	if err != nil {
		return errors.Wrapf(err, "anilist: unexpected search response for %q", query)
	}
	if parseErr != nil {
		return parseErr
	}

	m.logger.WithFields(log.Fields{
		"query":   query,
		"results": stored,
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
		return errors.Wrap(err, "anilist: could not query stale records")
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

func (m *Module) query(ctx context.Context, client *remote.Client, query string, variables map[string]interface{}) ([]byte, error) {
	var raw rawMessage
	err := client.Post(ctx, "", graphqlRequest{Query: query, Variables: variables}, &raw)
	return []byte(raw), err
}

// rawMessage captures the raw response body so jsonparser can pick fields out
// of the GraphQL envelope without declaring the full response shape.
type rawMessage []byte

func (r *rawMessage) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

// parseMedia converts one AniList media object into a storable record.
func parseMedia(media []byte) (models.Anime, error) {
	id, err := jsonparser.GetInt(media, "id")
	if err != nil {
		return models.Anime{}, errors.Wrap(err, "anilist: media object has no id")
	}

	title, _ := jsonparser.GetString(media, "title", "english")
	if title == "" {
		title, _ = jsonparser.GetString(media, "title", "romaji")
	}
	description, _ := jsonparser.GetString(media, "description")
	score, _ := jsonparser.GetInt(media, "averageScore")
	episodes, _ := jsonparser.GetInt(media, "episodes")
	status, _ := jsonparser.GetString(media, "status")
	cover, _ := jsonparser.GetString(media, "coverImage", "large")

	return models.Anime{
		Provider:   "anilist",
		RemoteID:   uint(id),
		Title:      title,
		Synopsis:   stripHTML(description),
		Score:      float64(score) / 10,
		Episodes:   int(episodes),
		Status:     status,
		PictureURL: cover,
		FetchedAt:  time.Now(),
	}, nil
}

// stripHTML drops the simple markup AniList embeds in descriptions.
func stripHTML(s string) string {
	replacer := strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "<i>", "", "</i>", "", "<b>", "", "</b>", "")
	return replacer.Replace(s)
}

func (m *Module) collaborators() (*remote.Client, *gorm.DB) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client, m.db
}

func (m *Module) store(db *gorm.DB, incoming models.Anime) error {
	if db == nil {
		return nil
	}

	var record models.Anime
	result := db.Where("provider = ? AND remote_id = ?", incoming.Provider, incoming.RemoteID).First(&record)

	incoming.ID = record.ID
	incoming.CreatedAt = record.CreatedAt

	var err error
	if result.Error == gorm.ErrRecordNotFound {
		err = db.Create(&incoming).Error
	} else if result.Error != nil {
		err = result.Error
	} else {
		err = db.Save(&incoming).Error
	}
	return errors.Wrapf(err, "anilist: could not store anime %d", incoming.RemoteID)
}
