// Package feed discovers new resource versions from the upstream deposit
// archive and mirrors partner collections.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sciregistry/collection-engine/pkg/logging"
)

const requestTimeout = 30 * time.Second

// VersionHit is one upstream deposit version, normalized into the fields the
// reconciler needs.
type VersionHit struct {
	ResourceID  string
	VersionID   string
	DOI         string
	ResourceDOI string
	Created     time.Time
	Name        string
	VersionName string
	Type        string
	Source      any
	Maintainers []string
	Owners      []string
	Nickname    string
	Note        string
}

// Client pages through the deposit archive's search API.
type Client struct {
	baseURL  string
	pageSize int
	maxPages int
	http     *http.Client
	logger   *zap.Logger
}

// NewClient creates a feed client. baseURL is the records search endpoint.
func NewClient(baseURL string, pageSize, maxPages int, logger *zap.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		pageSize: pageSize,
		maxPages: maxPages,
		http:     &http.Client{Timeout: requestTimeout},
		logger:   logger.Named("feed"),
	}
}

type searchResponse struct {
	Hits struct {
		Hits []recordHit `json:"hits"`
	} `json:"hits"`
}

type recordHit struct {
	ID           json.Number `json:"id"`
	DOI          string      `json:"doi"`
	ConceptDOI   string      `json:"conceptdoi"`
	ConceptRecID string      `json:"conceptrecid"`
	Created      string      `json:"created"`
	Owners       []int64     `json:"owners"`
	Metadata     struct {
		Title    string `json:"title"`
		Version  string `json:"version"`
		Creators []struct {
			Name string `json:"name"`
		} `json:"creators"`
	} `json:"metadata"`
	Files []struct {
		Key   string `json:"key"`
		Links struct {
			Self string `json:"self"`
		} `json:"links"`
	} `json:"files"`
	Links struct {
		LatestHTML string `json:"latest_html"`
	} `json:"links"`
}

// ListNewVersions pages through all deposits tagged with keyword, newest
// first. Pagination stops quietly on an empty page, on the page limit or on a
// non-OK answer; the archive search API is flaky enough that a partial feed
// must not fail the whole run.
func (c *Client) ListNewVersions(ctx context.Context, keyword string) ([]VersionHit, error) {
	var hits []VersionHit
	for page := 1; page <= c.maxPages; page++ {
		pageHits, ok, err := c.fetchPage(ctx, keyword, page)
		if err != nil {
			return nil, err
		}
		if !ok || len(pageHits) == 0 {
			break
		}
		for _, h := range pageHits {
			hits = append(hits, c.normalize(ctx, h))
		}
		if len(pageHits) < c.pageSize {
			break
		}
	}
	c.logger.Info("feed listed upstream versions", zap.String("keyword", keyword), zap.Int("hits", len(hits)))
	return hits, nil
}

// fetchPage returns one result page. ok is false when the archive answered
// non-OK and pagination should stop.
func (c *Client) fetchPage(ctx context.Context, keyword string, page int) ([]recordHit, bool, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("keywords:%q", keyword))
	q.Set("all_versions", "true")
	q.Set("sort", "mostrecent")
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(c.pageSize))
	pageURL := c.baseURL + "?" + q.Encode()

	var body []byte
	var status int
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		status = resp.StatusCode
		if status >= http.StatusInternalServerError {
			return fmt.Errorf("archive answered %d", status)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)); err != nil {
		return nil, false, fmt.Errorf("feed page %d: %w", page, err)
	}
	if status != http.StatusOK {
		c.logger.Warn("stopping pagination on non-OK answer", zap.Int("page", page), zap.Int("status", status))
		return nil, false, nil
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("feed page %d: %w", page, err)
	}
	return parsed.Hits.Hits, true, nil
}

// normalize turns one archive record into a version hit, resolving its
// descriptor for the resource type. A record whose descriptor cannot be
// resolved still yields a hit so the version is not lost; its type degrades
// to unknown and the reconciler records the note.
func (c *Client) normalize(ctx context.Context, h recordHit) VersionHit {
	hit := VersionHit{
		ResourceID:  conceptID(h),
		VersionID:   h.ID.String(),
		DOI:         h.DOI,
		ResourceDOI: h.ConceptDOI,
		Name:        h.Metadata.Title,
		VersionName: h.Metadata.Version,
	}
	if created, err := time.Parse(time.RFC3339, h.Created); err == nil {
		hit.Created = created.UTC()
	}
	for _, o := range h.Owners {
		hit.Owners = append(hit.Owners, strconv.FormatInt(o, 10))
	}
	for _, creator := range h.Metadata.Creators {
		if creator.Name != "" {
			hit.Maintainers = append(hit.Maintainers, creator.Name)
		}
	}

	for _, f := range h.Files {
		if f.Key == "rdf.yaml" {
			hit.Source = f.Links.Self
			break
		}
	}
	if hit.Source == nil {
		hit.Note = "deposit carries no rdf.yaml"
		return hit
	}

	rdf, err := c.Resolve(ctx, hit.Source)
	if err != nil {
		c.logger.Warn("could not resolve upstream descriptor",
			zap.String("resource_id", hit.ResourceID),
			zap.String("version_id", hit.VersionID),
			zap.String("error", logging.SanitizeError(err)))
		return hit
	}
	if typ, ok := rdf["type"].(string); ok {
		hit.Type = typ
	}
	if name, ok := rdf["name"].(string); ok && name != "" {
		hit.Name = name
	}
	hit.Nickname = descriptorNickname(rdf)
	return hit
}

// Resolve fetches and parses the descriptor a source points at.
// It also serves the deployer as its source resolver.
func (c *Client) Resolve(ctx context.Context, source any) (map[string]any, error) {
	if inline, ok := source.(map[string]any); ok {
		return inline, nil
	}
	srcURL, ok := source.(string)
	if !ok || srcURL == "" {
		return nil, fmt.Errorf("source %v is not a descriptor URL", source)
	}

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("descriptor fetch answered %d", resp.StatusCode)
			if resp.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			return err
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)); err != nil {
		return nil, err
	}

	var rdf map[string]any
	if err := yaml.Unmarshal(body, &rdf); err != nil {
		return nil, fmt.Errorf("malformed descriptor at %s: %w", srcURL, err)
	}
	return rdf, nil
}

// conceptID derives the stable resource id from the record's concept DOI,
// falling back to the concept record id.
func conceptID(h recordHit) string {
	if h.ConceptDOI != "" {
		return h.ConceptDOI
	}
	return h.ConceptRecID
}

// descriptorNickname digs the suggested nickname out of the descriptor's
// config block, if any.
func descriptorNickname(rdf map[string]any) string {
	config, ok := rdf["config"].(map[string]any)
	if !ok {
		return ""
	}
	registry, ok := config["registry"].(map[string]any)
	if !ok {
		return ""
	}
	nickname, _ := registry["nickname"].(string)
	return nickname
}
