package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sciregistry/collection-engine/pkg/models"
	"github.com/sciregistry/collection-engine/pkg/store"
)

// PartnerCollection is one partner's curated collection, fetched and
// normalized into accepted single-version resource records.
type PartnerCollection struct {
	ID string

	// Hash fingerprints the fetched collection document. It is persisted so
	// an unchanged partner collection short-circuits the refresh.
	Hash string

	Resources []*models.Resource
}

type partnerDocument struct {
	Collection []map[string]any `yaml:"collection"`
}

var idCleaner = regexp.MustCompile(`[^a-z0-9._-]+`)

// FetchPartnerCollection fetches and parses one partner collection.
// changed is false when the document fingerprint equals previousHash; the
// caller then keeps the deployed mirror as is.
func (c *Client) FetchPartnerCollection(ctx context.Context, partnerID, collectionURL, previousHash string) (*PartnerCollection, bool, error) {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, collectionURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("partner collection fetch answered %d", resp.StatusCode)
			if resp.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			return err
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)); err != nil {
		return nil, false, fmt.Errorf("partner %s: %w", partnerID, err)
	}

	hash := store.SHA256Bytes(body)
	if previousHash != "" && hash == previousHash {
		c.logger.Info("partner collection unchanged", zap.String("partner_id", partnerID))
		return &PartnerCollection{ID: partnerID, Hash: hash}, false, nil
	}

	var doc partnerDocument
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, false, fmt.Errorf("partner %s: malformed collection: %w", partnerID, err)
	}

	pc := &PartnerCollection{ID: partnerID, Hash: hash}
	for i, entry := range doc.Collection {
		r, err := partnerResource(partnerID, entry)
		if err != nil {
			c.logger.Warn("skipping malformed partner entry",
				zap.String("partner_id", partnerID),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		pc.Resources = append(pc.Resources, r)
	}
	c.logger.Info("partner collection refreshed",
		zap.String("partner_id", partnerID),
		zap.Int("resources", len(pc.Resources)))
	return pc, true, nil
}

// partnerResource normalizes one collection entry into an accepted resource
// with a single rolling version whose descriptor is carried inline.
func partnerResource(partnerID string, entry map[string]any) (*models.Resource, error) {
	name, _ := entry["name"].(string)
	id, _ := entry["id"].(string)
	if id == "" {
		id = name
	}
	if id == "" {
		return nil, fmt.Errorf("entry has neither id nor name")
	}
	typ, _ := entry["type"].(string)
	if typ == "" {
		typ = "unknown"
	}

	return &models.Resource{
		ID:     partnerID + "/" + sanitizeID(id),
		Status: models.StatusAccepted,
		Type:   typ,
		Versions: []models.Version{{
			VersionID: "latest",
			Name:      name,
			Status:    models.StatusAccepted,
			Source:    entry,
		}},
	}, nil
}

// sanitizeID lowercases an entry id and collapses anything outside the path
// alphabet, keeping the mirror layout filesystem-safe.
func sanitizeID(id string) string {
	out := idCleaner.ReplaceAllString(strings.ToLower(id), "-")
	return strings.Trim(out, "-")
}
