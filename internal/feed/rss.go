// Package feed renders RSS 2.0 documents for a target's change events and
// caches the XML until the target's feed version moves.
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/vigil/internal/store"
)

// EventLister is the slice of the event store the assembler reads.
type EventLister interface {
	ListEvents(ctx context.Context, targetID string, cursor *store.Cursor, limit int) ([]*store.Event, *store.Cursor, error)
}

// Config tunes the assembler.
type Config struct {
	// MaxItems caps events per feed. Default 50.
	MaxItems int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxItems <= 0 {
		c.MaxItems = 50
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Assembler renders and caches per-target RSS documents. Values and
// summaries originate from scraped pages and AI output, so everything
// user-visible passes through a strict sanitizer before XML encoding.
type Assembler struct {
	cfg    Config
	lister EventLister
	cache  *Cache
	policy *bluemonday.Policy
	logger *slog.Logger
}

// NewAssembler builds an Assembler over the given store slice and cache.
// The cache is shared with the pipeline, which bumps versions on insert.
func NewAssembler(lister EventLister, cache *Cache, cfg Config) *Assembler {
	cfg.defaults()
	return &Assembler{
		cfg:    cfg,
		lister: lister,
		cache:  cache,
		policy: bluemonday.StrictPolicy(),
		logger: cfg.Logger.With("component", "feed"),
	}
}

// Render returns the RSS 2.0 document for the target, serving the cached
// rendering while the feed version is unchanged.
func (a *Assembler) Render(ctx context.Context, target *store.Target) (string, error) {
	if doc, ok := a.cache.get(target.ID); ok {
		return doc, nil
	}

	events, _, err := a.lister.ListEvents(ctx, target.ID, nil, a.cfg.MaxItems)
	if err != nil {
		return "", fmt.Errorf("feed: list events: %w", err)
	}

	doc, err := a.render(target, events)
	if err != nil {
		return "", err
	}
	a.cache.put(target.ID, doc)
	a.logger.Debug("feed: rendered", "target_id", target.ID, "items", len(events))
	return doc, nil
}

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link,omitempty"`
	Description string  `xml:"description"`
	PubDate     string  `xml:"pubDate"`
	GUID        rssGUID `xml:"guid"`
}

// rssGUID is always isPermaLink="false": event ids are opaque, not URLs.
type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

func (a *Assembler) render(target *store.Target, events []*store.Event) (string, error) {
	build := time.UnixMilli(target.CreatedAt)
	items := make([]rssItem, 0, len(events))
	for _, ev := range events {
		ts := time.UnixMilli(ev.CreatedAt)
		if ts.After(build) {
			build = ts
		}
		items = append(items, rssItem{
			Title:       a.sanitize(ev.Title),
			Link:        ev.Permalink,
			Description: a.itemDescription(ev),
			PubDate:     ts.UTC().Format(time.RFC1123Z),
			GUID:        rssGUID{IsPermaLink: "false", Value: ev.ID},
		})
	}

	doc := rssDoc{
		Version: "2.0",
		Channel: rssChannel{
			Title:         a.channelTitle(target),
			Link:          target.URL,
			Description:   a.channelDescription(target),
			LastBuildDate: build.UTC().Format(time.RFC1123Z),
			Items:         items,
		},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("feed: marshal rss: %w", err)
	}
	return xml.Header + string(out), nil
}

// itemDescription prefers the AI summary and falls back to the detector's
// key-change lines.
func (a *Assembler) itemDescription(ev *store.Event) string {
	if ev.Summary != "" {
		return a.sanitize(ev.Summary)
	}
	return a.sanitize(ev.Description)
}

// channelTitle is the target description, or the URL host when the owner
// never wrote one.
func (a *Assembler) channelTitle(target *store.Target) string {
	if target.Description != "" {
		return a.sanitize(target.Description)
	}
	if u, err := url.Parse(target.URL); err == nil && u.Host != "" {
		return u.Host
	}
	return target.URL
}

func (a *Assembler) channelDescription(target *store.Target) string {
	if target.Description != "" {
		return a.sanitize(target.Description)
	}
	return fmt.Sprintf("Changes on %s", target.URL)
}

// sanitize strips markup and re-decodes entities, leaving plain text for the
// XML encoder to escape exactly once.
func (a *Assembler) sanitize(s string) string {
	return html.UnescapeString(a.policy.Sanitize(s))
}
