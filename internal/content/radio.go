/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/audiopath"
	"github.com/friendsincode/bragi/internal/mcache"
	"github.com/friendsincode/bragi/internal/models"
)

const (
	tuneInTuneURL     = "https://opml.radiotime.com/Tune.ashx"
	tuneInDescribeURL = "https://opml.radiotime.com/Describe.ashx"
)

// radioResolver handles radio:* (custom stations), tunein:* and raw
// stream URLs.
type radioResolver struct {
	store  RadioStore
	cache  *mcache.Cache
	http   *http.Client
	logger zerolog.Logger
}

func newRadioResolver(store RadioStore, cache *mcache.Cache, logger zerolog.Logger) *radioResolver {
	return &radioResolver{
		store:  store,
		cache:  cache,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "radio").Logger(),
	}
}

func (r *radioResolver) source(ctx context.Context, p audiopath.Path) (*models.PlaybackSource, error) {
	streamURL, _, err := r.resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	return &models.PlaybackSource{Kind: models.SourceURL, Path: streamURL}, nil
}

func (r *radioResolver) metadata(ctx context.Context, p audiopath.Path) (*models.TrackMetadata, error) {
	if p.IsURL {
		return &models.TrackMetadata{
			Station:   p.ID,
			Audiopath: p.ID,
			AudioType: models.AudioTypeRadio,
		}, nil
	}
	_, name, err := r.resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	return &models.TrackMetadata{
		Station:   name,
		Title:     name,
		Audiopath: audiopath.Normalize(p.Raw),
		AudioType: models.AudioTypeRadio,
	}, nil
}

// stationItem builds the single queue item a station expands to.
func (r *radioResolver) stationItem(ctx context.Context, p audiopath.Path, station string) (models.QueueItem, error) {
	_, name, err := r.resolve(ctx, p)
	if err != nil {
		return models.QueueItem{}, err
	}
	if station == "" {
		station = name
	}
	return models.QueueItem{
		Audiopath: audiopath.Normalize(p.Raw),
		AudioType: models.AudioTypeRadio,
		Title:     station,
		Station:   station,
	}, nil
}

// urlItem wraps a raw stream URL as a queue item.
func (r *radioResolver) urlItem(_ context.Context, p audiopath.Path, station string) (models.QueueItem, error) {
	title := station
	if title == "" {
		if u, err := url.Parse(p.ID); err == nil && u.Host != "" {
			title = u.Host
		} else {
			title = p.ID
		}
	}
	return models.QueueItem{
		Audiopath: p.ID,
		AudioType: models.AudioTypeRadio,
		Title:     title,
		Station:   station,
	}, nil
}

// resolve turns a station path into a playable stream URL and a display
// name.
func (r *radioResolver) resolve(ctx context.Context, p audiopath.Path) (streamURL, name string, err error) {
	switch p.Provider {
	case audiopath.ProviderRadio:
		radio, err := r.store.GetRadio(ctx, p.ID)
		if err != nil {
			return "", "", fmt.Errorf("custom radio %s: %w", p.ID, err)
		}
		return radio.URL, radio.Name, nil
	case audiopath.ProviderTuneIn:
		return r.resolveTuneIn(ctx, p.ID)
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnknownProvider, p.Provider)
}

// resolveTuneIn asks the TuneIn OPML API for the station's stream URL.
// Responses rotate CDN edges, hence the short cache TTL.
func (r *radioResolver) resolveTuneIn(ctx context.Context, stationID string) (string, string, error) {
	name := r.describeTuneIn(ctx, stationID)

	if cached, ok := r.cache.GetRadioURL(ctx, stationID); ok {
		return cached, name, nil
	}

	tuneURL := tuneInTuneURL + "?id=" + url.QueryEscape(stationID) + "&formats=mp3,aac,ogg"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tuneURL, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("tunein tune %s: %w", stationID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("tunein tune %s: status %d", stationID, resp.StatusCode)
	}

	// Tune.ashx returns one candidate URL per line; take the first
	// direct stream.
	scanner := bufio.NewScanner(io.LimitReader(resp.Body, 64*1024))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "http") {
			continue
		}
		r.cache.SetRadioURL(ctx, stationID, line)
		return line, name, nil
	}
	return "", "", fmt.Errorf("tunein tune %s: no stream in response", stationID)
}

// describeTuneIn fetches the station display name. Best effort; the
// station id stands in when the lookup fails.
func (r *radioResolver) describeTuneIn(ctx context.Context, stationID string) string {
	describeURL := tuneInDescribeURL + "?id=" + url.QueryEscape(stationID) + "&render=json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, describeURL, nil)
	if err != nil {
		return stationID
	}
	resp, err := r.http.Do(req)
	if err != nil {
		r.logger.Debug().Err(err).Str("station", stationID).Msg("tunein describe failed")
		return stationID
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return stationID
	}

	var payload struct {
		Body []struct {
			Name string `json:"name"`
		} `json:"body"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 256*1024)).Decode(&payload); err != nil {
		return stationID
	}
	if len(payload.Body) > 0 && payload.Body[0].Name != "" {
		return payload.Body[0].Name
	}
	return stationID
}
