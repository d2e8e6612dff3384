/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audiopath parses and normalizes the content addresses exchanged
// in commands, queue items and persisted favorites.
//
// The general shape is provider ':' type ':' id with optional subfields,
// e.g. "spotify:track:4uLU6hMCjMI75M1A2tKUQC" or
// "library:playlist:b64_aG9tZQ==". A provider token may carry an account
// suffix ("spotify@alice"). A raw http(s) URL is also a valid audiopath.
package audiopath

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/friendsincode/bragi/internal/models"
)

// maxDecodeDepth bounds recursive base64 unwrapping.
const maxDecodeDepth = 4

const (
	b64Prefix     = "b64_"
	parentpathSep = "/parentpath/"
	noShuffleFlag = "noshuffle"
)

// Known provider tokens. A provider not listed here is still parsed; it
// just classifies as a plain file path.
const (
	ProviderSpotify        = "spotify"
	ProviderTuneIn         = "tunein"
	ProviderRadio          = "radio"
	ProviderLibrary        = "library"
	ProviderAppleMusic     = "applemusic"
	ProviderDeezer         = "deezer"
	ProviderTidal          = "tidal"
	ProviderMusicAssistant = "musicassistant"
	ProviderLineIn         = "linein"
	ProviderAirplay        = "airplay"
	ProviderAlert          = "alert"
	ProviderURL            = "url"
)

// ParentContext carries queue context appended to an audiopath, telling
// the zone which container the item came from and where in it.
type ParentContext struct {
	Parent    string
	Index     int
	NoShuffle bool
}

// Path is a parsed audiopath.
type Path struct {
	Raw       string
	Provider  string // canonical provider token, without account
	Account   string
	Type      string
	ID        string
	Subfields []string
	Parent    *ParentContext
	IsURL     bool
}

// Parse splits, base64-unwraps and validates an audiopath.
func Parse(raw string) (Path, error) {
	if strings.TrimSpace(raw) == "" {
		return Path{}, fmt.Errorf("empty audiopath")
	}

	body, parent := splitParent(raw)
	body = decodeWrapped(body, maxDecodeDepth)

	p := Path{Raw: raw, Parent: parent}

	if isHTTPURL(body) {
		p.Provider = ProviderURL
		p.ID = body
		p.IsURL = true
		return p, nil
	}

	parts := strings.Split(body, ":")
	providerToken := parts[0]
	p.Provider, p.Account = splitAccount(providerToken)
	if p.Provider == "" {
		return Path{}, fmt.Errorf("audiopath %q has no provider", raw)
	}
	if len(parts) > 1 {
		p.Type = parts[1]
	}
	if len(parts) > 2 {
		p.ID = decodeWrapped(parts[2], maxDecodeDepth)
	}
	if len(parts) > 3 {
		p.Subfields = parts[3:]
	}
	return p, nil
}

// Normalize returns the canonical form of an audiopath: all base64
// wrapping removed and any parentpath suffix stripped. The result is
// stable under repeated normalization and is the dedup key for
// favorites and recents.
func Normalize(raw string) string {
	body, _ := splitParent(raw)
	body = decodeWrapped(body, maxDecodeDepth)
	if isHTTPURL(body) {
		return body
	}
	parts := strings.Split(body, ":")
	for i, part := range parts {
		parts[i] = decodeWrapped(part, maxDecodeDepth)
	}
	return strings.Join(parts, ":")
}

// WithParent appends queue context to an audiopath.
func WithParent(raw, parent string, index int, noShuffle bool) string {
	s := raw + parentpathSep + base64.StdEncoding.EncodeToString([]byte(parent)) + "/" + strconv.Itoa(index)
	if noShuffle {
		s += "/" + noShuffleFlag
	}
	return s
}

// splitParent separates the optional /parentpath/<parent>/<index>[/noshuffle]
// suffix from the path body. The parent may be base64 wrapped but may also
// be a raw URI containing slashes, so the suffix is read from the tail:
// the flag first, then the numeric start index, and whatever precedes
// them is the parent.
func splitParent(raw string) (string, *ParentContext) {
	idx := strings.Index(raw, parentpathSep)
	if idx < 0 {
		return raw, nil
	}
	body := raw[:idx]
	rest := raw[idx+len(parentpathSep):]
	segs := strings.Split(rest, "/")
	if len(segs) == 0 || segs[0] == "" {
		return body, nil
	}
	pc := &ParentContext{}
	if segs[len(segs)-1] == noShuffleFlag {
		pc.NoShuffle = true
		segs = segs[:len(segs)-1]
	}
	if len(segs) > 1 && isDigits(segs[len(segs)-1]) {
		pc.Index, _ = strconv.Atoi(segs[len(segs)-1])
		segs = segs[:len(segs)-1]
	}
	pc.Parent = decodeSegment(strings.Join(segs, "/"))
	return body, pc
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func splitAccount(token string) (provider, account string) {
	provider, account, _ = strings.Cut(token, "@")
	return provider, account
}

// decodeWrapped strips b64_ wrapping, recursing up to depth times so a
// wrapped path whose payload is itself wrapped still resolves. Invalid
// base64 is left untouched.
func decodeWrapped(s string, depth int) string {
	for depth > 0 && strings.HasPrefix(s, b64Prefix) {
		decoded, ok := tryBase64(strings.TrimPrefix(s, b64Prefix))
		if !ok {
			return s
		}
		s = decoded
		depth--
	}
	return s
}

// decodeSegment unwraps a parentpath parent. Bare base64 (the form
// WithParent writes) is only accepted when it decodes to printable text,
// so plain container names are never mangled.
func decodeSegment(s string) string {
	if strings.HasPrefix(s, b64Prefix) {
		return decodeWrapped(s, maxDecodeDepth)
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && printable(b) {
		return string(b)
	}
	return s
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if r < 0x20 && r != '\t' {
			return false
		}
	}
	return true
}

func tryBase64(s string) (string, bool) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return string(b), true
		}
	}
	return "", false
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsRadio reports whether the parsed path plays as endless radio. A plain
// URL counts as radio when the caller has no positive duration for it.
func IsRadio(p Path, durationMs int64) bool {
	if p.IsURL {
		return durationMs <= 0
	}
	switch p.Provider {
	case ProviderTuneIn, ProviderRadio:
		return true
	}
	return p.Type == "station"
}

// Classify maps a parsed path onto the coarse audio type used by zone
// state and output capability checks.
func Classify(p Path) models.AudioType {
	switch p.Provider {
	case ProviderLineIn:
		return models.AudioTypeLineIn
	case ProviderAirplay:
		return models.AudioTypeAirplay
	case ProviderSpotify:
		return models.AudioTypeSpotify
	case ProviderAlert:
		return models.AudioTypeAlert
	case ProviderTuneIn, ProviderRadio:
		return models.AudioTypeRadio
	}
	if p.IsURL {
		return models.AudioTypeRadio
	}
	switch p.Type {
	case "playlist", "album", "artist", "show", "category":
		return models.AudioTypePlaylist
	case "station":
		return models.AudioTypeRadio
	}
	return models.AudioTypeFile
}

// SanitizeStation drops station labels that carry no display value: the
// label equals the audiopath, starts with a provider prefix, or looks
// like a bare track id.
func SanitizeStation(station string, p Path) string {
	if station == "" {
		return ""
	}
	if station == p.Raw || station == Normalize(p.Raw) {
		return ""
	}
	if prov, _, found := strings.Cut(station, ":"); found && knownProvider(prov) {
		return ""
	}
	if looksLikeTrackID(station) {
		return ""
	}
	return station
}

func knownProvider(token string) bool {
	prov, _ := splitAccount(token)
	switch prov {
	case ProviderSpotify, ProviderTuneIn, ProviderRadio, ProviderLibrary,
		ProviderAppleMusic, ProviderDeezer, ProviderTidal,
		ProviderMusicAssistant, ProviderLineIn, ProviderAirplay, ProviderAlert:
		return true
	}
	return false
}

// looksLikeTrackID matches long unbroken alphanumeric tokens, the shape
// of Spotify and similar service ids.
func looksLikeTrackID(s string) bool {
	if len(s) < 16 || strings.ContainsAny(s, " \t") {
		return false
	}
	for _, r := range s {
		if !isAlnum(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// IsSpotify reports whether the path belongs to the Spotify provider.
func IsSpotify(p Path) bool { return p.Provider == ProviderSpotify }

// IsAppleMusic reports whether the id names the Apple Music provider.
func IsAppleMusic(id string) bool { return providerIs(id, ProviderAppleMusic) }

// IsDeezer reports whether the id names the Deezer provider.
func IsDeezer(id string) bool { return providerIs(id, ProviderDeezer) }

// IsTidal reports whether the id names the Tidal provider.
func IsTidal(id string) bool { return providerIs(id, ProviderTidal) }

// IsMusicAssistant reports whether the id names the Music Assistant provider.
func IsMusicAssistant(id string) bool { return providerIs(id, ProviderMusicAssistant) }

func providerIs(id, provider string) bool {
	token, _, _ := strings.Cut(id, ":")
	prov, _ := splitAccount(token)
	return prov == provider
}
