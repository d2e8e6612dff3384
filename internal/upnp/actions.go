/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package upnp

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TransportInfo is the renderer's transport state.
type TransportInfo struct {
	State  string // PLAYING, PAUSED_PLAYBACK, STOPPED, TRANSITIONING
	Status string
}

// PositionInfo is the renderer's play position.
type PositionInfo struct {
	TrackURI      string
	TrackDuration time.Duration
	RelTime       time.Duration
}

// SetTransportURI points the renderer at a stream with DIDL metadata.
func (c *Client) SetTransportURI(ctx context.Context, ep Endpoint, uri, metadata string) error {
	_, err := c.Execute(ctx, ep, AVTransport, "SetAVTransportURI", map[string]string{
		"InstanceID":         "0",
		"CurrentURI":         uri,
		"CurrentURIMetaData": metadata,
	})
	return err
}

// Play starts transport at normal speed.
func (c *Client) Play(ctx context.Context, ep Endpoint) error {
	_, err := c.Execute(ctx, ep, AVTransport, "Play", map[string]string{
		"InstanceID": "0",
		"Speed":      "1",
	})
	return err
}

// Pause pauses transport.
func (c *Client) Pause(ctx context.Context, ep Endpoint) error {
	_, err := c.Execute(ctx, ep, AVTransport, "Pause", map[string]string{"InstanceID": "0"})
	return err
}

// Stop halts transport.
func (c *Client) Stop(ctx context.Context, ep Endpoint) error {
	_, err := c.Execute(ctx, ep, AVTransport, "Stop", map[string]string{"InstanceID": "0"})
	return err
}

// Next skips to the renderer's next queue entry.
func (c *Client) Next(ctx context.Context, ep Endpoint) error {
	_, err := c.Execute(ctx, ep, AVTransport, "Next", map[string]string{"InstanceID": "0"})
	return err
}

// Previous steps back one queue entry.
func (c *Client) Previous(ctx context.Context, ep Endpoint) error {
	_, err := c.Execute(ctx, ep, AVTransport, "Previous", map[string]string{"InstanceID": "0"})
	return err
}

// Seek jumps to a position within the current track.
func (c *Client) Seek(ctx context.Context, ep Endpoint, to time.Duration) error {
	_, err := c.Execute(ctx, ep, AVTransport, "Seek", map[string]string{
		"InstanceID": "0",
		"Unit":       "REL_TIME",
		"Target":     formatUPnPTime(to),
	})
	return err
}

// GetTransportInfo reads the transport state.
func (c *Client) GetTransportInfo(ctx context.Context, ep Endpoint) (TransportInfo, error) {
	payload, err := c.Execute(ctx, ep, AVTransport, "GetTransportInfo", map[string]string{"InstanceID": "0"})
	if err != nil {
		return TransportInfo{}, err
	}
	return TransportInfo{
		State:  textValue(payload, "CurrentTransportState"),
		Status: textValue(payload, "CurrentTransportStatus"),
	}, nil
}

// GetPositionInfo reads the play position.
func (c *Client) GetPositionInfo(ctx context.Context, ep Endpoint) (PositionInfo, error) {
	payload, err := c.Execute(ctx, ep, AVTransport, "GetPositionInfo", map[string]string{"InstanceID": "0"})
	if err != nil {
		return PositionInfo{}, err
	}
	return PositionInfo{
		TrackURI:      textValue(payload, "TrackURI"),
		TrackDuration: parseUPnPTime(textValue(payload, "TrackDuration")),
		RelTime:       parseUPnPTime(textValue(payload, "RelTime")),
	}, nil
}

// SetVolume sets the master channel volume 0-100.
func (c *Client) SetVolume(ctx context.Context, ep Endpoint, level int) error {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	_, err := c.Execute(ctx, ep, RenderingControl, "SetVolume", map[string]string{
		"InstanceID":    "0",
		"Channel":       "Master",
		"DesiredVolume": strconv.Itoa(level),
	})
	return err
}

// GetVolume reads the master channel volume.
func (c *Client) GetVolume(ctx context.Context, ep Endpoint) (int, error) {
	payload, err := c.Execute(ctx, ep, RenderingControl, "GetVolume", map[string]string{
		"InstanceID": "0",
		"Channel":    "Master",
	})
	if err != nil {
		return 0, err
	}
	level, _ := strconv.Atoi(textValue(payload, "CurrentVolume"))
	return level, nil
}

// JoinGroup slaves a Sonos player to a coordinator via the x-rincon URI.
func (c *Client) JoinGroup(ctx context.Context, ep Endpoint, coordinatorUUID string) error {
	return c.SetTransportURI(ctx, ep, "x-rincon:"+coordinatorUUID, "")
}

// LeaveGroup breaks a Sonos player out of its current group.
func (c *Client) LeaveGroup(ctx context.Context, ep Endpoint) error {
	_, err := c.Execute(ctx, ep, AVTransport, "BecomeCoordinatorOfStandaloneGroup", map[string]string{
		"InstanceID": "0",
	})
	return err
}

// ZoneGroup is one Sonos household group.
type ZoneGroup struct {
	Coordinator string
	Members     []ZoneMember
}

// ZoneMember is one player within a group.
type ZoneMember struct {
	UUID     string
	ZoneName string
	Location string
}

// GetZoneGroups reads Sonos household topology from any player.
func (c *Client) GetZoneGroups(ctx context.Context, ep Endpoint) ([]ZoneGroup, error) {
	payload, err := c.Execute(ctx, ep, GroupTopology, "GetZoneGroupState", map[string]string{})
	if err != nil {
		return nil, err
	}
	state := textValue(payload, "ZoneGroupState")
	if state == "" {
		state = string(payload)
	}
	return parseZoneGroups(state), nil
}

func parseZoneGroups(raw string) []ZoneGroup {
	decoder := xml.NewDecoder(strings.NewReader(raw))
	var groups []ZoneGroup
	var current *ZoneGroup
	for {
		tok, err := decoder.Token()
		if err != nil {
			return groups
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "ZoneGroup":
			groups = append(groups, ZoneGroup{})
			current = &groups[len(groups)-1]
			for _, attr := range se.Attr {
				if attr.Name.Local == "Coordinator" {
					current.Coordinator = attr.Value
				}
			}
		case "ZoneGroupMember":
			if current == nil {
				continue
			}
			var member ZoneMember
			invisible := false
			for _, attr := range se.Attr {
				switch attr.Name.Local {
				case "UUID":
					member.UUID = attr.Value
				case "ZoneName":
					member.ZoneName = attr.Value
				case "Location":
					member.Location = attr.Value
				case "Invisible":
					invisible = attr.Value == "1" || attr.Value == "true"
				}
			}
			if !invisible && member.UUID != "" {
				current.Members = append(current.Members, member)
			}
		}
	}
}

// DIDLMetadata wraps a stream URI in the minimal DIDL-Lite envelope
// renderers need to show a title and accept the MIME type.
func DIDLMetadata(title, uri, mimeType string) string {
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}
	var b strings.Builder
	b.WriteString(`<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">`)
	b.WriteString(`<item id="0" parentID="-1" restricted="1">`)
	b.WriteString("<dc:title>")
	b.WriteString(escapeXML(title))
	b.WriteString("</dc:title>")
	b.WriteString(`<upnp:class>object.item.audioItem.audioBroadcast</upnp:class>`)
	b.WriteString(fmt.Sprintf(`<res protocolInfo="http-get:*:%s:DLNA.ORG_PN=MP3;DLNA.ORG_FLAGS=01700000000000000000000000000000">`, mimeType))
	b.WriteString(escapeXML(uri))
	b.WriteString("</res></item></DIDL-Lite>")
	return b.String()
}

// formatUPnPTime renders H:MM:SS.
func formatUPnPTime(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// parseUPnPTime accepts H:MM:SS with optional fraction; NOT_IMPLEMENTED
// and empty map to zero.
func parseUPnPTime(s string) time.Duration {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	secParts := strings.SplitN(parts[2], ".", 2)
	seconds, err3 := strconv.Atoi(secParts[0])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
}

// textValue returns the first element with the given local name.
func textValue(payload []byte, element string) string {
	decoder := xml.NewDecoder(strings.NewReader(string(payload)))
	for {
		tok, err := decoder.Token()
		if err != nil {
			return ""
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local == element {
			var value string
			if decoder.DecodeElement(&value, &se) == nil {
				return strings.TrimSpace(value)
			}
		}
	}
}
