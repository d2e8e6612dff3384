/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package upnp is the SOAP control-point client shared by the sonos and
// dlna output drivers. Sonos devices use fixed control paths on port
// 1400; generic renderers advertise their control URLs in the device
// description, resolved by DescribeRenderer.
package upnp

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Service identifies a UPnP AV service.
type Service string

const (
	AVTransport      Service = "AVTransport"
	RenderingControl Service = "RenderingControl"
	GroupTopology    Service = "ZoneGroupTopology"
)

var serviceTypes = map[Service]string{
	AVTransport:      "urn:schemas-upnp-org:service:AVTransport:1",
	RenderingControl: "urn:schemas-upnp-org:service:RenderingControl:1",
	GroupTopology:    "urn:upnp-org:serviceId:ZoneGroupTopology",
}

var sonosControlPaths = map[Service]string{
	AVTransport:      "/MediaRenderer/AVTransport/Control",
	RenderingControl: "/MediaRenderer/RenderingControl/Control",
	GroupTopology:    "/ZoneGroupTopology/Control",
}

// Endpoint maps services to control URLs on one device.
type Endpoint struct {
	Host       string
	controlURL map[Service]string
}

// SonosEndpoint builds the fixed endpoint layout of a Sonos player.
func SonosEndpoint(ip string) Endpoint {
	urls := make(map[Service]string, len(sonosControlPaths))
	for svc, path := range sonosControlPaths {
		urls[svc] = fmt.Sprintf("http://%s:1400%s", ip, path)
	}
	return Endpoint{Host: ip, controlURL: urls}
}

// ControlURL returns the control URL for a service, empty if the device
// does not offer it.
func (e Endpoint) ControlURL(svc Service) string {
	return e.controlURL[svc]
}

// RejectedError is a SOAP fault returned by the device.
type RejectedError struct {
	Action      string
	Code        string
	Description string
}

func (e *RejectedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s rejected: %s (%s)", e.Action, e.Code, e.Description)
	}
	return fmt.Sprintf("%s rejected: upnp error %s", e.Action, e.Code)
}

// UnreachableError wraps transport failures so drivers can retry.
type UnreachableError struct {
	Action string
	Err    error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s unreachable: %v", e.Action, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Client issues SOAP actions against renderer endpoints.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a pooled client with the given per-action timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Execute posts one SOAP action and returns the raw response body.
func (c *Client) Execute(ctx context.Context, ep Endpoint, svc Service, action string, args map[string]string) ([]byte, error) {
	controlURL := ep.ControlURL(svc)
	if controlURL == "" {
		return nil, fmt.Errorf("device %s has no %s service", ep.Host, svc)
	}

	body := buildEnvelope(serviceTypes[svc], action, args)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf("%q", serviceTypes[svc]+"#"+action))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &UnreachableError{Action: action, Err: context.DeadlineExceeded}
		}
		return nil, &UnreachableError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		code, desc := parseFault(payload)
		if code != "" {
			return nil, &RejectedError{Action: action, Code: code, Description: desc}
		}
		return nil, fmt.Errorf("%s failed: http %d", action, resp.StatusCode)
	}
	return payload, nil
}

func buildEnvelope(serviceType, action string, args map[string]string) []byte {
	var buf strings.Builder
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	buf.WriteString("<s:Body><u:")
	buf.WriteString(action)
	buf.WriteString(` xmlns:u="`)
	buf.WriteString(serviceType)
	buf.WriteString(`">`)
	for key, value := range args {
		buf.WriteString("<" + key + ">")
		buf.WriteString(escapeXML(value))
		buf.WriteString("</" + key + ">")
	}
	buf.WriteString("</u:")
	buf.WriteString(action)
	buf.WriteString("></s:Body></s:Envelope>")
	return []byte(buf.String())
}

func escapeXML(input string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(input)); err != nil {
		return input
	}
	return b.String()
}

func parseFault(payload []byte) (code, desc string) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := decoder.Token()
		if err != nil {
			return code, desc
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "errorCode":
			var value string
			if decoder.DecodeElement(&value, &se) == nil {
				code = strings.TrimSpace(value)
			}
		case "errorDescription":
			var value string
			if decoder.DecodeElement(&value, &se) == nil {
				desc = strings.TrimSpace(value)
			}
		}
	}
}

// DescribeRenderer fetches a device description and resolves the
// AVTransport and RenderingControl control URLs, as generic DLNA
// renderers place them anywhere.
func (c *Client) DescribeRenderer(ctx context.Context, descriptionURL string) (Endpoint, error) {
	base, err := url.Parse(descriptionURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("description url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, descriptionURL, nil)
	if err != nil {
		return Endpoint{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Endpoint{}, &UnreachableError{Action: "DescribeRenderer", Err: err}
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Endpoint{}, err
	}

	ep := Endpoint{
		Host:       base.Hostname(),
		controlURL: make(map[Service]string),
	}
	for svc, controlPath := range parseServiceList(payload) {
		ref, err := url.Parse(controlPath)
		if err != nil {
			continue
		}
		ep.controlURL[svc] = base.ResolveReference(ref).String()
	}
	if ep.controlURL[AVTransport] == "" {
		return Endpoint{}, fmt.Errorf("device %s advertises no AVTransport", ep.Host)
	}
	return ep, nil
}

// parseServiceList walks the description XML pairing serviceType with
// the following controlURL element.
func parseServiceList(payload []byte) map[Service]string {
	out := make(map[Service]string)
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	var current Service
	for {
		tok, err := decoder.Token()
		if err != nil {
			return out
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "serviceType":
			var value string
			if decoder.DecodeElement(&value, &se) != nil {
				continue
			}
			value = strings.TrimSpace(value)
			switch {
			case strings.Contains(value, ":AVTransport:"):
				current = AVTransport
			case strings.Contains(value, ":RenderingControl:"):
				current = RenderingControl
			default:
				current = ""
			}
		case "controlURL":
			var value string
			if decoder.DecodeElement(&value, &se) != nil {
				continue
			}
			if current != "" {
				out[current] = strings.TrimSpace(value)
				current = ""
			}
		}
	}
}
