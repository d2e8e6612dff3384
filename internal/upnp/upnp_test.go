package upnp

import (
	"strings"
	"testing"
	"time"
)

func TestParseUPnPTime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"0:03:25", 3*time.Minute + 25*time.Second},
		{"1:00:00.500", time.Hour},
		{"NOT_IMPLEMENTED", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := parseUPnPTime(tc.in); got != tc.want {
			t.Errorf("parseUPnPTime(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestFormatUPnPTime(t *testing.T) {
	if got := formatUPnPTime(3*time.Minute + 25*time.Second); got != "0:03:25" {
		t.Fatalf("got %q", got)
	}
	if got := formatUPnPTime(90 * time.Minute); got != "1:30:00" {
		t.Fatalf("got %q", got)
	}
}

func TestBuildEnvelopeEscapesArgs(t *testing.T) {
	body := string(buildEnvelope("urn:schemas-upnp-org:service:AVTransport:1", "SetAVTransportURI", map[string]string{
		"CurrentURI": "http://host/stream?a=1&b=2",
	}))
	if !strings.Contains(body, "<u:SetAVTransportURI") {
		t.Fatalf("missing action element: %s", body)
	}
	if !strings.Contains(body, "a=1&amp;b=2") {
		t.Fatalf("ampersand not escaped: %s", body)
	}
}

func TestParseFault(t *testing.T) {
	payload := []byte(`<s:Envelope><s:Body><s:Fault><detail><UPnPError>` +
		`<errorCode>718</errorCode><errorDescription>Invalid InstanceID</errorDescription>` +
		`</UPnPError></detail></s:Fault></s:Body></s:Envelope>`)
	code, desc := parseFault(payload)
	if code != "718" || desc != "Invalid InstanceID" {
		t.Fatalf("fault = %s / %s", code, desc)
	}
}

func TestParseZoneGroups(t *testing.T) {
	raw := `<ZoneGroupState><ZoneGroups>` +
		`<ZoneGroup Coordinator="RINCON_A" ID="RINCON_A:1">` +
		`<ZoneGroupMember UUID="RINCON_A" ZoneName="Living Room" Location="http://10.0.0.5:1400/xml/device_description.xml"/>` +
		`<ZoneGroupMember UUID="RINCON_B" ZoneName="Kitchen" Location="http://10.0.0.6:1400/xml/device_description.xml"/>` +
		`<ZoneGroupMember UUID="RINCON_C" ZoneName="Bridge" Invisible="1"/>` +
		`</ZoneGroup></ZoneGroups></ZoneGroupState>`

	groups := parseZoneGroups(raw)
	if len(groups) != 1 {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0].Coordinator != "RINCON_A" {
		t.Fatalf("coordinator = %s", groups[0].Coordinator)
	}
	if len(groups[0].Members) != 2 {
		t.Fatalf("invisible member not filtered: %+v", groups[0].Members)
	}
	if groups[0].Members[1].ZoneName != "Kitchen" {
		t.Fatalf("members = %+v", groups[0].Members)
	}
}

func TestParseServiceListResolvesControlURLs(t *testing.T) {
	payload := []byte(`<root><device><serviceList>` +
		`<service><serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>` +
		`<controlURL>/AVTransport/ctrl</controlURL></service>` +
		`<service><serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>` +
		`<controlURL>/Rendering/ctrl</controlURL></service>` +
		`<service><serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>` +
		`<controlURL>/CM/ctrl</controlURL></service>` +
		`</serviceList></device></root>`)

	services := parseServiceList(payload)
	if services[AVTransport] != "/AVTransport/ctrl" {
		t.Fatalf("avtransport = %s", services[AVTransport])
	}
	if services[RenderingControl] != "/Rendering/ctrl" {
		t.Fatalf("rendering = %s", services[RenderingControl])
	}
	if len(services) != 2 {
		t.Fatalf("unexpected services: %v", services)
	}
}

func TestDIDLMetadataEscapesTitle(t *testing.T) {
	didl := DIDLMetadata("Drum & Bass", "http://host/stream/3.mp3", "audio/mpeg")
	if !strings.Contains(didl, "Drum &amp; Bass") {
		t.Fatalf("title not escaped: %s", didl)
	}
	if !strings.Contains(didl, "audioBroadcast") {
		t.Fatalf("missing upnp class: %s", didl)
	}
}

func TestSonosEndpointPaths(t *testing.T) {
	ep := SonosEndpoint("10.0.0.5")
	if got := ep.ControlURL(AVTransport); got != "http://10.0.0.5:1400/MediaRenderer/AVTransport/Control" {
		t.Fatalf("url = %s", got)
	}
	if ep.ControlURL(Service("Nope")) != "" {
		t.Fatal("unknown service should be empty")
	}
}
