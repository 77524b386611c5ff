package ssdp

import (
	"bufio"
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func mSearch(st string) []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 1\r\n" +
		"ST: " + st + "\r\n" +
		"\r\n")
}

func TestRespondToMatchingSearch(t *testing.T) {
	s := New("device-0000abcd", "gateway", "wlan0")

	resp := s.respond(mSearch("gateway"), "1.2.3.4")
	require.NotNil(t, resp)

	parsed, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(resp)), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, parsed.StatusCode)
	require.Equal(t, "1.2.3.4", parsed.Header.Get("Location"))
	require.Equal(t, "gateway", parsed.Header.Get("St"))
	require.Equal(t, "device-0000abcd", parsed.Header.Get("Usn"))
}

func TestRespondToSsdpAll(t *testing.T) {
	s := New("device-0000abcd", "gateway", "wlan0")
	require.NotNil(t, s.respond(mSearch("ssdp:all"), "1.2.3.4"))
}

func TestIgnoreOtherServiceTypes(t *testing.T) {
	s := New("device-0000abcd", "gateway", "wlan0")
	require.Nil(t, s.respond(mSearch("upnp:rootdevice"), "1.2.3.4"))
}

func TestIgnoreNotifyTraffic(t *testing.T) {
	s := New("device-0000abcd", "gateway", "wlan0")
	notify := []byte("NOTIFY * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"NTS: ssdp:alive\r\n" +
		"\r\n")
	require.Nil(t, s.respond(notify, "1.2.3.4"))
}

func TestIgnoreMalformedPackets(t *testing.T) {
	s := New("device-0000abcd", "gateway", "wlan0")
	require.Nil(t, s.respond([]byte("not ssdp at all"), "1.2.3.4"))
}

func TestLocationEmptyWhenStopped(t *testing.T) {
	s := New("device-0000abcd", "gateway", "wlan0")
	require.Empty(t, s.Location())
	s.Start("")
	require.Empty(t, s.Location())
}
