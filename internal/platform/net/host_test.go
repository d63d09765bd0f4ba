// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package net

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHost(t *testing.T) {
	got, err := NormalizeHost("Living-Room.LAN.")
	require.NoError(t, err)
	assert.Equal(t, "living-room.lan", got)

	got, err = NormalizeHost("bücher.example")
	require.NoError(t, err)
	assert.Equal(t, "xn--bcher-kva.example", got)

	for _, bad := range []string{"", "http://x", "a/b", "u@h", "host:80"} {
		_, err := NormalizeHost(bad)
		assert.Error(t, err, bad)
	}
}

func TestNormalizeDeviceAddress(t *testing.T) {
	got, err := NormalizeDeviceAddress("192.168.1.20", 8060)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20:8060", got)

	got, err = NormalizeDeviceAddress("Roku.local:9000", 8060)
	require.NoError(t, err)
	assert.Equal(t, "roku.local:9000", got)

	_, err = NormalizeDeviceAddress("roku:0", 8060)
	assert.Error(t, err)
}

func TestParseSourceURL(t *testing.T) {
	u, err := ParseSourceURL("HTTP://Encoder1.lan:8080/live/stream1")
	require.NoError(t, err)
	assert.Equal(t, "http://encoder1.lan:8080/live/stream1", u.String())

	_, err = ParseSourceURL("rtsp://encoder/stream")
	assert.Error(t, err)
	_, err = ParseSourceURL("http://user:pw@encoder/stream")
	assert.Error(t, err)
	assert.Equal(t, "http://encoder/stream", SanitizeURL("http://user:pw@encoder/stream?token=1"))
}
