// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package domain holds the error taxonomy and tuner states shared by the
// pool, tuning, stream and HTTP layers.
package domain

import (
	"errors"
	"net/http"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNoTunerAvailable     = errors.New("no tuner available")
	ErrTunerNotFound        = errors.New("tuner not found")
	ErrChannelNotFound      = errors.New("channel not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrRecordingNotFound    = errors.New("recording not found")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrNoPretuneSession     = errors.New("no pretune session")
	ErrPretuneActive        = errors.New("pretune session already active")
	ErrDeviceUnreachable    = errors.New("device unreachable")
	ErrSourceUnreachable    = errors.New("encoder source unreachable")
	ErrTranscodeFailure     = errors.New("transcoder failed")
	ErrConfigurationInvalid = errors.New("configuration invalid")
)

// HDHomeRunErrorHeader carries the tuner error code DVR clients understand.
const HDHomeRunErrorHeader = "X-HDHomeRun-Error"

// HTTPStatus maps an engine error to the response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNoTunerAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTunerNotFound),
		errors.Is(err, ErrChannelNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrRecordingNotFound),
		errors.Is(err, ErrNoPretuneSession):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrPretuneActive):
		return http.StatusConflict
	case errors.Is(err, ErrConfigurationInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrDeviceUnreachable),
		errors.Is(err, ErrSourceUnreachable),
		errors.Is(err, ErrTranscodeFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNoTunerAvailable):
		return "NO_TUNER_AVAILABLE"
	case errors.Is(err, ErrTunerNotFound):
		return "TUNER_NOT_FOUND"
	case errors.Is(err, ErrChannelNotFound):
		return "CHANNEL_NOT_FOUND"
	case errors.Is(err, ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, ErrRecordingNotFound):
		return "RECORDING_NOT_FOUND"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrNoPretuneSession):
		return "NO_PRETUNE_SESSION"
	case errors.Is(err, ErrPretuneActive):
		return "PRETUNE_ACTIVE"
	case errors.Is(err, ErrConfigurationInvalid):
		return "CONFIGURATION_INVALID"
	case errors.Is(err, ErrDeviceUnreachable):
		return "DEVICE_UNREACHABLE"
	case errors.Is(err, ErrSourceUnreachable):
		return "SOURCE_UNREACHABLE"
	case errors.Is(err, ErrTranscodeFailure):
		return "TRANSCODE_FAILURE"
	default:
		return "INTERNAL"
	}
}
