package unifiprotect

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Meta is the response of /meta/info.
type Meta struct {
	ApplicationVersion string `json:"applicationVersion"`
}

// Validate checks the NVR reported a version.
func (m *Meta) Validate() error {
	if m.ApplicationVersion == "" {
		return errors.New("unifiprotect: meta info has no applicationVersion")
	}
	return nil
}

// OSDSettings controls the on-screen overlay.
type OSDSettings struct {
	IsNameEnabled  bool `json:"isNameEnabled"`
	IsDateEnabled  bool `json:"isDateEnabled"`
	IsLogoEnabled  bool `json:"isLogoEnabled"`
	IsDebugEnabled bool `json:"isDebugEnabled"`
}

// LEDSettings controls the status light.
type LEDSettings struct {
	IsEnabled bool `json:"isEnabled"`
}

// FeatureFlags lists camera capabilities.
type FeatureFlags struct {
	SupportFullHdSnapshot bool     `json:"supportFullHdSnapshot"`
	HasHDR                bool     `json:"hasHdr"`
	SmartDetectTypes      []string `json:"smartDetectTypes"`
	SmartDetectAudioTypes []string `json:"smartDetectAudioTypes"`
	VideoModes            []string `json:"videoModes"`
	HasMic                bool     `json:"hasMic"`
	HasLedStatus          bool     `json:"hasLedStatus"`
	HasSpeaker            bool     `json:"hasSpeaker"`
}

// Camera is a camera as returned by /cameras.
type Camera struct {
	ID           string       `json:"id"`
	ModelKey     string       `json:"modelKey"`
	State        string       `json:"state"`
	Name         string       `json:"name"`
	MAC          string       `json:"mac"`
	IsMicEnabled bool         `json:"isMicEnabled"`
	MicVolume    int          `json:"micVolume"`
	VideoMode    string       `json:"videoMode"`
	HDRType      string       `json:"hdrType"`
	OSDSettings  OSDSettings  `json:"osdSettings"`
	LEDSettings  LEDSettings  `json:"ledSettings"`
	FeatureFlags FeatureFlags `json:"featureFlags"`
}

// Validate checks the camera carries an id.
func (c *Camera) Validate() error {
	if c.ID == "" {
		return errors.New("unifiprotect: camera has no id")
	}
	return nil
}

// Connected reports whether the NVR sees the camera online.
func (c *Camera) Connected() bool {
	return c.State == "CONNECTED"
}

// CameraList is the response of GET /cameras.
type CameraList []Camera

// Validate validates every camera.
func (l CameraList) Validate() error {
	for i := range l {
		if err := l[i].Validate(); err != nil {
			return fmt.Errorf("camera %d: %w", i, err)
		}
	}
	return nil
}

// Event types carried on the events subscription.
const (
	EventMotion          = "motion"
	EventRing            = "ring"
	EventSmartAudio      = "smartAudioDetect"
	EventSmartZone       = "smartDetectZone"
	EventSmartLine       = "smartDetectLine"
	EventSmartLoiterZone = "smartDetectLoiterZone"
)

// Event is the item of an events subscription frame. An "add" frame starts
// the event and a later "update" carrying End finishes it.
type Event struct {
	ID               string   `json:"id"`
	ModelKey         string   `json:"modelKey"`
	Type             string   `json:"type"`
	Start            int64    `json:"start"`
	End              int64    `json:"end,omitempty"`
	Device           string   `json:"device"`
	SmartDetectTypes []string `json:"smartDetectTypes,omitempty"`
}

// Active reports whether the event has not ended yet.
func (e *Event) Active() bool {
	return e.End == 0
}

// ParseEvent decodes an events subscription item.
func ParseEvent(item json.RawMessage) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(item, &ev); err != nil {
		return nil, fmt.Errorf("unifiprotect: decoding event: %w", err)
	}
	if ev.ID == "" {
		return nil, errors.New("unifiprotect: event has no id")
	}
	return &ev, nil
}

// Asset is the response of a file upload.
type Asset struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	OriginalName string `json:"originalName"`
	Path         string `json:"path"`
}

// Validate checks the NVR named the stored file.
func (a *Asset) Validate() error {
	if a.Name == "" {
		return errors.New("unifiprotect: uploaded asset has no name")
	}
	return nil
}

// BuildPatch expands a dotted field path into the nested object PATCH
// /cameras/{id} expects:
//
//	BuildPatch("osdSettings.isNameEnabled", true)
//	=> {"osdSettings": {"isNameEnabled": true}}
func BuildPatch(path string, value any) map[string]any {
	keys := strings.Split(path, ".")
	root := map[string]any{}
	node := root
	for _, k := range keys[:len(keys)-1] {
		child := map[string]any{}
		node[k] = child
		node = child
	}
	node[keys[len(keys)-1]] = value
	return root
}
