package replayplayer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gunlayer/broker/internal/lead"
	"gunlayer/broker/internal/replay"
	"gunlayer/broker/internal/trigger"
)

// Shot is a solution the mount fired on.
type Shot struct {
	Tick     int64         `json:"tick"`
	Solution lead.Solution `json:"solution"`
}

// Timeline is the decoded view of one engagement bundle.
type Timeline struct {
	Manifest    replay.Manifest `json:"manifest"`
	Header      *replay.Header  `json:"header,omitempty"`
	FirstTick   int64           `json:"first_tick"`
	LastTick    int64           `json:"last_tick"`
	Frames      int             `json:"frames"`
	RisingEdges []int64         `json:"rising_edges"`
	Shots       []Shot          `json:"shots"`
	Errors      []string        `json:"errors,omitempty"`
}

// Load decodes the bundle at path, which may be the bundle directory or its manifest.json.
func Load(path string) (Timeline, error) {
	if path == "" {
		return Timeline{}, fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Timeline{}, err
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}

	manifest, err := replay.ReadManifest(dir)
	if err != nil {
		return Timeline{}, err
	}
	if manifest.Version != 1 {
		return Timeline{}, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}
	timeline := Timeline{Manifest: manifest, RisingEdges: []int64{}, Shots: []Shot{}}
	//1.- The header is only written on close; an open bundle is still readable without it.
	if header, err := replay.ReadHeader(filepath.Join(dir, "header.json")); err == nil {
		timeline.Header = &header
	}

	events, err := replay.ReadEvents(dir)
	if err != nil {
		return Timeline{}, err
	}
	for _, event := range events {
		switch event.Type {
		case "solution":
			var solution lead.Solution
			if err := event.Decode(&solution); err != nil {
				return Timeline{}, fmt.Errorf("tick %d: %w", event.Tick, err)
			}
			timeline.Shots = append(timeline.Shots, Shot{Tick: event.Tick, Solution: solution})
		case "error":
			var message string
			if err := event.Decode(&message); err == nil {
				timeline.Errors = append(timeline.Errors, message)
			}
		}
	}

	//2.- Frames carry the trigger snapshot after each tick; rising edges are read off them.
	frames, err := replay.ReadFrames(dir)
	if err != nil {
		return Timeline{}, err
	}
	timeline.Frames = len(frames)
	powered := false
	for i, frame := range frames {
		var state trigger.State
		if err := json.Unmarshal(frame.Payload, &state); err != nil {
			return Timeline{}, fmt.Errorf("frame %d: %w", i, err)
		}
		if i == 0 {
			timeline.FirstTick = frame.Tick
		}
		timeline.LastTick = frame.Tick
		if state.Powered && !powered {
			timeline.RisingEdges = append(timeline.RisingEdges, frame.Tick)
		}
		powered = state.Powered
	}
	return timeline, nil
}
