package main

import (
	"flag"
	"fmt"
	"os"

	"gunlayer/broker/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing engagement bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		h := entry.Header
		fmt.Printf("%s (mount %s, schema %d)\n", entry.Bundle, h.MountID, h.SchemaVersion)
		if entry.CreatedAt != "" {
			fmt.Printf("  created: %s\n", entry.CreatedAt)
		}
		if h.Cannon != "" {
			fmt.Printf("  shot: %s / %s\n", h.Cannon, h.Projectile)
		}
		if h.Ballistics != nil {
			fmt.Printf("  muzzle speed: %.3f  gravity: %.3f  drag: %.3f\n", h.Ballistics.MuzzleSpeed, h.Ballistics.Gravity, h.Ballistics.Drag)
		}
		if h.TickHz > 0 {
			fmt.Printf("  tick rate: %.1f Hz\n", h.TickHz)
		}
	}
}
