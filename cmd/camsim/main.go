// camsim replays a directory of image files over the ingest protocol at
// a fixed interval, standing in for a real camera.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"

	"camdvr/internal/wire"
)

func main() {
	addr := flag.String("addr", "localhost:9000", "ingest address")
	camNo := flag.String("camera", "CAM0", "camera identifier")
	dir := flag.String("dir", "testImages", "directory of image files to replay")
	intervalMs := flag.Int("interval", 200, "milliseconds between frames")
	loop := flag.Bool("loop", false, "replay the directory forever")
	flag.Parse()

	files, err := imageFiles(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan %s: %v\n", *dir, err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "no image files in %s\n", *dir)
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Printf("connected to %s, %d frames, %dms interval\n", *addr, len(files), *intervalMs)

	interval := time.Duration(*intervalMs) * time.Millisecond
	sent := 0
	for {
		for _, f := range files {
			payload, err := os.ReadFile(f)
			if err != nil {
				fmt.Fprintf(os.Stderr, "read %s: %v\n", f, err)
				continue
			}
			msg, err := wire.EncodeIngest(wire.FrameMeta{
				CamNo:     *camNo,
				Timestamp: time.Now().UnixMilli(),
				File:      filepath.Base(f),
			}, payload)
			if err != nil {
				fmt.Fprintf(os.Stderr, "encode %s: %v\n", f, err)
				continue
			}
			if _, err := conn.Write(msg); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
				os.Exit(1)
			}
			sent++
			if sent%50 == 0 {
				fmt.Printf("sent %d frames\n", sent)
			}
			time.Sleep(interval)
		}
		if !*loop {
			break
		}
	}
	fmt.Printf("done, %d frames sent\n", sent)
}

func imageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".bmp", ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
