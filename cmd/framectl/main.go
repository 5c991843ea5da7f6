// framectl uploads, queries and downloads frames through the HTTP API.
//
//	framectl post --file image.bmp --camera CAM0
//	framectl get --camera CAM0 [--year 2026] [--month 8] [--day 25] [--hour 14]
//	framectl download --filename 250825143015_042.bmp [--output out.bmp]
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

var apiBase = "http://localhost:3005"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	if v := os.Getenv("CAMDVR_API"); v != "" {
		apiBase = v
	}

	var err error
	switch os.Args[1] {
	case "post":
		err = runPost(os.Args[2:])
	case "get":
		err = runGet(os.Args[2:])
	case "download":
		err = runDownload(os.Args[2:])
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("framectl - frame upload/query/download client")
	fmt.Println()
	fmt.Println("  framectl post --file <path> --camera <camNo>")
	fmt.Println("  framectl get --camera <camNo> [--year Y] [--month M] [--day D] [--hour H] [--minute MIN] [--second S]")
	fmt.Println("  framectl download --filename <name> [--output <path>]")
	fmt.Println()
	fmt.Printf("API base: %s (override with CAMDVR_API)\n", apiBase)
}

func runPost(args []string) error {
	fs := flag.NewFlagSet("post", flag.ExitOnError)
	file := fs.String("file", "", "image file to upload")
	camera := fs.String("camera", "", "camera identifier")
	fs.Parse(args)
	if *file == "" || *camera == "" {
		return fmt.Errorf("post requires --file and --camera")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read %s: %w", *file, err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"camNo":       *camera,
		"timestamp":   time.Now().UnixMilli(),
		"imageBase64": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return err
	}

	resp, err := http.Post(apiBase+"/api/frames", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, out)
	}
	fmt.Printf("uploaded %d bytes: %s\n", len(data), out)
	return nil
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	camera := fs.String("camera", "", "camera identifier")
	year := fs.Int("year", 0, "filter year")
	month := fs.Int("month", 0, "filter month")
	day := fs.Int("day", 0, "filter day")
	hour := fs.Int("hour", -1, "filter hour")
	minute := fs.Int("minute", -1, "filter minute")
	second := fs.Int("second", -1, "filter second")
	fs.Parse(args)
	if *camera == "" {
		return fmt.Errorf("get requires --camera")
	}

	q := url.Values{}
	q.Set("camNo", *camera)
	if *year > 0 {
		q.Set("year", strconv.Itoa(*year))
	}
	if *month > 0 {
		q.Set("month", strconv.Itoa(*month))
	}
	if *day > 0 {
		q.Set("day", strconv.Itoa(*day))
	}
	if *hour >= 0 {
		q.Set("hour", strconv.Itoa(*hour))
	}
	if *minute >= 0 {
		q.Set("minute", strconv.Itoa(*minute))
	}
	if *second >= 0 {
		q.Set("second", strconv.Itoa(*second))
	}

	resp, err := http.Get(apiBase + "/api/frames?" + q.Encode())
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Frames []struct {
			CamNo    string `json:"camNo"`
			Year     int    `json:"t_year"`
			Month    int    `json:"t_mon"`
			Day      int    `json:"t_mday"`
			Hour     int    `json:"t_hour"`
			Minute   int    `json:"t_min"`
			Second   int    `json:"t_sec"`
			Milli    int    `json:"t_mill"`
			Location string `json:"i_location"`
		} `json:"frames"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	fmt.Printf("%d frames\n", result.Count)
	for _, f := range result.Frames {
		fmt.Printf("%s  %04d-%02d-%02d %02d:%02d:%02d.%03d  %s\n",
			f.CamNo, f.Year, f.Month, f.Day, f.Hour, f.Minute, f.Second, f.Milli, f.Location)
	}
	return nil
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	filename := fs.String("filename", "", "stored frame filename")
	output := fs.String("output", "", "output path (defaults to the filename)")
	fs.Parse(args)
	if *filename == "" {
		return fmt.Errorf("download requires --filename")
	}
	out := *output
	if out == "" {
		out = *filename
	}

	resp, err := http.Get(apiBase + "/api/frame-file?filename=" + url.QueryEscape(*filename))
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	defer f.Close()
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Printf("downloaded %d bytes to %s\n", n, out)
	return nil
}
