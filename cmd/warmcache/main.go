package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
)

// Reads asset URLs (one per line) from stdin or the files given as
// arguments, and posts them to a running assetcache instance to warm its
// cache.

type preloadRequest struct {
	URLs []string `json:"urls"`
}

func readURLs(readers []io.Reader) ([]string, error) {
	var urls []string
	for _, reader := range readers {
		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			urls = append(urls, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading urls: %w", err)
		}
	}
	return urls, nil
}

func main() {
	baseURL := os.Getenv("ASSETCACHE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	var readers []io.Reader
	if len(os.Args) > 1 {
		for _, path := range os.Args[1:] {
			f, err := os.Open(path)
			if err != nil {
				log.Fatalf("Opening %s: %v", path, err)
			}
			defer f.Close()
			readers = append(readers, f)
		}
	} else {
		readers = append(readers, os.Stdin)
	}

	urls, err := readURLs(readers)
	if err != nil {
		log.Fatal(err)
	}
	if len(urls) == 0 {
		log.Fatal("No urls provided")
	}

	body, err := json.Marshal(preloadRequest{URLs: urls})
	if err != nil {
		log.Fatalf("Marshalling request: %v", err)
	}

	resp, err := http.Post(fmt.Sprintf("%s/v1/preload", baseURL), "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Posting preload request: %v", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Reading response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Preload failed (%d): %s", resp.StatusCode, responseBody)
	}

	fmt.Printf("Preloaded %d urls: %s\n", len(urls), responseBody)
}
