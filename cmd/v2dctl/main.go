// SPDX-License-Identifier: MIT

// v2dctl uploads a recording to a v2d daemon and waits for the decision.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ManuGH/v2d/internal/poll"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "base URL of the v2d daemon")
	token := flag.String("token", os.Getenv("V2D_TOKEN"), "API token (defaults to V2D_TOKEN)")
	file := flag.String("file", "", "audio file to upload")
	interval := flag.Duration("interval", poll.DefaultInterval, "poll interval")
	attempts := flag.Int("attempts", poll.DefaultMaxAttempts, "maximum poll attempts")
	retries := flag.Int("retries", 0, "re-upload this many times if processing fails")
	quiet := flag.Bool("quiet", false, "suppress progress output")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "v2dctl: -file is required")
		flag.Usage()
		os.Exit(2)
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "v2dctl: no token given (use -token or V2D_TOKEN)")
		os.Exit(2)
	}

	audio, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "v2dctl: read %s: %v\n", *file, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := poll.New(*server, *token,
		poll.WithInterval(*interval),
		poll.WithMaxAttempts(*attempts),
	)

	start := time.Now()
	res, err := client.Upload(ctx, filepath.Base(*file), audio)
	if err != nil {
		fmt.Fprintf(os.Stderr, "v2dctl: upload failed: %v\n", err)
		os.Exit(1)
	}
	if !*quiet {
		fmt.Printf("accepted: job=%s audio=%s\n", res.JobID, res.AudioURL)
	}

	onProgress := func(st poll.JobStatus) {
		if !*quiet {
			fmt.Printf("  %s %d%%\n", st.Status, st.Progress)
		}
	}

	decisionID, err := client.Wait(ctx, res.JobID, onProgress)
	for attempt := 0; err != nil && attempt < *retries; attempt++ {
		var pe *poll.PipelineError
		if !errors.As(err, &pe) {
			break
		}
		fmt.Fprintf(os.Stderr, "v2dctl: processing failed [%s], re-uploading (%d/%d)\n", pe.Code, attempt+1, *retries)
		res, err = client.Retry(ctx, filepath.Base(*file), audio)
		if err != nil {
			break
		}
		if !*quiet {
			fmt.Printf("accepted: job=%s (retry)\n", res.JobID)
		}
		decisionID, err = client.Wait(ctx, res.JobID, onProgress)
	}
	if err != nil {
		var pe *poll.PipelineError
		switch {
		case errors.As(err, &pe):
			fmt.Fprintf(os.Stderr, "v2dctl: processing failed [%s]: %s\n", pe.Code, pe.Message)
		case errors.Is(err, poll.ErrPollTimeout):
			fmt.Fprintf(os.Stderr, "v2dctl: job %s is still running; poll again later\n", res.JobID)
		default:
			fmt.Fprintf(os.Stderr, "v2dctl: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("decision %s ready after %s\n", decisionID, time.Since(start).Round(time.Millisecond))
}
