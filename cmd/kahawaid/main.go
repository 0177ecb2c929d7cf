package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/keahilabs/kahawai"
	"github.com/keahilabs/kahawai/internal/media"
	"github.com/keahilabs/kahawai/internal/rmem"

	flag "github.com/spf13/pflag"
)

// Populated via -ldflags="-X ...". See Makefile.
var GitRevisionId string
var GitTag string

// version displays information and exits successfully (GNU convention)
func version() {
	fmt.Println("kahawaid", GitRevisionId)
	fmt.Println("Copyright 2024 Keahi Labs LLC. All rights reserved.")
	fmt.Println("Visit https://keahilabs.com for more information")
}

func main() {
	// Parse command line arguments
	flag.Parse()

	// Check for help flag
	if flagHelp {
		help()
		os.Exit(0)
	}

	// Check for version flag
	if flagVersion {
		version()
		os.Exit(0)
	}

	// Configure logging
	log.SetFlags(log.LstdFlags | log.Lshortfile | log.Lmicroseconds)

	profile, err := parseProfile(flagProfile)
	if err != nil {
		log.Fatal(err)
	}
	rc, err := parseRateControl(flagRateControl)
	if err != nil {
		log.Fatal(err)
	}

	params := kahawai.DefaultChannelParams(profile, rc,
		flagWidth, flagHeight, flagFramerate, 1, flagGOP, 1000*flagBitrate)
	if flagQP > 0 {
		params.QP = flagQP
	}

	// One allocator backs both the encoder and the frame sources.
	alloc := rmem.New(rmem.DefaultPlatform())
	defer alloc.Close()

	enc := kahawai.NewEncoder(kahawai.EncoderConfig{
		Allocator:        alloc,
		LegacyDevicePath: flagLegacyDevice,
	})
	defer enc.Close()

	handle, err := enc.CreateChannel(params)
	if err != nil {
		log.Fatal(err)
	}

	source, err := openSource(flagInput, alloc, params)
	if err != nil {
		log.Fatal(err)
	}
	defer source.Close()

	var sink io.Writer = io.Discard
	if flagOutput != "none" {
		file, err := os.Create(flagOutput)
		if err != nil {
			log.Fatal(err)
		}
		defer file.Close()
		sink = file
	}

	var fan *media.Fanout
	if flagPreview != "" {
		fan = new(media.Fanout)
		defer fan.Close()
		servePreview(flagPreview, fan)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	if err := run(enc, handle, source, sink, fan, flagFrames, stop); err != nil {
		log.Fatal(err)
	}

	if stats, err := enc.Stats(handle); err == nil {
		log.Printf("encoded %d frames into %d stream units over the %s path",
			stats.FramesIn, stats.StreamsOut, stats.Path)
	}
}

// run drives the source-encode-sink loop until the frame limit is reached
// or a signal arrives.
func run(enc *kahawai.Encoder, handle int, source frameSource, sink io.Writer, fan *media.Fanout, limit int, stop <-chan os.Signal) error {
	var inflight []*media.Frame
	defer func() {
		for _, frame := range inflight {
			source.Recycle(frame)
		}
	}()

	submitted := 0
	for limit == 0 || submitted < limit {
		select {
		case sig := <-stop:
			log.Printf("caught %v, shutting down", sig)
			return nil
		default:
		}

		frame, err := source.Next()
		if err != nil {
			return err
		}

		if err := enc.Process(handle, frame); err != nil {
			source.Recycle(frame)
			if err == kahawai.ErrCorruptFrame {
				log.Println("dropped frame:", err)
				continue
			}
			return err
		}
		inflight = append(inflight, frame)
		submitted++

		if err := drain(enc, handle, source, sink, fan, &inflight, time.Second); err != nil {
			return err
		}
	}

	// Collect whatever the pipeline still holds.
	for len(inflight) > 0 {
		before := len(inflight)
		if err := drain(enc, handle, source, sink, fan, &inflight, time.Second); err != nil {
			return err
		}
		if len(inflight) == before {
			break
		}
	}
	return nil
}

// drain retrieves at most one stream unit, writes it to the sinks, and
// recycles the input frame it consumed.
func drain(enc *kahawai.Encoder, handle int, source frameSource, sink io.Writer, fan *media.Fanout, inflight *[]*media.Frame, timeout time.Duration) error {
	stream, err := enc.GetStream(handle, timeout)
	if err == kahawai.ErrNoStream {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := sink.Write(stream.Data); err != nil {
		enc.ReleaseStream(handle, stream)
		return err
	}
	if fan != nil {
		// The slot behind stream.Data is recycled on release; publish a copy.
		unit := make([]byte, len(stream.Data))
		copy(unit, stream.Data)
		fan.Write(unit)
	}
	if stream.IDR {
		log.Printf("keyframe at seq %d, %d bytes", stream.Seq, len(stream.Data))
	}

	if err := enc.ReleaseStream(handle, stream); err != nil {
		return err
	}

	if q := *inflight; len(q) > 0 {
		source.Recycle(q[0])
		*inflight = q[1:]
	}
	return nil
}

func parseProfile(name string) (kahawai.Profile, error) {
	switch strings.ToLower(name) {
	case "baseline":
		return kahawai.ProfileBaseline, nil
	case "main":
		return kahawai.ProfileMain, nil
	case "high":
		return kahawai.ProfileHigh, nil
	}
	return 0, fmt.Errorf("unknown profile %q", name)
}

func parseRateControl(name string) (kahawai.RateControlMode, error) {
	switch strings.ToLower(name) {
	case "cbr":
		return kahawai.RateControlCBR, nil
	case "vbr":
		return kahawai.RateControlVBR, nil
	case "fixedqp":
		return kahawai.RateControlFixedQP, nil
	}
	return 0, fmt.Errorf("unknown rate control mode %q", name)
}
