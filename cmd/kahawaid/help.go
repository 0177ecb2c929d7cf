package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagInput         string
	flagOutput        string
	flagWidth         int
	flagHeight        int
	flagFramerate     int
	flagBitrate       int
	flagGOP           int
	flagQP            int
	flagProfile       string
	flagRateControl   string
	flagCaptureFormat string
	flagLegacyDevice  string
	flagPreview       string
	flagFrames        int
	flagHelp          bool
	flagVersion       bool
)

func init() {
	flag.StringVarP(&flagInput, "input", "i", "synthetic", "Video source")
	flag.StringVarP(&flagOutput, "output", "o", "out.h264", "Output file")
	flag.IntVarP(&flagWidth, "width", "x", 1280, "Video width")
	flag.IntVarP(&flagHeight, "height", "y", 720, "Video height")
	flag.IntVarP(&flagFramerate, "framerate", "r", 30, "Video frame rate")
	flag.IntVarP(&flagBitrate, "bitrate", "b", 2000, "Video bitrate, in kbit/s")
	flag.IntVarP(&flagGOP, "gop", "g", 0, "Keyframe interval, in frames")
	flag.IntVarP(&flagQP, "qp", "q", 0, "Fixed quantization parameter")
	flag.StringVarP(&flagProfile, "profile", "", "main", "H.264 profile")
	flag.StringVarP(&flagRateControl, "rate-control", "", "cbr", "Rate control mode")
	flag.StringVarP(&flagCaptureFormat, "capture-format", "", "nv12", "Capture node pixel format")
	flag.StringVarP(&flagLegacyDevice, "legacy-device", "", "", "Fallback encoder device node")
	flag.StringVarP(&flagPreview, "preview", "", "", "WebSocket preview address")
	flag.IntVarP(&flagFrames, "frames", "n", 0, "Stop after this many frames")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Userspace H.264 encoding daemon for Kahawai media SoCs

Usage: kahawaid [OPTION]...

Video source:
  -i, --input=SRC         Video source: "synthetic", a /dev/framechan node, or
                            a raw .nv12/.i420/.yuyv file (default: synthetic)
  -x, --width=NUM         Set video width (default: 1280)
  -y, --height=NUM        Set video height (default: 720)
  -r, --framerate=NUM     Set video frame rate (default: 30)
      --capture-format=FMT  Capture node pixel format, nv12 or yuyv
                            (default: nv12)

Encoder:
  -b, --bitrate=NUM       Set video bitrate, in kbit/s (default: 2000)
  -g, --gop=NUM           Set keyframe interval, in frames (default: 2 seconds)
  -q, --qp=NUM            Fix the quantization parameter (default: rate control)
      --profile=NAME      H.264 profile: baseline, main, high (default: main)
      --rate-control=MODE Rate control mode: cbr, vbr, fixedqp (default: cbr)
      --legacy-device=FILE  Fall back to a legacy encoder node when the main
                            encoder core is held by another channel

Output:
  -o, --output=FILE       Annex-B byte-stream output, "none" to discard
                            (default: out.h264)
  -n, --frames=NUM        Stop after NUM frames (default: until interrupted)
      --preview=ADDR      Serve the encoded stream to WebSocket clients on
                            ADDR, e.g. :8080 (default: disabled)

Miscellaneous:
  -h, --help              Prints this help message and exits
  -v, --version           Prints version information and exits

Please report bugs to: kahawai@keahilabs.com
Kahawai home page: https://keahilabs.com/kahawai`

// Help information is printed and program exits
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	//  _              _                              _
	// | | __   __ _  | |__     __ _ __      __  __ _ (_)
	// | |/ /  / _` | | '_ \   / _` |\ \ /\ / / / _` || |
	// |   <  | (_| | | | | | | (_| | \ V  V / | (_| || |
	// |_|\_\  \__,_| |_| |_|  \__,_|  \_/\_/   \__,_||_|

	// Line 1
	r.Printf(" _     ")
	y.Printf("       ")
	b.Printf(" _      ")
	y.Printf("       ")
	r.Printf("           ")
	y.Printf("       ")
	b.Println(" _  ")

	// Line 2
	r.Printf("| | __ ")
	y.Printf("  __ _ ")
	b.Printf("| |__   ")
	y.Printf("  __ _ ")
	r.Printf("__      __ ")
	y.Printf("  __ _ ")
	b.Println("(_) ")

	// Line 3
	r.Printf("| |/ / ")
	y.Printf(" / _` |")
	b.Printf("| '_ \\  ")
	y.Printf(" / _` |")
	r.Printf("\\ \\ /\\ / / ")
	y.Printf(" / _` |")
	b.Println("| | ")

	// Line 4
	r.Printf("|   <  ")
	y.Printf("| (_| |")
	b.Printf("| | | | ")
	y.Printf("| (_| |")
	r.Printf(" \\ V  V /  ")
	y.Printf("| (_| |")
	b.Println("| | ")

	// Line 5
	r.Printf("|_|\\_\\ ")
	y.Printf(" \\__,_|")
	b.Printf("|_| |_| ")
	y.Printf(" \\__,_|")
	r.Printf("  \\_/\\_/   ")
	y.Printf(" \\__,_|")
	b.Println("|_| ")

	fmt.Println(helpString)
}
