// Package main drives the quantizer and rate controller over a synthetic
// video sequence and reports how closely the coded size tracks the target.
//
// Usage:
//
//	go run ./cmd/xavs-rcsim
//	go run ./cmd/xavs-rcsim -bitrate 500000 -frames 500 -vbv-size 1000000
//	go run ./cmd/xavs-rcsim -mode cqp -qp 30 -bframes 2
//	go run ./cmd/xavs-rcsim -threads 4 -trace frames.jsonl.zst
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/passerbya/xavs"
	"github.com/passerbya/xavs/internal/testsignal"
	"github.com/passerbya/xavs/quant"
	"github.com/passerbya/xavs/ratecontrol"
	"github.com/passerbya/xavs/types"
)

func main() {
	frames := flag.Int("frames", 250, "Number of frames to code")
	width := flag.Int("width", 352, "Frame width in pixels")
	height := flag.Int("height", 288, "Frame height in pixels")
	fps := flag.Int("fps", 25, "Frames per second")
	mode := flag.String("mode", "abr", "Rate control mode: abr, cbr, or cqp")
	bitrate := flag.Int("bitrate", 1000000, "Target bitrate in bps")
	qp := flag.Int("qp", 32, "Constant QP for -mode cqp")
	initQP := flag.Int("init-qp", ratecontrol.QPAuto, "First frame QP (-1 estimates it)")
	vbvSize := flag.Int("vbv-size", 0, "VBV buffer size in bits (0 disables)")
	vbvMax := flag.Int("vbv-maxrate", 0, "VBV drain rate in bps (0 = bitrate)")
	keyint := flag.Int("keyint", 250, "Maximum keyframe interval")
	bframes := flag.Int("bframes", 0, "Consecutive B frames between references")
	cqm := flag.String("cqm", "flat", "Quantization matrix: flat or custom")
	cpuFlag := flag.String("cpu", "auto", "CPU tiers: auto, none, or a comma list (mmx,sse2,ssse3,sse4,avx2,altivec,neon)")
	threads := flag.Int("threads", 1, "Frames coded concurrently")
	content := flag.String("content", testsignal.VariantSceneCutV1, "Synthetic content: "+strings.Join(testsignal.Variants(), ", "))
	seed := flag.Int64("seed", 1, "Synthetic content seed")
	tracePath := flag.String("trace", "", "Write a zstd-compressed JSON-lines frame trace to this path")
	verbose := flag.Bool("v", false, "Log every frame")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := xavs.DefaultConfig()
	cfg.Logger = logger

	switch strings.ToLower(strings.TrimSpace(*cqm)) {
	case "flat":
	case "custom":
		cfg.Preset = types.CQMCustom
		cfg.Weights = defaultCustomWeights()
	default:
		log.Fatalf("Invalid -cqm %q (use flat or custom)", *cqm)
	}

	if cpu, ok, err := parseCPU(*cpuFlag); err != nil {
		log.Fatalf("Invalid -cpu: %v", err)
	} else if ok {
		cfg.CPU = &cpu
	}

	rc := &cfg.RateControl
	switch strings.ToLower(strings.TrimSpace(*mode)) {
	case "abr":
		rc.Mode = ratecontrol.ModeABR
	case "cbr":
		rc.Mode = ratecontrol.ModeCBR
	case "cqp":
		rc.Mode = ratecontrol.ModeCQP
	default:
		log.Fatalf("Invalid -mode %q (use abr, cbr, or cqp)", *mode)
	}
	rc.Bitrate = *bitrate
	rc.FPSNum = *fps
	rc.FPSDen = 1
	rc.MBCount = ((*width + 15) / 16) * ((*height + 15) / 16)
	rc.BufferSize = *vbvSize
	rc.MaxRate = *vbvMax
	rc.QP = *qp
	rc.InitQP = *initQP
	rc.KeyintMax = *keyint
	rc.BFrames = *bframes

	enc, err := xavs.NewEncoder(cfg)
	if err != nil {
		log.Fatalf("Encoder setup failed: %v", err)
	}
	fmt.Printf("Functions: %s (cpu: %s)\n", enc.Functions(), enc.CPU())
	fmt.Printf("Settings: %dx%d @ %d fps, %d MBs/frame, %s\n", *width, *height, *fps, rc.MBCount, rc.Mode)

	var trace *traceWriter
	if *tracePath != "" {
		trace, err = createTrace(*tracePath)
		if err != nil {
			log.Fatalf("Trace setup failed: %v", err)
		}
		enc.RateControl().SetFrameHook(trace.record)
	}

	sim, err := newSimulator(enc, *content, *seed)
	if err != nil {
		log.Fatalf("Invalid -content: %v", err)
	}
	start := time.Now()
	if err := sim.run(*frames, *threads); err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}
	elapsed := time.Since(start)

	summary := enc.Close()
	if trace != nil {
		if err := trace.Close(); err != nil {
			log.Fatalf("Trace close failed: %v", err)
		}
		fmt.Printf("Trace: %d frames written to %s\n", trace.frames, *tracePath)
	}
	fmt.Println(summary)
	fmt.Printf("Recon: %s (last displayed frame)\n", sim.digests[len(sim.digests)-1])
	fmt.Printf("Elapsed: %s (%.1f frames/s)\n", elapsed.Round(time.Millisecond), float64(*frames)/elapsed.Seconds())
}

var cpuNames = map[string]types.CPUFlags{
	"mmx":     types.CPUMMX,
	"sse2":    types.CPUSSE2,
	"ssse3":   types.CPUSSSE3,
	"sse4":    types.CPUSSE4,
	"avx2":    types.CPUAVX2,
	"altivec": types.CPUAltivec,
	"neon":    types.CPUNEON,
}

// parseCPU returns the requested flags and whether detection is overridden.
func parseCPU(s string) (types.CPUFlags, bool, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "auto":
		return 0, false, nil
	case "none":
		return 0, true, nil
	}
	var flags types.CPUFlags
	for _, name := range strings.Split(s, ",") {
		f, ok := cpuNames[strings.TrimSpace(name)]
		if !ok {
			return 0, false, errors.Errorf("unknown tier %q", name)
		}
		flags |= f
	}
	return flags, true, nil
}

// defaultCustomWeights is a matrix that weights high frequencies coarser.
func defaultCustomWeights() *[quant.BlockSize]uint8 {
	var w [quant.BlockSize]uint8
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			w[y*8+x] = uint8(16 + 2*(x+y))
		}
	}
	return &w
}
