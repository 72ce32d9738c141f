// README: Offline simulator; replays a route file through a navigation session and prints banner changes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"navi/internal/modules/navigation"
)

func main() {
	var (
		routePath string
		interval  time.Duration
		samples   int
		verbose   bool
	)
	flag.StringVar(&routePath, "route", "", "Directions JSON file (a route or a response with routes[])")
	flag.DurationVar(&interval, "interval", navigation.DefaultSampleInterval, "Time between simulated fixes")
	flag.IntVar(&samples, "samples", navigation.DefaultSampleCount, "Number of simulated fixes")
	flag.BoolVar(&verbose, "v", false, "Print every fix, not only banner changes")
	flag.Parse()

	if routePath == "" {
		log.Fatal("-route is required")
	}
	data, err := os.ReadFile(routePath)
	if err != nil {
		log.Fatal(err)
	}
	route, err := navigation.DecodeRoute(data)
	if err != nil {
		log.Fatalf("decode route: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum := navigation.Summarize(route)
	fmt.Printf("route: %d km, %d min, %d steps\n", sum.Kilometers, sum.Minutes, sum.Steps)

	if samples <= 0 {
		samples = navigation.DefaultSampleCount
	}
	p := newPrinter(verbose, samples)
	session := navigation.NewSession(navigation.SessionConfig{
		ID:        "sim",
		Simulator: navigation.NewSimulator(navigation.SimulatorConfig{Interval: interval, Samples: samples}, logger),
		Listener:  navigation.ListenerFuncs{Progress: p.onProgress, Error: p.onError},
		Logger:    logger,
	})
	if err := session.SetRoute(route); err != nil {
		log.Fatal(err)
	}
	if err := session.StartSimulated(); err != nil {
		log.Fatal(err)
	}
	defer session.Cancel()

	// Wait for the listener to see the final sample; the simulator's own
	// counter moves before the fix is processed.
	select {
	case <-ctx.Done():
		fmt.Println("interrupted")
		return
	case <-p.done:
	}
	snap := session.Snapshot()
	fmt.Printf("done: step %d, %.1f m along\n",
		snap.Progress.CurrentStepIndex, snap.Progress.DistanceAlongCurrentStepMeters)
}

// printer writes banner changes and closes done once every sample has
// been delivered, either as progress or as an error.
type printer struct {
	verbose bool
	last    string

	mu    sync.Mutex
	seen  int
	total int
	done  chan struct{}
}

func newPrinter(verbose bool, total int) *printer {
	return &printer{verbose: verbose, total: total, done: make(chan struct{})}
}

func (p *printer) count() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen++
	if p.seen == p.total {
		close(p.done)
	}
}

// onError counts rejected fixes. A missing instruction follows a progress
// call for the same fix, so it is not counted again.
func (p *printer) onError(err error) {
	if errors.Is(err, navigation.ErrNoInstruction) {
		return
	}
	fmt.Fprintf(os.Stderr, "fix rejected: %v\n", err)
	p.count()
}

func (p *printer) onProgress(d navigation.Display) {
	defer p.count()
	text := ""
	if d.Instruction != nil {
		text = d.Instruction.Primary.Text
	}
	if !p.verbose && text == p.last && !d.Advanced {
		return
	}
	p.last = text
	fmt.Printf("step %-3d %7.1f m  %s\n", d.Progress.CurrentStepIndex, d.DistanceToManeuverMeters, text)
}
