package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/paulmach/orb"

	"navi/internal/ai"
	"navi/internal/maps"
	"navi/internal/modules/navigation"
	"navi/internal/service"
)

func main() {
	message := flag.String("message", "帶我去台北車站，不要停車場", "Free-text destination request")
	lat := flag.Float64("lat", 25.0330, "Origin latitude")
	lng := flag.Float64("lng", 121.5654, "Origin longitude")
	flag.Parse()

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	provider, err := ai.NewGeminiProvider(ctx, apiKey, os.Getenv("NAVI_GEMINI_MODEL"))
	if err != nil {
		log.Fatalf("Failed to initialize AI provider: %v", err)
	}
	defer provider.Close()

	origin := orb.Point{*lng, *lat}
	fmt.Printf("User: %s\n", *message)

	intent, err := provider.ParseDestination(ctx, *message, map[string]string{
		"current_time":  time.Now().Format(time.RFC3339),
		"user_location": fmt.Sprintf("%f,%f", origin.Lat(), origin.Lon()),
	})
	if err != nil {
		log.Fatalf("Error parsing destination: %v", err)
	}
	fmt.Printf("AI Reply: %s\n", intent.Reply)
	fmt.Printf("Intent: %s\n", intent.Intent)
	fmt.Printf("Query: %s\n", intent.Query())
	if len(intent.ExcludeKeywords) > 0 {
		fmt.Printf("Exclude: %v\n", intent.ExcludeKeywords)
	}

	// Without a maps key the demo stops at the parsed intent.
	mapsKey := os.Getenv("NAVI_MAPS_API_KEY")
	if mapsKey == "" {
		return
	}
	routes, err := maps.NewRouteService(mapsKey)
	if err != nil {
		log.Fatal(err)
	}
	places, err := maps.NewPlacesService(mapsKey)
	if err != nil {
		log.Fatal(err)
	}
	planner, err := service.NewTripPlanner(provider, routes, places, "", slog.Default())
	if err != nil {
		log.Fatal(err)
	}
	route, err := planner.Plan(ctx, *message, origin)
	if err != nil {
		log.Fatalf("Plan failed: %v", err)
	}
	sum := navigation.Summarize(route)
	fmt.Printf("Route: %d km, %d min, %d steps\n", sum.Kilometers, sum.Minutes, sum.Steps)
	for i, step := range route.Steps() {
		if len(step.BannerInstructions) > 0 {
			fmt.Printf("  %2d. %s (%.0f m)\n", i+1, step.BannerInstructions[0].Primary.Text, step.Distance)
		}
	}
}
