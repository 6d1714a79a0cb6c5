package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/justineMD2002/FSM-sub001/internal/clients/google"
	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

func main() {
	var (
		apiKey    = flag.String("api-key", "", "Google API key (or set GOOGLE_API_KEY env var)")
		originStr = flag.String("origin", "33.448400,-112.074000", "Origin coordinates (lat,lng)")
		destStr   = flag.String("dest", "33.306160,-111.841250", "Destination coordinates (lat,lng)")
		address   = flag.String("geocode", "", "Address to geocode instead of routing")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("Google Routes/Geocoding Test Tool\n\n")
		fmt.Printf("Tests the Google client implementation against the live API.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s -api-key=YOUR_KEY\n", os.Args[0])
		fmt.Printf("  %s -origin=\"33.4484,-112.0740\" -dest=\"33.3062,-111.8413\"\n", os.Args[0])
		fmt.Printf("  %s -geocode=\"1901 W Madison St, Phoenix, AZ\"\n", os.Args[0])
		return
	}

	key := *apiKey
	if key == "" {
		key = os.Getenv("GOOGLE_API_KEY")
	}
	if key == "" {
		log.Fatal("Google API key required. Use -api-key flag or GOOGLE_API_KEY env var")
	}

	client := google.NewClient(key)
	ctx := context.Background()

	if *address != "" {
		fmt.Printf("Geocoding %q...\n", *address)
		point, err := client.Geocode(ctx, *address)
		if err != nil {
			log.Fatalf("Geocode failed: %v", err)
		}
		fmt.Printf("Resolved: %.6f, %.6f\n", point.Latitude, point.Longitude)
		return
	}

	var originLat, originLng, destLat, destLng float64
	if _, err := fmt.Sscanf(*originStr, "%f,%f", &originLat, &originLng); err != nil {
		log.Fatalf("Invalid origin coordinates: %v", err)
	}
	if _, err := fmt.Sscanf(*destStr, "%f,%f", &destLat, &destLng); err != nil {
		log.Fatalf("Invalid destination coordinates: %v", err)
	}

	origin, err := geo.NewPoint(originLat, originLng)
	if err != nil {
		log.Fatalf("Invalid origin: %v", err)
	}
	destination, err := geo.NewPoint(destLat, destLng)
	if err != nil {
		log.Fatalf("Invalid destination: %v", err)
	}

	fmt.Printf("Google Routes API Test\n")
	fmt.Printf("======================\n")
	fmt.Printf("Origin: %.6f, %.6f\n", origin.Latitude, origin.Longitude)
	fmt.Printf("Destination: %.6f, %.6f\n", destination.Latitude, destination.Longitude)
	fmt.Printf("\n")

	route, err := client.ComputeRoute(ctx, origin, destination)
	if err != nil {
		log.Fatalf("ComputeRoute failed: %v", err)
	}

	fmt.Printf("Duration: %d seconds\n", route.DurationSeconds)
	fmt.Printf("Distance: %d meters\n", route.DistanceMeters)
	fmt.Printf("Polyline points: %d\n", len(route.Points))
	if len(route.EncodedPolyline) > 60 {
		fmt.Printf("Encoded polyline: %s...\n", route.EncodedPolyline[:60])
	} else {
		fmt.Printf("Encoded polyline: %s\n", route.EncodedPolyline)
	}
}
