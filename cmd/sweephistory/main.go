package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"mmair/services"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var (
	limit   = flag.Int("limit", 10, "Number of most recent sweeps to show")
	showErr = flag.Bool("errors", false, "Print the error entries of each sweep")
)

func main() {
	flag.Parse()

	// Load environment variables
	err := godotenv.Load()
	if err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	firebaseServiceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON")
	firebaseDbUrl := os.Getenv("FIREBASE_DB_URL")

	// Validate environment variables
	if firebaseServiceAccountJSON == "" {
		log.Fatal("FIREBASE_SERVICE_ACCOUNT_JSON environment variable is not set")
	}
	if firebaseDbUrl == "" {
		log.Fatal("FIREBASE_DB_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	history, err := services.NewFirebaseHistory(ctx, firebaseDbUrl, firebaseServiceAccountJSON, zap.NewNop())
	if err != nil {
		log.Fatalf("Error initializing Firebase history: %v", err)
	}

	runs, err := history.Recent(ctx, *limit)
	if err != nil {
		log.Fatalf("Error reading sweep history: %v", err)
	}

	fmt.Printf("Total sweeps found: %d\n", len(runs))

	for _, run := range runs {
		fmt.Printf("Run: %s\n", run.RunID)
		fmt.Printf("Started: %s  Duration: %dms\n",
			run.StartedAt.Local().Format("2006-01-02 15:04:05"), run.DurationMs)
		fmt.Printf("Alerts: %d  Skipped: %d  Errors: %d\n",
			run.Summary.Alerts, run.Summary.Skipped, run.Summary.Errors)
		if *showErr {
			for _, e := range run.Errors {
				fmt.Printf("  %s user=%s device=%s: %s\n", e.Stage, e.UserID, e.DeviceID, e.Error)
			}
		}
		fmt.Println("---")
	}
}
