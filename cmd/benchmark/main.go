package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kass/go-geo-anchor/pkg/index"
	"github.com/kass/go-geo-anchor/pkg/models"
	"github.com/kass/go-geo-anchor/pkg/relocate"
)

type BenchmarkResult struct {
	QueryType     string
	TotalQueries  int
	TotalDuration time.Duration
	AvgDuration   time.Duration
	QueriesPerSec float64
	MinDuration   time.Duration
	MaxDuration   time.Duration
	TotalResults  int64
	AvgResults    float64
}

func main() {
	var (
		indexFile  = flag.String("i", "anchors.gob", "Anchor index file path")
		queryType  = flag.String("t", "nearby", "Query type: nearby, resolve, mixed")
		numQueries = flag.Int("n", 1000, "Number of queries to run")
		workers    = flag.Int("w", runtime.NumCPU(), "Number of concurrent workers")
		// Geographic bounds for random observer positions (default: Burnaby)
		minLat = flag.Float64("min-lat", 49.20, "Minimum observer latitude")
		maxLat = flag.Float64("max-lat", 49.31, "Maximum observer latitude")
		minLon = flag.Float64("min-lon", -123.02, "Minimum observer longitude")
		maxLon = flag.Float64("max-lon", -122.85, "Maximum observer longitude")
		radius = flag.Float64("radius", 100.0, "Nearby radius in meters")
	)
	flag.Parse()

	log.Printf("Loading anchor index from %s...\n", *indexFile)
	idx := index.NewAnchorIndex()
	if err := idx.LoadFromFile(*indexFile); err != nil {
		log.Fatalf("Failed to load index: %v", err)
	}
	log.Printf("Index loaded with %d anchors\n", idx.Count())

	log.Printf("Running %d %s queries with %d workers...\n", *numQueries, *queryType, *workers)

	var result BenchmarkResult
	switch *queryType {
	case "nearby":
		result = benchmarkNearbyQueries(idx, *numQueries, *workers,
			*minLat, *maxLat, *minLon, *maxLon, *radius)
	case "resolve":
		result = benchmarkResolveQueries(idx, *numQueries, *workers,
			*minLat, *maxLat, *minLon, *maxLon, *radius)
	case "mixed":
		result = benchmarkMixedQueries(idx, *numQueries, *workers,
			*minLat, *maxLat, *minLon, *maxLon, *radius)
	default:
		log.Fatalf("Unknown query type: %s", *queryType)
	}

	fmt.Println("\n=== Benchmark Results ===")
	fmt.Printf("Query Type: %s\n", result.QueryType)
	fmt.Printf("Total Queries: %d\n", result.TotalQueries)
	fmt.Printf("Total Duration: %v\n", result.TotalDuration)
	fmt.Printf("Average Duration: %v\n", result.AvgDuration)
	fmt.Printf("Queries/Second: %.2f\n", result.QueriesPerSec)
	fmt.Printf("Min Duration: %v\n", result.MinDuration)
	fmt.Printf("Max Duration: %v\n", result.MaxDuration)
	fmt.Printf("Total Results: %d\n", result.TotalResults)
	fmt.Printf("Avg Results/Query: %.2f\n", result.AvgResults)
	fmt.Printf("Workers Used: %d\n", *workers)
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
}

func benchmarkNearbyQueries(idx *index.AnchorIndex, numQueries, workers int,
	minLat, maxLat, minLon, maxLon, radius float64) BenchmarkResult {

	var (
		totalResults int64
		minDuration  = time.Hour
		maxDuration  time.Duration
		durations    []time.Duration
		mu           sync.Mutex
	)

	startTime := time.Now()

	queryCh := make(chan int, numQueries)
	var wg sync.WaitGroup

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(rand.Int63()))

			for range queryCh {
				lat := minLat + r.Float64()*(maxLat-minLat)
				lon := minLon + r.Float64()*(maxLon-minLon)

				queryStart := time.Now()
				results, err := idx.FindNearby(lat, lon, radius)
				queryDuration := time.Since(queryStart)

				if err == nil {
					atomic.AddInt64(&totalResults, int64(len(results)))

					mu.Lock()
					durations = append(durations, queryDuration)
					if queryDuration < minDuration {
						minDuration = queryDuration
					}
					if queryDuration > maxDuration {
						maxDuration = queryDuration
					}
					mu.Unlock()
				}
			}
		}()
	}

	for i := 0; i < numQueries; i++ {
		queryCh <- i
	}
	close(queryCh)

	wg.Wait()
	totalDuration := time.Since(startTime)

	var totalDur time.Duration
	for _, d := range durations {
		totalDur += d
	}
	avgDuration := totalDur / time.Duration(len(durations))

	return BenchmarkResult{
		QueryType:     "nearby",
		TotalQueries:  numQueries,
		TotalDuration: totalDuration,
		AvgDuration:   avgDuration,
		QueriesPerSec: float64(numQueries) / totalDuration.Seconds(),
		MinDuration:   minDuration,
		MaxDuration:   maxDuration,
		TotalResults:  totalResults,
		AvgResults:    float64(totalResults) / float64(numQueries),
	}
}

// benchmarkResolveQueries measures the full pipeline: nearby lookup plus
// re-expressing every hit's vector in the observer's frame.
func benchmarkResolveQueries(idx *index.AnchorIndex, numQueries, workers int,
	minLat, maxLat, minLon, maxLon, radius float64) BenchmarkResult {

	var (
		totalResults int64
		minDuration  = time.Hour
		maxDuration  time.Duration
		durations    []time.Duration
		mu           sync.Mutex
	)

	startTime := time.Now()

	queryCh := make(chan int, numQueries)
	var wg sync.WaitGroup

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(rand.Int63()))

			for range queryCh {
				observer := models.GeodeticPosition{
					Latitude:  minLat + r.Float64()*(maxLat-minLat),
					Longitude: minLon + r.Float64()*(maxLon-minLon),
					Height:    370,
				}

				queryStart := time.Now()
				nearby, err := idx.FindNearby(observer.Latitude, observer.Longitude, radius)
				if err != nil {
					continue
				}
				resolved, err := relocate.ResolveBatch(nearby, observer, 1)
				queryDuration := time.Since(queryStart)

				if err == nil {
					atomic.AddInt64(&totalResults, int64(len(resolved)))

					mu.Lock()
					durations = append(durations, queryDuration)
					if queryDuration < minDuration {
						minDuration = queryDuration
					}
					if queryDuration > maxDuration {
						maxDuration = queryDuration
					}
					mu.Unlock()
				}
			}
		}()
	}

	for i := 0; i < numQueries; i++ {
		queryCh <- i
	}
	close(queryCh)

	wg.Wait()
	totalDuration := time.Since(startTime)

	var totalDur time.Duration
	for _, d := range durations {
		totalDur += d
	}
	avgDuration := totalDur / time.Duration(len(durations))

	return BenchmarkResult{
		QueryType:     "resolve",
		TotalQueries:  numQueries,
		TotalDuration: totalDuration,
		AvgDuration:   avgDuration,
		QueriesPerSec: float64(numQueries) / totalDuration.Seconds(),
		MinDuration:   minDuration,
		MaxDuration:   maxDuration,
		TotalResults:  totalResults,
		AvgResults:    float64(totalResults) / float64(numQueries),
	}
}

func benchmarkMixedQueries(idx *index.AnchorIndex, numQueries, workers int,
	minLat, maxLat, minLon, maxLon, radius float64) BenchmarkResult {

	// Half lookups, half full resolutions.
	queriesPerType := numQueries / 2

	log.Println("Running mixed benchmark (50% each type)...")

	nearbyResult := benchmarkNearbyQueries(idx, queriesPerType, workers,
		minLat, maxLat, minLon, maxLon, radius)
	resolveResult := benchmarkResolveQueries(idx, queriesPerType, workers,
		minLat, maxLat, minLon, maxLon, radius)

	totalQueries := nearbyResult.TotalQueries + resolveResult.TotalQueries
	totalDuration := nearbyResult.TotalDuration + resolveResult.TotalDuration
	totalResults := nearbyResult.TotalResults + resolveResult.TotalResults

	return BenchmarkResult{
		QueryType:     "mixed",
		TotalQueries:  totalQueries,
		TotalDuration: totalDuration,
		AvgDuration:   totalDuration / time.Duration(totalQueries),
		QueriesPerSec: float64(totalQueries) / totalDuration.Seconds(),
		MinDuration:   minDur(nearbyResult.MinDuration, resolveResult.MinDuration),
		MaxDuration:   maxDur(nearbyResult.MaxDuration, resolveResult.MaxDuration),
		TotalResults:  totalResults,
		AvgResults:    float64(totalResults) / float64(totalQueries),
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDur(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
