package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"time"

	"multiviewfusion/internal/logging"
	"multiviewfusion/pkg/config"
	"multiviewfusion/pkg/dataset"
	"multiviewfusion/pkg/fusion"
	"multiviewfusion/pkg/output"
	"multiviewfusion/pkg/storage"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "config.yaml", "YAML configuration file (defaults are used if it does not exist)")
	manifestPath := flag.String("manifest", "", "YAML dataset manifest listing the registered views")
	outputDir := flag.String("output", "", "Output directory (overrides output.directory)")
	numThreads := flag.Int("threads", 0, "Number of worker threads (overrides fusion.numThreads)")
	method := flag.String("method", "", "Fusion method: blend, max or predeconvolution (overrides fusion.method)")
	show := flag.Bool("show", false, "Log each fused volume with its display range")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file to -config and exit")
	verbose := flag.Bool("verbose", false, "Log debug output (timings and batches)")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *manifestPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *outputDir != "" {
		cfg.Output.Directory = *outputDir
	}
	if *numThreads > 0 {
		cfg.Fusion.NumThreads = *numThreads
	}
	if *method != "" {
		cfg.Fusion.Method = *method
	}
	if *show {
		cfg.Output.Show = true
	}

	level := slog.LevelWarn
	switch {
	case *verbose:
		level = slog.LevelDebug
	case cfg.Output.Verbose:
		level = slog.LevelInfo
	}
	logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	fmt.Println("================================")
	fmt.Println("MULTI-VIEW FUSION OF REGISTERED 3D VOLUMES")
	fmt.Println("================================")

	manifest, err := dataset.LoadManifest(*manifestPath)
	if err != nil {
		log.Fatalf("Failed to load manifest: %v", err)
	}
	views, err := manifest.Open()
	if err != nil {
		log.Fatalf("Failed to open views: %v", err)
	}
	fmt.Printf("Loaded %d views from %s\n", len(views), *manifestPath)

	store, err := storage.New(cfg.Storage.Factory, cfg.Storage.MaxVoxels)
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}

	control, err := fusion.NewControl(cfg, store, output.LogDisplay{}, output.TIFFWriter{Dir: cfg.Output.Directory})
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Printf("Fusing with %d threads, method %q...\n", cfg.Fusion.NumThreads, cfg.Fusion.Method)
	startTime := time.Now()
	runErr := control.Run(views)
	processingTime := time.Since(startTime)

	names := make([]string, 0, len(control.Summaries))
	for name := range control.Summaries {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("\nProduced %d volumes in %.2f seconds:\n", len(names), processingTime.Seconds())
	for _, name := range names {
		fmt.Printf("- %s: %s\n", name, control.Summaries[name])
	}
	if cfg.Output.Write && len(names) > 0 {
		fmt.Printf("Volumes saved to: %s\n", cfg.Output.Directory)
	}

	if runErr != nil {
		log.Fatalf("Fusion failed: %v", runErr)
	}
}
