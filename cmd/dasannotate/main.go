package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"dasannotate/internal/logging"
	"dasannotate/pkg/annotation"
	"dasannotate/pkg/colormap"
	"dasannotate/pkg/config"
	"dasannotate/pkg/samplefile"
	"dasannotate/pkg/visualization"
)

func main() {
	// Parse command line arguments
	labelsPath := flag.String("labels", "", "Label file to load (JSON)")
	samplesPath := flag.String("samples", "", "Raw sample file (<beginMs>_<endMs>_<channels>[_<dtype>].<ext>)")
	configPath := flag.String("config", "dasannotate.yaml", "Configuration file (YAML or TOML)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	outputPath := flag.String("output", "", "Render the whole recording to this PNG or JPEG file")
	windowsDir := flag.String("windows", "", "Directory to save fixed-width preview windows")
	savePath := flag.String("save", "", "Write the loaded labels back to this file")
	suggest := flag.Bool("suggest-range", false, "Derive the display range from the 1st and 99th percentiles")
	flag.Parse()

	_ = godotenv.Load()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fail(slog.Default(), "Failed to write config.", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *labelsPath == "" && *samplesPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fail(slog.Default(), "Failed to load config.", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fail(slog.Default(), "Invalid environment override.", err)
	}
	if err := cfg.Validate(); err != nil {
		fail(slog.Default(), "Invalid config.", err)
	}

	logger, closer, err := logging.New(cfg.LogConfig())
	if err != nil {
		fail(slog.Default(), "Failed to set up logging.", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	fmt.Println("================================")
	fmt.Println("DAS ANNOTATION TOOL")
	fmt.Println("================================")

	store := annotation.NewStore(annotation.StoreParams{
		Logger:  logger,
		Version: cfg.Annotation.Version,
	})

	var (
		doc     *annotation.Document
		samples *samplefile.File
	)
	startTime := time.Now()
	if *labelsPath != "" {
		doc, err = store.Load(*labelsPath, *samplesPath)
		if err != nil {
			fail(logger, "Failed to load labels.", err)
		}
		samples = store.Samples()
		fmt.Printf("Labels: %s (version %s, %d shapes)\n", *labelsPath, doc.Version, len(doc.Shapes))
		if doc.ImageHeight > 0 || doc.ImageWidth > 0 {
			fmt.Printf("Image: %d x %d\n", doc.ImageHeight, doc.ImageWidth)
		}
		if len(doc.OtherData) > 0 {
			fmt.Printf("Preserved fields: %d\n", len(doc.OtherData))
		}
	} else {
		samples, err = samplefile.Decode(*samplesPath)
		if err != nil {
			fail(logger, "Failed to decode samples.", err)
		}
	}
	logger.Debug("Loaded input.", slog.Duration("elapsed", time.Since(startTime)))

	if samples == nil {
		fmt.Println("No sample data loaded; nothing to render.")
		save(logger, store, doc, *savePath, *samplesPath)
		return
	}

	printSummary(samples)

	params := cfg.DisplayParameters()
	if *suggest {
		params, err = colormap.SuggestRange(samples.Buffer, params, 0.01, 0.99)
		if err != nil {
			fail(logger, "Failed to suggest a display range.", err)
		}
		fmt.Printf("Suggested display range: [%.6f, %.6f]\n", params.MinValue, params.MaxValue)
	}

	viewer := visualization.NewViewer(samples.Buffer, params, cfg.Render.Workers)

	if *outputPath != "" {
		renderStart := time.Now()
		img, err := viewer.Render()
		if err != nil {
			fail(logger, "Render failed.", err)
		}
		if err := viewer.SaveImage(img, *outputPath); err != nil {
			fail(logger, "Failed to save preview.", err)
		}
		fmt.Printf("Preview saved to %s in %.2f seconds using %d workers\n",
			*outputPath, time.Since(renderStart).Seconds(), cfg.Render.Workers)
	}

	if *windowsDir != "" {
		count, err := viewer.SaveWindowSequence(*windowsDir, cfg.Render.WindowCols)
		if err != nil {
			fail(logger, "Failed to save preview windows.", err)
		}
		fmt.Printf("Saved %d windows of %d samples to %s\n", count, cfg.Render.WindowCols, *windowsDir)
		for i := 0; i < count; i++ {
			first := i * cfg.Render.WindowCols
			end := min(first+cfg.Render.WindowCols, samples.Buffer.Cols)
			fmt.Printf("- window_%03d.png: %s .. %s\n", i,
				samples.ColumnTime(first).UTC().Format(time.RFC3339Nano),
				samples.ColumnTime(end).UTC().Format(time.RFC3339Nano))
		}
	}

	save(logger, store, doc, *savePath, samples.Path)
}

func printSummary(samples *samplefile.File) {
	fmt.Printf("Samples: %s\n", samples.Path)
	fmt.Printf("- %s\n", samples.Describe())
	fmt.Printf("- %s .. %s\n",
		samples.BeginTime().UTC().Format(time.RFC3339Nano),
		samples.EndTime().UTC().Format(time.RFC3339Nano))

	summary, err := samplefile.Summarize(samples.Buffer)
	if err != nil {
		fmt.Println("- empty recording")
		return
	}
	fmt.Printf("- min %.1f, max %.1f, mean %.3f, std %.3f\n",
		summary.Min, summary.Max, summary.Mean, summary.StdDev)

	energy := samplefile.ChannelEnergy(samples.Buffer)
	loudest := 0
	for i, e := range energy {
		if e > energy[loudest] {
			loudest = i
		}
	}
	fmt.Printf("- loudest channel %d (rms %.3f)\n", loudest, energy[loudest])
}

func save(logger *slog.Logger, store *annotation.Store, doc *annotation.Document, path, imagePath string) {
	if path == "" || doc == nil {
		return
	}
	if imagePath == "" {
		imagePath = filepath.Join(doc.ImageDir, filepath.Base(path))
	}
	if err := store.Save(path, doc.SaveParams(imagePath)); err != nil {
		fail(logger, "Failed to save labels.", err)
	}
	fmt.Printf("Labels saved to %s\n", store.Filename())
}

// fail logs err with its stack trace and exits
func fail(logger *slog.Logger, msg string, err error) {
	err = xerrors.New(err)
	logger.ErrorContext(context.Background(), msg, slog.Any("error", err))
	os.Exit(1)
}
