package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/ayusman/egomask/internal/app"
	"github.com/ayusman/egomask/internal/frames"
	"github.com/ayusman/egomask/internal/mask"
	"github.com/ayusman/egomask/internal/presence"
	"github.com/ayusman/egomask/internal/prompt"
	"github.com/ayusman/egomask/internal/queue"
	"github.com/ayusman/egomask/internal/server"
	"github.com/ayusman/egomask/internal/store"
)

// jobFlags are the options shared by the commands that build a tracking job.
type jobFlags struct {
	frames      *string
	output      *string
	annotations *string
	start       *int
	count       *int
	end         *int
	batch       *int
	confidence  *float64
	ratio       *float64
	resolution  *int
	overwrite   *bool
}

func addJobFlags(cmd *argparse.Command, annotationsRequired bool) *jobFlags {
	return &jobFlags{
		frames:      cmd.String("f", "frames", &argparse.Options{Help: "Directory of extracted frames", Required: true}),
		output:      cmd.String("o", "output", &argparse.Options{Help: "Directory for the labeled masks", Required: true}),
		annotations: cmd.String("a", "annotations", &argparse.Options{Help: "Annotation file written by the labeling tool", Required: annotationsRequired}),
		start:       cmd.Int("s", "start", &argparse.Options{Help: "First frame (defaults to the annotated frame, which it must match)", Default: -1}),
		count:       cmd.Int("n", "count", &argparse.Options{Help: "Number of frames to process", Default: app.DefaultCount}),
		end:         cmd.Int("e", "end", &argparse.Options{Help: "Exclusive end frame, overrides --count", Default: 0}),
		batch:       cmd.Int("b", "batch", &argparse.Options{Help: "Frames per oracle session (0 = whole range)", Default: app.DefaultBatchSize}),
		confidence:  cmd.Float("", "confidence", &argparse.Options{Help: "Per-pixel confidence threshold", Default: mask.DefaultThreshold}),
		ratio:       cmd.Float("r", "ratio", &argparse.Options{Help: "Labeled pixel ratio for a frame to contain the target", Default: presence.DefaultThreshold}),
		resolution:  cmd.Int("", "resolution", &argparse.Options{Help: "Coordinate scale of the annotations", Default: prompt.DefaultResolution}),
		overwrite:   cmd.Flag("", "overwrite", &argparse.Options{Help: "Overwrite existing masks", Default: false}),
	}
}

func (f *jobFlags) job(kind app.Kind) (app.Job, error) {
	job := app.NewJob(kind)
	job.FramesDir = *f.frames
	job.OutputDir = *f.output
	job.Count = *f.count
	job.BatchSize = *f.batch
	job.ConfidenceThreshold = *f.confidence
	job.RatioThreshold = *f.ratio
	job.Resolution = *f.resolution
	job.Overwrite = *f.overwrite

	if *f.annotations != "" {
		rec, err := prompt.LoadRecord(*f.annotations)
		if err != nil {
			return job, err
		}
		job.Record = rec
		job.Start = rec.FrameIndex
	}
	if *f.start >= 0 {
		if job.Record != nil && *f.start != job.Record.FrameIndex {
			return job, fmt.Errorf("%w: annotations were drawn on frame %d, not on start frame %d",
				app.ErrInvalidJob, job.Record.FrameIndex, *f.start)
		}
		job.Start = *f.start
	}
	if *f.end > 0 {
		job.Count = *f.end - job.Start
	}
	return job, job.Validate()
}

func check(log logs.Log, err error) {
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("egomask", "Track hands and bodies through egocentric video frames and write labeled masks")

	dbPath := parser.String("", "db", &argparse.Options{Help: "Run database (defaults to ~/.egomask/egomask.db)", Default: ""})
	pluginDir := parser.String("", "plugins", &argparse.Options{Help: "Plugin directory notified after completed runs", Default: ""})
	backend := addOracleFlags(parser)

	trackCmd := parser.NewCommand("track", "Track both hands from annotated prompts")
	trackFlags := addJobFlags(trackCmd, true)
	trackVis := trackCmd.String("", "vis", &argparse.Options{Help: "Also write overlay images to this directory", Default: ""})

	bodyCmd := parser.NewCommand("track-body", "Track the body, prompted by annotations or the whole frame")
	bodyFlags := addJobFlags(bodyCmd, false)
	bodyVis := bodyCmd.String("", "vis", &argparse.Options{Help: "Also write overlay images to this directory", Default: ""})

	analyzeCmd := parser.NewCommand("analyze", "Measure target presence in existing masks")
	analyzeMasks := analyzeCmd.String("m", "masks", &argparse.Options{Help: "Directory of labeled masks", Required: true})
	analyzeRatio := analyzeCmd.Float("r", "ratio", &argparse.Options{Help: "Labeled pixel ratio for a frame to contain the target", Default: presence.DefaultThreshold})
	analyzeTargets := analyzeCmd.IntList("t", "target", &argparse.Options{Help: "Target identity (repeatable, defaults to any object)"})
	analyzeSummary := analyzeCmd.String("", "summary", &argparse.Options{Help: "Summary file (defaults to summary.json in the masks directory)", Default: ""})

	reanalyzeCmd := parser.NewCommand("reanalyze", "Re-evaluate a recorded run under another threshold")
	reanalyzeRun := reanalyzeCmd.String("", "run", &argparse.Options{Help: "Run ID", Required: true})
	reanalyzeRatio := reanalyzeCmd.Float("r", "ratio", &argparse.Options{Help: "Labeled pixel ratio for a frame to contain the target", Required: true})

	runsCmd := parser.NewCommand("runs", "List recorded runs")

	visCmd := parser.NewCommand("visualize", "Blend masks over their frames")
	visFrames := visCmd.String("f", "frames", &argparse.Options{Help: "Directory of extracted frames", Required: true})
	visMasks := visCmd.String("m", "masks", &argparse.Options{Help: "Directory of labeled masks", Required: true})
	visOutput := visCmd.String("o", "output", &argparse.Options{Help: "Directory for the overlay images", Required: true})
	visKind := visCmd.Selector("k", "kind", []string{"hands", "body"}, &argparse.Options{Help: "Palette to use", Default: "hands"})
	visAlpha := visCmd.Float("", "alpha", &argparse.Options{Help: "Mask weight in the overlay", Default: frames.DefaultAlpha})

	serveCmd := parser.NewCommand("serve", "Serve the run browser and progress API")
	serveAddr := serveCmd.String("", "addr", &argparse.Options{Help: "Listen address", Default: ":8080"})
	serveWeb := serveCmd.String("", "web", &argparse.Options{Help: "Static web directory", Default: ""})
	serveRedis := serveCmd.String("", "redis", &argparse.Options{Help: "Redis address for the job queue (optional)", Default: ""})

	workerCmd := parser.NewCommand("worker", "Process jobs from the Redis queue")
	workerRedis := workerCmd.String("", "redis", &argparse.Options{Help: "Redis address", Default: "localhost:6379"})
	workerCount := workerCmd.Int("w", "workers", &argparse.Options{Help: "Concurrent runs", Default: 1})

	enqueueCmd := parser.NewCommand("enqueue", "Submit a tracking job to the Redis queue")
	enqueueRedis := enqueueCmd.String("", "redis", &argparse.Options{Help: "Redis address", Default: "localhost:6379"})
	enqueueKind := enqueueCmd.Selector("k", "kind", []string{"hands", "body"}, &argparse.Options{Help: "What to track", Default: "hands"})
	enqueueFlags := addJobFlags(enqueueCmd, false)

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	log, err := logs.NewLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Commands that need neither the oracle nor the database.
	switch {
	case visCmd.Happened():
		palette := frames.HandPalette
		if *visKind == "body" {
			palette = frames.BodyPalette
		}
		seq, err := frames.OpenSequence(*visFrames)
		check(log, err)
		n, err := frames.WriteOverlays(seq, *visMasks, *visOutput, palette, *visAlpha)
		check(log, err)
		log.Infof("Wrote %d overlays to %v", n, *visOutput)
		return
	case enqueueCmd.Happened():
		job, err := enqueueFlags.job(app.Kind(*enqueueKind))
		check(log, err)
		q := queue.New(queue.NewPool(*enqueueRedis, 2))
		id, err := q.Enqueue(job)
		check(log, err)
		log.Infof("Queued job %v on %v", id, q.Key())
		fmt.Println(id)
		return
	}

	st, err := openStore(*dbPath)
	check(log, err)
	defer st.Close()

	config := app.Config{Store: st, PluginDir: *pluginDir, Log: log}

	// Commands that work on recorded data only.
	switch {
	case analyzeCmd.Happened():
		a := app.New(config)
		check(log, a.DiscoverPlugins())
		targets := make([]prompt.ObjectID, len(*analyzeTargets))
		for i, id := range *analyzeTargets {
			targets[i] = prompt.ObjectID(id)
		}
		report, err := a.Analyze(ctx, app.AnalyzeRequest{
			MasksDir:    *analyzeMasks,
			Targets:     targets,
			Threshold:   *analyzeRatio,
			SummaryPath: *analyzeSummary,
		})
		check(log, err)
		printSummary(report.Summary)
		return
	case reanalyzeCmd.Happened():
		summary, err := app.New(config).Reanalyze(*reanalyzeRun, *reanalyzeRatio)
		check(log, err)
		printSummary(summary)
		return
	case runsCmd.Happened():
		runs, err := st.Runs().List()
		check(log, err)
		for _, r := range runs {
			fmt.Printf("%s  %-8s  %-9s  frames %d+%d  %s\n", r.ID, r.Kind, r.Status, r.StartFrame, r.FrameCount, r.OutputDir)
		}
		return
	}

	orc, err := newOracle(backend, log)
	check(log, err)
	defer orc.Close()
	config.Oracle = orc

	a := app.New(config)
	check(log, a.DiscoverPlugins())

	exitCode := 0
	switch {
	case trackCmd.Happened():
		job, err := trackFlags.job(app.KindHands)
		check(log, err)
		exitCode = track(ctx, a, job, *trackVis, log)
	case bodyCmd.Happened():
		job, err := bodyFlags.job(app.KindBody)
		check(log, err)
		exitCode = track(ctx, a, job, *bodyVis, log)
	case serveCmd.Happened():
		cfg := server.Config{StaticDir: *serveWeb, App: a, Log: log}
		if *serveRedis != "" {
			cfg.Queue = queue.New(queue.NewPool(*serveRedis, 4))
		}
		if cfg.StaticDir != "" {
			log.Infof("Serving static files from: %v", cfg.StaticDir)
		}
		log.Infof("Starting server on %v", *serveAddr)
		check(log, server.New(cfg).ListenAndServe(*serveAddr))
	case workerCmd.Happened():
		q := queue.New(queue.NewPool(*workerRedis, *workerCount+1))
		check(log, q.Ping())
		err := queue.NewDispatcher(q, a, *workerCount, log).Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			check(log, err)
		}
		log.Infof("Worker stopped")
	}

	if exitCode != 0 {
		orc.Close()
		st.Close()
		os.Exit(exitCode)
	}
}

// track runs job and returns the process exit code.
func track(ctx context.Context, a *app.App, job app.Job, visDir string, log logs.Log) int {
	report, err := a.Run(ctx, job)
	if report != nil && report.Summary != nil {
		printSummary(report.Summary)
		log.Infof("Summary written to %v", report.SummaryPath)
	}
	if err != nil {
		log.Errorf("Run failed: %v", err)
		return 1
	}
	if report.Status == store.RunStatusStopped {
		log.Warnf("Run %v stopped", report.RunID)
		return 130
	}

	if visDir != "" {
		seq, err := frames.OpenSequence(job.FramesDir)
		if err != nil {
			log.Errorf("%v", err)
			return 1
		}
		palette := frames.HandPalette
		if job.Kind == app.KindBody {
			palette = frames.BodyPalette
		}
		n, err := frames.WriteOverlays(seq, job.OutputDir, visDir, palette, frames.DefaultAlpha)
		if err != nil {
			log.Errorf("%v", err)
			return 1
		}
		log.Infof("Wrote %d overlays to %v", n, visDir)
	}
	return 0
}

func printSummary(s *presence.RunSummary) {
	fmt.Printf("Frames with target: %d/%d (%.1f%%) at threshold %g\n",
		len(s.FramesWithTarget), s.TotalFrames(), 100*s.PresenceRatio(), s.Threshold)
	if start, end, ok := s.FrameRange(); ok {
		fmt.Printf("Frame range: %d-%d\n", start, end)
	}
	if len(s.FramesWithoutTarget) > 0 {
		fmt.Printf("Frames without target: %s\n", compactRanges(s.FramesWithoutTarget))
	}
}

// compactRanges renders sorted frame indices as "1-3,7,9-10".
func compactRanges(idx []int) string {
	var parts []string
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && idx[j+1] == idx[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, fmt.Sprint(idx[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", idx[i], idx[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}

func openStore(path string) (*store.Store, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".egomask", "egomask.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return store.New(path)
}
