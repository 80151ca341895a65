// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// horoma trains the encoders, classifiers and clustering models on the Horoma tree images.
//
// The hyperparameters come from a preset of the JSON configuration (see package config), and can be
// overridden with -set, e.g.:
//
//	horoma -preset=CVAE_BASE -mode=semisup -set="batch_size=32;lr_sup=1e-4"
//
// Checkpoints, training curves and the history CSV are written to <-checkpoints>/<experiment>. If the
// directory already holds a checkpoint, training resumes from it.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"path"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/ml/context"
	gomlxcli "github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/horoma/config"
	"github.com/gomlx/horoma/ml/data"
	"github.com/gomlx/horoma/ml/train"
	"github.com/gomlx/horoma/ui/commandline"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	modeSemiSupervised = "semisup"
	modePretrain       = "pretrain"
	modeCluster        = "cluster"
	modeDAMIC          = "damic"
)

var validModes = []string{modeSemiSupervised, modePretrain, modeCluster, modeDAMIC}

var (
	flagDataDir    = flag.String("data", "~/horoma", "Directory with the Horoma dataset splits.")
	flagConfig     = flag.String("config", "", "JSON file with the configuration presets. If empty the built-in presets are used.")
	flagPreset     = flag.String("preset", config.DefaultPreset, "Configuration preset.")
	flagSettings   = flag.String("set", "", `Overrides configuration values, e.g. "batch_size=32;lr_sup=1e-4".`)
	flagMode       = flag.String("mode", modeSemiSupervised, fmt.Sprintf("Run mode, one of %q.", validModes))
	flagCheckpoint = flag.String("checkpoints", "checkpoints", "Base directory of the checkpoints, it must exist.")
	flagExperiment = flag.String("experiment", "", "Name of the experiment, used as the checkpoint sub-directory. "+
		"Defaults to a name derived from the preset and the mode.")
	flagNew       = flag.Bool("new", false, "Appends a unique key to the experiment name, so it doesn't resume a previous run.")
	flagSynthetic = flag.Int("synthetic", 0, "If > 0, replaces the dataset by a synthetic one with this many examples.")
	flagClusterer = flag.String("clusterer", "kmeans", `Clusterer of the "cluster" mode: "kmeans" or "gmm".`)
	flagSchedule  = flag.Bool("schedule_after_epoch", false, "Steps the learning rate schedules after each epoch's "+
		"training instead of before it.")
	flagEpsilon  = flag.Float64("damic_epsilon", 0, "Floor of the per-example mixture likelihood, 0 for the default.")
	flagPrefetch = flag.Int("prefetch", 2, "Number of training batches assembled ahead in the background, 0 to disable.")
	flagProgress = flag.Bool("progress", true, "Displays progress bars.")
	flagPlots    = flag.Bool("plots", true, "Saves training curves, history CSV and reconstructions at the end.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	err := exceptions.TryCatch[error](run)
	if err != nil {
		klog.Fatalf("Failed: %+v", err)
	}
}

// experiment holds what every run mode needs.
type experiment struct {
	preset    string
	mode      string
	cfg       *config.Config
	paramsSet []string

	backend backends.Backend
	ctx     *context.Context

	unlabeled, labeled, valid data.Dataset

	checkpointer *train.Checkpointer
	history      *train.HistoryObserver
	observer     train.MultiObserver
	progress     *commandline.ProgressBar
}

func run() {
	if !isValidMode(*flagMode) {
		exceptions.Panicf("invalid -mode=%q, valid modes are %q", *flagMode, validModes)
	}
	e := &experiment{preset: *flagPreset, mode: *flagMode, ctx: context.New()}
	e.cfg = must.M1(config.Load(*flagConfig, e.preset))
	e.cfg.SetContextParams(e.ctx)
	e.paramsSet = must.M1(gomlxcli.ParseContextSettings(e.ctx, *flagSettings))
	e.cfg = config.FromContext(e.ctx, e.cfg)
	must.M(e.cfg.Validate())
	fmt.Println(commandline.ParamsTable(e.cfg.Params()))

	e.backend = backends.New()
	klog.Infof("Backend %q: %s", e.backend.Name(), e.backend.Description())
	e.ctx = train.SeededContext(e.ctx, int64(e.cfg.Seed))
	must.M(e.loadDatasets())
	fmt.Println(commandline.DatasetsTable(e.unlabeled, e.labeled, e.valid))

	e.checkpointer = must.M1(train.NewCheckpointer(e.ctx, *flagCheckpoint, e.experimentName(), e.paramsSet...))
	e.history = train.NewHistoryObserver()
	points := train.NewPointsObserver(e.checkpointer.Dir())
	e.observer = train.MultiObserver{train.KlogObserver{Verbosity: 1}, e.history, points}
	defer func() {
		if err := train.CloseObserver(e.observer); err != nil {
			klog.Errorf("Failed to close observers: %+v", err)
		}
	}()
	if *flagProgress {
		e.progress = commandline.NewProgressBar()
		defer e.progress.Close()
	}

	switch e.mode {
	case modeSemiSupervised:
		e.runSemiSupervised()
	case modePretrain:
		e.runPretrain()
	case modeCluster:
		e.runCluster()
	case modeDAMIC:
		e.runDAMIC()
	}
}

func isValidMode(mode string) bool {
	return slices.Contains(validModes, mode)
}

// experimentName used as the checkpoint sub-directory.
func (e *experiment) experimentName() string {
	name := *flagExperiment
	if name == "" {
		name = e.cfg.ExperimentName(e.preset)
		if e.mode != modeSemiSupervised {
			name = name + "_" + e.mode
		}
		if *flagSynthetic > 0 {
			name = fmt.Sprintf("%s_synthetic=%d", name, *flagSynthetic)
		}
	}
	if *flagNew {
		name = name + "_" + strings.Split(uuid.NewString(), "-")[0]
	}
	return name
}

// loadDatasets loads the unlabeled training split (stripped of any labels), the labeled training split
// and the validation split.
func (e *experiment) loadDatasets() error {
	if *flagSynthetic > 0 {
		ds := data.Synthetic("synthetic", *flagSynthetic, data.NumClasses-1, data.HoromaDims, true, int64(e.cfg.Seed))
		rng := rand.New(rand.NewSource(int64(e.cfg.Seed)))
		parts := data.Split(ds, rng, []string{"train_unlabeled", "train_labeled", "valid"}, 0.6, 0.2, 0.2)
		e.unlabeled, e.labeled, e.valid = data.Unlabeled(parts[0]), parts[1], parts[2]
		return nil
	}
	splits := []string{e.cfg.TrainUnlabeledSplit, e.cfg.TrainLabeledSplit, e.cfg.ValidSplit}
	loaded := make([]data.Dataset, len(splits))
	for ii, split := range splits {
		ds, err := data.LoadHoroma(*flagDataDir, split)
		if err != nil {
			return errors.WithMessagef(err, "loading split %q from %q", split, *flagDataDir)
		}
		loaded[ii] = ds
	}
	e.unlabeled, e.labeled, e.valid = data.Unlabeled(loaded[0]), loaded[1], loaded[2]
	if !e.labeled.HasLabels() || !e.valid.HasLabels() {
		return errors.Errorf("splits %q and %q must be labeled", e.cfg.TrainLabeledSplit, e.cfg.ValidSplit)
	}
	return nil
}

// outputPath returns the path of a file in the experiment directory.
func (e *experiment) outputPath(fileName string) string {
	return path.Join(e.checkpointer.Dir(), fileName)
}

// attachProgress connects the trainers to the progress bar, if enabled.
func (e *experiment) attachProgress(trainers ...commandline.BatchObserver) {
	if e.progress == nil {
		return
	}
	for _, t := range trainers {
		t.OnBatch(e.progress.OnBatch)
	}
}
