package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/zhangshuang1224/CTGAN-main/ctgan"
)

func main() {
	var (
		flagMode     = flag.String("mode", "train", "train or sample")
		flagModel    = flag.String("model", "ctgan", "synthesizer name (ctgan or tvae)")
		flagData     = flag.String("data", "", "training CSV file path (header row required)")
		flagDiscrete = flag.String("discrete", "", "comma-separated discrete column names")
		flagEpochs   = flag.Int("epochs", 300, "epoch count")
		flagBatch    = flag.Int("batch", 500, "batch size")
		flagPac      = flag.Int("pac", 10, "pack size for the critic")
		flagEmbed    = flag.Int("embedding", 128, "noise vector width")
		flagSeed     = flag.Int64("seed", 1, "random seed")
		flagN        = flag.Int("n", 1000, "number of rows to sample")
		flagCondCol  = flag.String("conditionColumn", "", "condition every sampled row on this discrete column")
		flagCondVal  = flag.String("conditionValue", "", "category for -conditionColumn")
		flagSave     = flag.String("save", "", "model save file path")
		flagLoad     = flag.String("load", "", "model load file path")
		flagFormat   = flag.String("saveFormat", "notindent", "indent or notindent")
		flagOut      = flag.String("out", "", "sampled CSV output path")
		flagVerbose  = flag.Bool("verbose", true, "show progress bar and epoch losses")
	)
	flag.Parse()

	switch *flagMode {
	case "train":
		train(*flagModel, *flagData, *flagDiscrete, *flagEpochs, *flagBatch, *flagPac, *flagEmbed, *flagSeed, *flagSave, *flagFormat, *flagVerbose)
	case "sample":
		sample(*flagLoad, *flagN, *flagCondCol, *flagCondVal, *flagOut)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q, want train or sample\n", *flagMode)
		os.Exit(1)
	}
}

func train(modelName, dataPath, discrete string, epochs, batch, pac, embedding int, seed int64, savePath, saveFormat string, verbose bool) {
	if dataPath == "" {
		fmt.Fprintln(os.Stderr, "-data is required in train mode")
		os.Exit(1)
	}
	dc, err := ctgan.NewDataContainerFromCSV(dataPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := ctgan.DefaultConfig()
	cfg.Epochs = epochs
	cfg.BatchSize = batch
	cfg.Pac = pac
	cfg.EmbeddingDim = embedding
	cfg.Seed = seed
	cfg.Verbose = verbose
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer logger.Sync()
		cfg.Logger = logger
	}

	model, ok := ctgan.GenerateSynthesizer(modelName, cfg)
	if !ok {
		fmt.Fprintf(os.Stderr, "cannot build synthesizer %q with this configuration\n", modelName)
		os.Exit(1)
	}

	var discreteColumns []string
	if discrete != "" {
		discreteColumns = strings.Split(discrete, ",")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Println("Building model and fitting", dataPath)
	if err := model.Fit(ctx, dc, discreteColumns); err != nil {
		// a diverged or interrupted model still holds the last usable
		// parameters; report and fall through so they can be saved
		fmt.Fprintln(os.Stderr, err)
	}
	if savePath != "" {
		if err := model.Save(savePath, saveFormat); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("Saved model to", savePath)
	}
}

func sample(loadPath string, n int, condColumn, condValue, outPath string) {
	if loadPath == "" || outPath == "" {
		fmt.Fprintln(os.Stderr, "-load and -out are required in sample mode")
		os.Exit(1)
	}
	model, err := ctgan.LoadSynthesizer(loadPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var dc *ctgan.DataContainer
	if condColumn != "" {
		conditioned, ok := model.(*ctgan.CTGAN)
		if !ok {
			fmt.Fprintln(os.Stderr, "fixed-condition sampling is only supported by the ctgan model")
			os.Exit(1)
		}
		dc, err = conditioned.SampleCondition(n, condColumn, condValue)
	} else {
		dc, err = model.Sample(n)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := dc.WriteCSV(outPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("Wrote", n, "rows to", outPath)
}
