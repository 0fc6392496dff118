// Command docspeech converts a single PDF, DOC or DOCX file to speech on the
// local machine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/docspeech/internal/config"
	"github.com/book-expert/docspeech/internal/core"
	"github.com/book-expert/docspeech/internal/pipeline"
	"github.com/book-expert/docspeech/internal/tts/ttsutils"
	"github.com/book-expert/logger"
)

// Flag names.
const (
	flagInput    = "input"
	flagMime     = "mime"
	flagOut      = "out"
	flagConfig   = "config"
	flagNoFilter = "no-filter"
	flagNoFLAC   = "no-flac"
)

// Flag descriptions.
const (
	flagInputDesc    = "Document to convert (.pdf, .doc, .docx)"
	flagMimeDesc     = "MIME type of the input (defaults to detection from the extension)"
	flagOutDesc      = "Output directory (defaults to the directory of the input)"
	flagConfigDesc   = "Path to a TOML configuration file"
	flagNoFilterDesc = "Skip the AI narrative filter and use heuristic cleaning"
	flagNoFLACDesc   = "Produce MP3 only"
)

// Messages.
const (
	logFileName          = "docspeech.log"
	errInputRequired     = "--input must be provided"
	msgProgress          = "\rSynthesized %d/%d chunks"
	msgWrote             = "Wrote %s (%s)\n"
	msgSummary           = "Duration: %s, success rate: %.0f%%\n"
	logConversionStarted = "Converting %s (%s, %s)"
	logConversionDone    = "Converted %s: %.1fs of audio, %d/%d chunks"
	filePermissions      = 0o644
)

var errMissingInput = errors.New(errInputRequired)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	input    string
	mime     string
	out      string
	config   string
	noFilter bool
	noFLAC   bool
}

func main() {
	err := run(os.Args[1:])
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string) error {
	flags, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFile(flags.config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLog, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		closeErr := appLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	docPipeline, _, err := pipeline.Build(cfg, pipeline.Options{
		DisableFilter: flags.noFilter,
		DisableFLAC:   flags.noFLAC,
	}, nil, appLog)
	if err != nil {
		appLog.Error("Failed to build pipeline: %v", err)

		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return convertFile(ctx, docPipeline, flags, os.Stdout, appLog)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string, output io.Writer) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("docspeech", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVar(&flags.input, flagInput, "", flagInputDesc)
	flagSet.StringVar(&flags.mime, flagMime, "", flagMimeDesc)
	flagSet.StringVar(&flags.out, flagOut, "", flagOutDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.BoolVar(&flags.noFilter, flagNoFilter, false, flagNoFilterDesc)
	flagSet.BoolVar(&flags.noFLAC, flagNoFLAC, false, flagNoFLACDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	if flags.input == "" {
		flagSet.Usage()

		return appFlags{}, errMissingInput
	}

	if flags.mime == "" {
		flags.mime, err = ttsutils.DetectMimeType(flags.input)
		if err != nil {
			return appFlags{}, err
		}
	}

	return flags, nil
}

// convertFile reads the input document, converts it and writes the audio
// files next to it or into the output directory.
func convertFile(
	ctx context.Context,
	converter core.DocumentConverter,
	flags appFlags,
	stdout io.Writer,
	appLog *logger.Logger,
) error {
	data, err := os.ReadFile(flags.input)
	if err != nil {
		return fmt.Errorf("failed to read input %s: %w", flags.input, err)
	}

	appLog.Info(logConversionStarted, flags.input, flags.mime, ttsutils.FormatFileSize(int64(len(data))))

	result, err := converter.ConvertDocument(ctx, data, flags.mime, func(done, total int) {
		fmt.Fprintf(stdout, msgProgress, done, total)
	})
	if err != nil {
		appLog.Error("Conversion of %s failed: %v", flags.input, err)

		return fmt.Errorf("failed to convert %s: %w", flags.input, err)
	}

	fmt.Fprintln(stdout)

	mp3Path, flacPath := ttsutils.OutputPaths(flags.input, flags.out)

	if flags.out != "" {
		err = ttsutils.EnsureDir(flags.out)
		if err != nil {
			return err
		}
	}

	err = writeOutput(stdout, mp3Path, result.MP3)
	if err != nil {
		return err
	}

	if result.FLAC != nil {
		err = writeOutput(stdout, flacPath, result.FLAC)
		if err != nil {
			return err
		}
	}

	appLog.Info(logConversionDone, flags.input, result.DurationSeconds, result.CompletedChunks, result.TotalChunks)
	fmt.Fprintf(stdout, msgSummary, ttsutils.FormatDuration(result.DurationSeconds), result.SuccessRate*100)

	return nil
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	err := os.WriteFile(path, data, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Fprintf(stdout, msgWrote, path, ttsutils.FormatFileSize(int64(len(data))))

	return nil
}
