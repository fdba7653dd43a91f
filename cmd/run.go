package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobfit-ai/internal/pipelines"
	"github.com/spigell/jobfit-ai/internal/server"
)

// pipelineRunner knows the inputs of one pipeline and how to call it.
type pipelineRunner struct {
	fields []string
	run    func(ctx context.Context, svc server.Services, inputs map[string]string) (any, error)
}

var runners = map[string]pipelineRunner{
	pipelines.HRQAName: {
		fields: []string{"query"},
		run: func(ctx context.Context, svc server.Services, inputs map[string]string) (any, error) {
			var req pipelines.HRQARequest
			if err := decodeInputs(inputs, &req); err != nil {
				return nil, err
			}
			if svc.HRQA == nil {
				return nil, errors.New("hr qa pipeline is disabled (configure rag.hr-documents)")
			}
			return svc.HRQA.Answer(ctx, req)
		},
	},
	pipelines.ATSCheckerName: {
		fields: []string{"resume", "job_description"},
		run: func(ctx context.Context, svc server.Services, inputs map[string]string) (any, error) {
			var req pipelines.ATSRequest
			if err := decodeInputs(inputs, &req); err != nil {
				return nil, err
			}
			return svc.ATS.Analyze(ctx, req)
		},
	},
	pipelines.JobAnalyzerName: {
		fields: []string{"url"},
		run: func(ctx context.Context, svc server.Services, inputs map[string]string) (any, error) {
			var req pipelines.JobAnalysisRequest
			if err := decodeInputs(inputs, &req); err != nil {
				return nil, err
			}
			return svc.Jobs.Insights(ctx, req)
		},
	},
	pipelines.ResumeTailorName: {
		fields: []string{"resume", "job_posting_url", "github_url", "personal_writeup"},
		run: func(ctx context.Context, svc server.Services, inputs map[string]string) (any, error) {
			var req pipelines.TailorRequest
			if err := decodeInputs(inputs, &req); err != nil {
				return nil, err
			}
			return svc.Resumes.Tailor(ctx, req)
		},
	},
}

var runCmd = &cobra.Command{
	Use:   "run [pipeline]",
	Short: "Run one pipeline from the command line and print its result as JSON",
	Long: `Run one pipeline from the command line.

Inputs are given as --input key=value. A value starting with @ is read from
the named file, e.g. --input job_description=@jd.txt. Missing inputs are
asked for interactively unless --no-prompt is set.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayP("input", "i", nil, "pipeline input as key=value, may be repeated")
	runCmd.Flags().Bool("no-prompt", false, "do not ask for missing inputs")
}

// run is the one-shot command for the cli.
func run(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	noPrompt, _ := cmd.Flags().GetBool("no-prompt")
	rawInputs, _ := cmd.Flags().GetStringArray("input")

	inputs, err := parseInputs(rawInputs)
	if err != nil {
		log.Fatal(err)
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	} else if !noPrompt {
		prompt := promptui.Select{
			Label: "Pipeline",
			Items: allPipelines,
		}
		if _, name, err = prompt.Run(); err != nil {
			log.Fatalf("selecting a pipeline: %v", err)
		}
	}

	runner, ok := runners[name]
	if !ok {
		log.Fatalf("unknown pipeline %q (known: %s)", name, strings.Join(allPipelines, ", "))
	}

	if !noPrompt {
		if err := askMissing(runner.fields, inputs); err != nil {
			log.Fatalf("reading inputs: %v", err)
		}
	}

	a, err := newApplication(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer a.close()

	a.logger.Info("starting the jobfit-ai pipeline", zap.String("version", resolveVersion()), zap.String("pipeline", name))

	svc, err := a.services(ctx, []string{name})
	if err != nil {
		a.logger.Fatal("building pipeline", zap.Error(err))
	}

	result, err := runner.run(ctx, svc, inputs)
	if err != nil {
		a.logger.Fatal("pipeline failed", zap.Error(err))
	}

	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		a.logger.Fatal("encoding result", zap.Error(err))
	}
	fmt.Println(string(pretty))
}

// parseInputs turns key=value pairs into a map, reading @file values.
func parseInputs(raw []string) (map[string]string, error) {
	inputs := make(map[string]string, len(raw))
	for _, pair := range raw {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}

		if path, isFile := strings.CutPrefix(value, "@"); isFile {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading input %s: %w", key, err)
			}
			value = string(data)
		}
		inputs[key] = value
	}
	return inputs, nil
}

func askMissing(fields []string, inputs map[string]string) error {
	for _, field := range fields {
		if _, ok := inputs[field]; ok {
			continue
		}
		prompt := promptui.Prompt{Label: field}
		value, err := prompt.Run()
		if err != nil {
			return err
		}
		inputs[field] = value
	}
	return nil
}

// decodeInputs maps the inputs onto a request; unknown keys are rejected.
func decodeInputs(inputs map[string]string, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(inputs); err != nil {
		return fmt.Errorf("decoding inputs: %w", err)
	}
	return nil
}
