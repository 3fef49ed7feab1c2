package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/imagefetch/internal/config"
	"github.com/JakeFAU/imagefetch/internal/report"
)

const promptText = "Please enter one or more image URLs (comma separated): "

type fetchOptions struct {
	urls        string
	file        string
	jsonOut     bool
	verbose     bool
	dryRun      bool
	dir         string
	deadline    time.Duration
	concurrency int
}

// newFetchCmd creates the 'fetch' subcommand.
func newFetchCmd() *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch [urls...]",
		Short: "Fetch a batch of image URLs",
		Long: `Fetches every URL given as an argument, through --urls, or listed in
--file (one per line, "-" for stdin). With no URLs at all, prompts for a
comma-separated list.

Individual URL failures are listed in the report and never change the exit code.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.urls, "urls", "", "comma-separated URLs")
	flags.StringVarP(&opts.file, "file", "f", "", "file with one URL per line; - reads stdin")
	flags.BoolVar(&opts.jsonOut, "json", false, "print the report as JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "list every outcome in the text report")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "fetch and validate without persisting (in-memory store)")
	flags.StringVar(&opts.dir, "dir", "", "destination directory (overrides store.dir)")
	flags.DurationVar(&opts.deadline, "deadline", 0, "deadline for the whole batch, e.g. 2m (overrides batch.deadline)")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "parallel fetches (overrides fetcher.concurrency)")

	return cmd
}

func runFetch(cmd *cobra.Command, opts *fetchOptions, args []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	cfg, err := opts.apply(cmd, rt.cfg)
	if err != nil {
		return err
	}

	urls, err := collectURLs(cmd, opts, args)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(urls) == 0 {
		fmt.Fprintln(out, "No URLs provided. Exiting.")
		return nil
	}

	app, err := newApp(cmd.Context(), cfg, rt.logger)
	if err != nil {
		return err
	}
	defer app.Close()

	rt.logger.Debug("starting batch", zap.Int("urls", len(urls)))
	rep := app.RunBatch(cmd.Context(), urls)

	if opts.jsonOut {
		return report.WriteJSON(out, rep)
	}
	return report.WriteText(out, rep, report.Options{Verbose: opts.verbose})
}

// apply layers explicitly set flags over the loaded configuration.
func (o *fetchOptions) apply(cmd *cobra.Command, cfg config.Config) (config.Config, error) {
	flags := cmd.Flags()
	if flags.Changed("dir") {
		cfg.Store.Backend = config.BackendLocal
		cfg.Store.Dir = o.dir
	}
	if o.dryRun {
		cfg.Store.Backend = config.BackendMemory
	}
	if flags.Changed("deadline") {
		cfg.Batch.Deadline = o.deadline
	}
	if flags.Changed("concurrency") {
		cfg.Fetcher.Concurrency = o.concurrency
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// collectURLs merges args, --urls and --file in that order, falling back to
// an interactive prompt when none were given. Only --urls and the prompt are
// comma separated; an argument is always one URL.
func collectURLs(cmd *cobra.Command, opts *fetchOptions, args []string) ([]string, error) {
	var urls []string
	for _, arg := range args {
		if arg = strings.TrimSpace(arg); arg != "" {
			urls = append(urls, arg)
		}
	}
	urls = append(urls, splitURLList(opts.urls)...)

	if opts.file != "" {
		fromFile, err := readURLFile(cmd.InOrStdin(), opts.file)
		if err != nil {
			return nil, err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) > 0 || opts.file != "" {
		return urls, nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), promptText)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return splitURLList(line), nil
}

// splitURLList splits a comma-separated list and drops blank entries.
func splitURLList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// readURLFile reads one URL per line; blank lines and # comments are ignored.
func readURLFile(stdin io.Reader, path string) ([]string, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path) //nolint:gosec // path is an operator-supplied CLI flag
		if err != nil {
			return nil, fmt.Errorf("open url file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return urls, nil
}
