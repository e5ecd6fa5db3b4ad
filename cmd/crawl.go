package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemark/internal/app"
	"github.com/JakeFAU/pagemark/internal/crawler"
	"github.com/JakeFAU/pagemark/internal/id/uuid"
)

// errNothingSaved makes the crawl command exit non-zero when no page was saved.
var errNothingSaved = errors.New("no URLs were successfully crawled")

type crawlOptions struct {
	expand   bool
	dataType string
	noLinks  bool
	archive  bool
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "crawl URL [URL...]",
		Short: "Crawl URLs once and save them as Markdown",
		Long: `Runs a single crawl session over the given URLs. With --expand each
seed's origin is searched for a sitemap and its same-origin pages are crawled
too. The session report is printed as JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawlCommand(cmd, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.expand, "expand", false, "expand seeds through their sitemaps (default from crawler.expand_default)")
	cmd.Flags().StringVar(&opts.dataType, "data-type", string(crawler.DataTypeFullPage), "full-page, text-only or headings-only")
	cmd.Flags().BoolVar(&opts.noLinks, "no-links", false, "drop hyperlinks, keeping their text")
	cmd.Flags().BoolVar(&opts.archive, "archive", false, "bundle the saved documents into a zip")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, urls []string, opts crawlOptions) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	dataType, err := crawler.ParseDataType(opts.dataType)
	if err != nil {
		return err
	}
	expand := rt.cfg.Crawler.ExpandDefault
	if cmd.Flags().Changed("expand") {
		expand = opts.expand
	}

	svc := app.New(app.ConfigFrom(rt.cfg), rt.store, uuid.New(), rt.logger.Named("app"))
	report, err := svc.CrawlAndSave(cmd.Context(), app.Request{
		URLs:   urls,
		Expand: expand,
		Extraction: crawler.ExtractionConfig{
			DataType:     dataType,
			IncludeLinks: !opts.noLinks,
		},
	})
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if report.Status != app.StatusSuccess {
		return errNothingSaved
	}

	if opts.archive {
		names := make([]string, 0, len(report.Files))
		for _, f := range report.Files {
			names = append(names, f.Filename)
		}
		archive, err := rt.store.Archive(cmd.Context(), names)
		if err != nil {
			return fmt.Errorf("archive documents: %w", err)
		}
		rt.logger.Info("archive written", zap.String("filename", archive))
		fmt.Fprintln(cmd.OutOrStdout(), rt.store.Path(archive))
	}
	return nil
}
