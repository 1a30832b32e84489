package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tenwire/imscrawl/internal/models"
)

// runCollect is the one-shot CLI equivalent of POST /api/jobs followed by
// draining its progress stream to stdout, for operators who want a crawl
// without standing up the server.
func runCollect(args []string) {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	user := fs.String("user", "", "user id to crawl issues for (required)")
	query := fs.String("query", "", "raw natural-language query describing what to collect (required)")
	maxIssues := fs.Int("max-issues", 0, "cap on issues to crawl (0 = use config default)")
	includeAttachments := fs.Bool("attachments", true, "download and extract attachments")
	includeRelated := fs.Bool("related", true, "follow one level of related-issue links")
	forceRefresh := fs.Bool("force", false, "re-crawl issues already ingested")
	_ = fs.Parse(args)

	if *user == "" || *query == "" {
		logger.Fatal().Msg("collect requires -user and -query")
	}

	application, err := newApp(config)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer application.Close()

	ctx := context.Background()
	if err := application.orchestrator.RecoverPendingJobs(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to recover pending jobs from dispatch queue")
	}

	job, cached, err := application.orchestrator.CreateJob(ctx, *user, *query, models.JobConfig{
		IncludeAttachments: *includeAttachments,
		IncludeRelated:     *includeRelated,
		MaxIssues:          *maxIssues,
		ForceRefresh:       *forceRefresh,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create job")
	}

	if cached {
		logger.Info().Str("job_id", job.ID).Int("issues", len(job.ResultIssueIDs)).Msg("serving cached crawl result")
		for _, id := range job.ResultIssueIDs {
			fmt.Fprintln(os.Stdout, id)
		}
		return
	}

	logger.Info().Str("job_id", job.ID).Str("user_id", *user).Msg("job created")

	stream, err := application.orchestrator.ExecuteJob(ctx, job.ID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start job")
	}

	for event := range stream {
		fmt.Fprintf(os.Stdout, "[%s] %s %v\n", job.ID, event.Type, event.Data)
	}

	final, err := application.orchestrator.GetStatus(ctx, job.ID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to fetch final job status")
	}

	logger.Info().
		Str("job_id", final.ID).
		Str("status", string(final.Status)).
		Int("issues_found", final.IssuesFound).
		Int("issues_crawled", final.IssuesCrawled).
		Int("attachments_processed", final.AttachmentsProcessed).
		Msg("job finished")

	if final.ErrorMessage != "" {
		logger.Error().Str("error", final.ErrorMessage).Msg("job completed with error")
		os.Exit(1)
	}
}
