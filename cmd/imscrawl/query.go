package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tenwire/imscrawl/internal/services/rag"
)

// runQuery is the one-shot CLI equivalent of POST /api/chat: it finds the
// issues most relevant to the question via hybrid retrieval, then hands
// their ids to the RAG builder as the conversation's bounded scope.
func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	user := fs.String("user", "", "user id whose issues to search (required)")
	topK := fs.Int("top", 0, "number of issues to pull into context (0 = use config default)")
	_ = fs.Parse(args)

	if *user == "" {
		logger.Fatal().Msg("query requires -user")
	}
	if fs.NArg() != 1 {
		logger.Fatal().Msg("query requires exactly one positional argument: the question")
	}
	question := fs.Arg(0)

	application, err := newApp(config)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer application.Close()

	limit := *topK
	if limit <= 0 {
		limit = config.Retrieval.DefaultTopK
	}
	candidateLimit := config.Retrieval.DefaultCandidateLimit

	ctx := context.Background()
	issues, err := application.issues.SearchHybrid(ctx, question, *user, limit, candidateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to search issues")
	}
	if len(issues) == 0 {
		fmt.Fprintln(os.Stderr, "no issues found for this user matching the question")
		os.Exit(1)
	}

	issueIDs := make([]string, len(issues))
	for i, issue := range issues {
		issueIDs[i] = issue.ID
	}

	resp, err := application.rag.Chat(ctx, rag.Request{
		Question:         question,
		IssueIDs:         issueIDs,
		MaxContextIssues: &limit,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("chat failed")
	}

	fmt.Println(resp.Content)
	if len(resp.ReferencedIssues) > 0 {
		fmt.Println()
		fmt.Println("Referenced issues:")
		for _, id := range resp.ReferencedIssues {
			fmt.Printf("  - %s\n", id)
		}
	}
}
