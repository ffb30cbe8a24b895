package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/garnizeh/expertfeed/internal/realtime"
	"github.com/garnizeh/expertfeed/pkg/models"
)

var (
	publishEvent          string
	publishPreviousTopics []string
)

var publishCmd = &cobra.Command{
	Use:   "publish <question.json>",
	Short: "Publish a question event straight to Redis",
	Long: `Publishes a question.created or question.updated event for the question
in the given JSON file on every topic it belongs to. For updates, pass the
topics of the replaced version with --previous-topics so that feeds it no
longer matches drop it. The API and the job outbox are bypassed.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishEvent, "event", string(models.EventQuestionCreated), "Event type: question.created or question.updated")
	publishCmd.Flags().StringSliceVar(&publishPreviousTopics, "previous-topics", nil, "Extra topics to publish on, e.g. category:design,tag:figma")
}

func runPublish(cmd *cobra.Command, args []string) error {
	event, err := parseEvent(publishEvent)
	if err != nil {
		return err
	}
	q, err := readQuestion(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rdb := newRedis(cfg)
	defer rdb.Close()

	n, err := realtime.NewPublisher(rdb, logger).Publish(cmd.Context(), event, q, publishPreviousTopics...)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %s for %s on %d topics\n", event, q.ID, n)
	return nil
}

func parseEvent(s string) (models.EventType, error) {
	switch e := models.EventType(strings.TrimSpace(s)); e {
	case models.EventQuestionCreated, models.EventQuestionUpdated:
		return e, nil
	default:
		return "", fmt.Errorf("unknown event %q", s)
	}
}

// readQuestion loads a question and rejects one that no feed would accept.
func readQuestion(path string) (models.Question, error) {
	var q models.Question
	b, err := os.ReadFile(path)
	if err != nil {
		return q, err
	}
	if err := json.Unmarshal(b, &q); err != nil {
		return q, fmt.Errorf("decode %s: %w", path, err)
	}
	if strings.TrimSpace(q.ID) == "" {
		return q, errors.New("question id is required")
	}
	if err := q.Validate(); err != nil {
		return q, err
	}
	return q, nil
}
