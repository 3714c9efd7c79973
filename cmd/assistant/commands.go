package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/assistant"
	"github.com/da-sie/openai-assistant/internal/models"
	"github.com/da-sie/openai-assistant/internal/queue"
)

type appRunner func(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func workerCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process run checks, streamed runs and maintenance jobs",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			a.logger.Info("Starting worker",
				zap.String("strategy", a.cfg.Run.Strategy),
				zap.String("queue", a.cfg.Queue.Driver))
			err := a.newWorker().Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}),
	}
}

func cleanupCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete assistants older than maintenance.max_assistant_age",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			return a.schedule(cmd.Context(), queue.Job{Kind: queue.KindCleanup})
		}),
	}
}

func clearEmptyCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-empty",
		Short: "Delete assistants that have no threads",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			return a.schedule(cmd.Context(), queue.Job{Kind: queue.KindClearEmpty})
		}),
	}
}

func deleteAssistantsCommand(withApp appRunner) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete-assistants",
		Short: "Delete one remote assistant, or all of them when --id is not given",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			return a.schedule(cmd.Context(), queue.Job{Kind: queue.KindDeleteAssistant, RemoteAssistantID: id})
		}),
	}
	cmd.Flags().StringVar(&id, "id", "", "remote assistant id")
	return cmd
}

func createAssistantCommand(withApp appRunner) *cobra.Command {
	var (
		in    assistant.AssistantInput
		tools []string
	)
	cmd := &cobra.Command{
		Use:   "create-assistant",
		Short: "Create an assistant remotely and record it",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			for _, t := range tools {
				in.Tools = append(in.Tools, models.ToolType(t))
			}
			created, err := a.assistants.CreateAssistant(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, created)
		}),
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "assistant name")
	cmd.Flags().StringVar(&in.Instructions, "instructions", "", "system instructions")
	cmd.Flags().StringVar(&in.Model, "model", "", "model, defaults to assistant.engine")
	cmd.Flags().StringSliceVar(&tools, "tool", []string{string(models.ToolFileSearch)}, "enabled tools")
	cmd.MarkFlagRequired("name")
	return cmd
}

func knowledgeCommand(withApp appRunner) *cobra.Command {
	var assistantID, threadID int64
	cmd := &cobra.Command{
		Use:   "knowledge --assistant ID paths...",
		Short: "Replace an assistant's vector store with the given documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			res, err := a.knowledge.UpdateKnowledge(cmd.Context(), assistantID, args, threadID)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}),
	}
	cmd.Flags().Int64Var(&assistantID, "assistant", 0, "local assistant id")
	cmd.Flags().Int64Var(&threadID, "thread", 0, "thread the files belong to")
	cmd.MarkFlagRequired("assistant")
	return cmd
}

func askCommand(withApp appRunner) *cobra.Command {
	var (
		threadID int64
		format   string
	)
	cmd := &cobra.Command{
		Use:   "ask --thread ID prompt",
		Short: "Send a prompt and wait for the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			rf, err := models.ParseResponseFormat(format)
			if err != nil {
				return err
			}
			thread, err := a.store.GetThread(cmd.Context(), threadID)
			if err != nil {
				return err
			}
			msg, err := a.sync.Ask(cmd.Context(), thread, strings.Join(args, " "), rf, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg.Response)
			return nil
		}),
	}
	cmd.Flags().Int64Var(&threadID, "thread", 0, "local thread id")
	cmd.Flags().StringVar(&format, "format", string(models.FormatText), "response format")
	cmd.MarkFlagRequired("thread")
	return cmd
}

func sendCommand(withApp appRunner) *cobra.Command {
	var (
		threadID int64
		format   string
	)
	cmd := &cobra.Command{
		Use:   "send --thread ID prompt",
		Short: "Dispatch a prompt through the configured run strategy",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			rf, err := models.ParseResponseFormat(format)
			if err != nil {
				return err
			}
			thread, err := a.store.GetThread(ctx, threadID)
			if err != nil {
				return err
			}
			msg, err := a.dispatcher.SendMessage(ctx, thread, strings.Join(args, " "), rf, nil)
			if err != nil {
				return err
			}
			if a.cfg.Queue.Driver != "memory" {
				return printJSON(cmd, msg)
			}
			// In-memory jobs die with the process, so drive them here.
			msg, err = a.drain(ctx, msg.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd, msg)
		}),
	}
	cmd.Flags().Int64Var(&threadID, "thread", 0, "local thread id")
	cmd.Flags().StringVar(&format, "format", string(models.FormatText), "response format")
	cmd.MarkFlagRequired("thread")
	return cmd
}

// drain runs the in-process worker until the message is terminal.
func (a *app) drain(ctx context.Context, messageID int64) (*models.Message, error) {
	w := a.newWorker()
	ticker := time.NewTicker(a.cfg.Redis.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil {
			return nil, err
		}
		msg, err := a.store.GetMessage(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if msg.RunStatus.IsTerminal() {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return msg, ctx.Err()
		case <-ticker.C:
		}
	}
}

func searchCommand(withApp appRunner) *cobra.Command {
	var (
		assistantID   int64
		limit         int
		vectorStoreID string
	)
	cmd := &cobra.Command{
		Use:   "search --assistant ID query",
		Short: "Query an assistant's vector store",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			res, err := a.search.SearchVectorStore(cmd.Context(), assistantID, strings.Join(args, " "), limit, vectorStoreID)
			if err != nil {
				return err
			}
			if res == nil {
				return errors.New("search did not finish in time")
			}
			return printJSON(cmd, res)
		}),
	}
	cmd.Flags().Int64Var(&assistantID, "assistant", 0, "local assistant id")
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum number of passages")
	cmd.Flags().StringVar(&vectorStoreID, "vector-store", "", "vector store to query instead of the assistant's")
	cmd.MarkFlagRequired("assistant")
	return cmd
}

func vectorStatusCommand(withApp appRunner) *cobra.Command {
	var assistantID int64
	cmd := &cobra.Command{
		Use:   "vector-status --assistant ID",
		Short: "Compare the local vector store id with the remote file_search configuration",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			status, err := a.knowledge.CheckVectorStoreStatus(cmd.Context(), assistantID)
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		}),
	}
	cmd.Flags().Int64Var(&assistantID, "assistant", 0, "local assistant id")
	cmd.MarkFlagRequired("assistant")
	return cmd
}
