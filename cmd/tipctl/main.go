// tipctl is a small operator CLI for the tipcast API: create, list, and end
// sessions, inspect tips, and tail the mirrored event stream from NATS.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tipcast/pkg/bus"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tipctl",
		Short:         "Manage tipcast tipping sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newSessionsCommand())
	cmd.AddCommand(newEventsCommand())
	return cmd
}

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newSessionsCreateCommand())
	cmd.AddCommand(newSessionsListCommand())
	cmd.AddCommand(newSessionsEndCommand())
	cmd.AddCommand(newSessionsTipsCommand())
	return cmd
}

// sessionManifest mirrors the create-session request body.
type sessionManifest struct {
	Title          string `yaml:"title" json:"title"`
	StreamURL      string `yaml:"streamUrl" json:"streamUrl"`
	CreatorAddress string `yaml:"creatorAddress" json:"creatorAddress"`
}

func newSessionsCreateCommand() *cobra.Command {
	var (
		apiBaseURL string
		file       string
		title      string
		streamURL  string
		address    string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tipping session",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest := sessionManifest{Title: title, StreamURL: streamURL, CreatorAddress: address}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				if err := yaml.Unmarshal(data, &manifest); err != nil {
					return fmt.Errorf("parse manifest: %w", err)
				}
			}
			if manifest.Title == "" || manifest.StreamURL == "" || manifest.CreatorAddress == "" {
				return errors.New("title, stream URL, and creator address are required (flags or --file)")
			}

			body, err := json.Marshal(manifest)
			if err != nil {
				return err
			}
			return callAPI(cmd.Context(), http.MethodPost, apiBaseURL+"/sessions", strings.NewReader(string(body)), cmd.OutOrStdout())
		},
	}

	addAPIFlag(cmd, &apiBaseURL)
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML manifest with title, streamUrl, creatorAddress")
	cmd.Flags().StringVar(&title, "title", "", "Session title")
	cmd.Flags().StringVar(&streamURL, "stream-url", "", "Livestream URL")
	cmd.Flags().StringVar(&address, "address", "", "Creator receiving address")
	return cmd
}

func newSessionsListCommand() *cobra.Command {
	var (
		apiBaseURL string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/sessions?limit=%d", apiBaseURL, limit)
			if status != "" {
				url += "&status=" + status
			}
			return callAPI(cmd.Context(), http.MethodGet, url, nil, cmd.OutOrStdout())
		},
	}

	addAPIFlag(cmd, &apiBaseURL)
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (live or ended)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of sessions")
	return cmd
}

func newSessionsEndCommand() *cobra.Command {
	var apiBaseURL string

	cmd := &cobra.Command{
		Use:   "end <session-id>",
		Short: "End a live session and freeze its stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAPI(cmd.Context(), http.MethodPatch, apiBaseURL+"/sessions/"+args[0]+"/end", nil, cmd.OutOrStdout())
		},
	}

	addAPIFlag(cmd, &apiBaseURL)
	return cmd
}

func newSessionsTipsCommand() *cobra.Command {
	var apiBaseURL string

	cmd := &cobra.Command{
		Use:   "tips <session-id>",
		Short: "List all tips recorded for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAPI(cmd.Context(), http.MethodGet, apiBaseURL+"/sessions/"+args[0]+"/tips", nil, cmd.OutOrStdout())
		},
	}

	addAPIFlag(cmd, &apiBaseURL)
	return cmd
}

func newEventsCommand() *cobra.Command {
	var (
		natsURL string
		subject string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow the mirrored tip event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := bus.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("connect to NATS: %w", err)
			}
			if events == nil {
				return errors.New("a NATS URL is required")
			}
			defer events.Close()

			out := cmd.OutOrStdout()
			unsubscribe, err := events.Subscribe(subject, func(subj string, data []byte) {
				fmt.Fprintf(out, "%s %s %s\n", time.Now().UTC().Format(time.RFC3339), subj, data)
			})
			if err != nil {
				return err
			}
			defer func() { _ = unsubscribe() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", os.Getenv("NATS_URL"), "NATS endpoint the service mirrors events to")
	cmd.Flags().StringVar(&subject, "subject", "tipcast.>", "Subject filter")
	return cmd
}

func addAPIFlag(cmd *cobra.Command, dest *string) {
	def := os.Getenv("TIPCAST_API")
	if def == "" {
		def = "http://localhost:4000"
	}
	cmd.Flags().StringVar(dest, "api", def, "Base URL of the tipcast API")
}

// callAPI performs the request and pretty-prints the JSON response.
func callAPI(ctx context.Context, method, url string, body io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err == nil {
		formatted, err := json.MarshalIndent(pretty, "", "  ")
		if err == nil {
			raw = formatted
		}
	}
	fmt.Fprintln(out, string(raw))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return nil
}
