// charterctl is the terminal client for charterd: it drives an interview
// session over the HTTP API and exports the finished charter.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Exit codes. Stable so scripts can branch on them: 0 success,
// 2 validation blocked, 3 consistency blocked, 4 not found,
// 5 provider exhausted. Everything else (usage, transport) exits 1.
const (
	exitOK              = 0
	exitUsage           = 1
	exitGateFailed      = 2
	exitCharterBlocked  = 3
	exitNotFound        = 4
	exitProviderFailure = 5
)

var serverURL string

func main() {
	root := &cobra.Command{
		Use:           "charterctl",
		Short:         "Terminal client for the charterd interview engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server",
		getEnv("CHARTERD_URL", "http://localhost:8080"), "charterd base URL")

	root.AddCommand(startCmd(), resumeCmd(), statusCmd(), exportCmd(), cancelCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// exitCodeFor maps API error codes onto the CLI's exit codes.
func exitCodeFor(err error) int {
	var ae *apiError
	if !errors.As(err, &ae) {
		return exitUsage
	}
	switch ae.ErrorCode {
	case "gate_failed", "stage_already_committed", "stage_not_current", "invalid_request":
		return exitGateFailed
	case "charter_blocked_inconsistent":
		return exitCharterBlocked
	case "not_found":
		return exitNotFound
	case "provider_transient", "provider_exhausted", "provider_malformed_reply",
		"synthesis_failed", "evaluation_timeout":
		return exitProviderFailure
	default:
		return exitUsage
	}
}

func startCmd() *cobra.Command {
	var owner, project string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Create a session and run the interview to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverURL)
			var session struct {
				ID           string `json:"session_id"`
				CurrentStage int    `json:"current_stage"`
			}
			err := c.do("POST", "/api/v1/sessions",
				map[string]string{"owner": owner, "project_name": project}, &session)
			if err != nil {
				return err
			}
			fmt.Printf("Session %s created for %q.\n\n", session.ID, project)
			return runInterview(c, session.ID, session.CurrentStage)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "session owner (required)")
	cmd.Flags().StringVar(&project, "project", "", "project name (required)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a paused or interrupted session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverURL)
			var session struct {
				ID           string `json:"session_id"`
				CurrentStage int    `json:"current_stage"`
			}
			if err := c.do("POST", "/api/v1/sessions/"+args[0]+"/resume", nil, &session); err != nil {
				return err
			}
			fmt.Printf("Resumed session %s at stage %d.\n\n", session.ID, session.CurrentStage)
			return runInterview(c, session.ID, session.CurrentStage)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverURL)
			var session map[string]any
			if err := c.do("GET", "/api/v1/sessions/"+args[0], nil, &session); err != nil {
				return err
			}
			out, _ := json.MarshalIndent(session, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export the finished charter as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverURL)
			doc, err := c.raw("/api/v1/sessions/" + args[0] + "/charter?format=markdown")
			if err != nil {
				return err
			}
			if outPath == "" {
				fmt.Print(string(doc))
				return nil
			}
			if err := os.WriteFile(outPath, doc, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			fmt.Printf("Charter written to %s.\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "output file (default stdout)")
	return cmd
}

func cancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Abandon a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverURL)
			if err := c.do("POST", "/api/v1/sessions/"+args[0]+"/cancel",
				map[string]string{"reason": reason}, nil); err != nil {
				return err
			}
			fmt.Println("Session abandoned.")
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the session is being abandoned")
	return cmd
}

// runInterview drives the remaining stages, then the charter.
func runInterview(c *client, sessionID string, fromStage int) error {
	stdin := bufio.NewReader(os.Stdin)

	for stage := fromStage; stage <= 5; stage++ {
		fmt.Printf("=== Stage %d of 5 ===\n\n", stage)
		if err := runStage(c, stdin, sessionID, stage); err != nil {
			return err
		}
		if err := advanceStage(c, sessionID, stage); err != nil {
			return err
		}
		fmt.Printf("Stage %d committed.\n\n", stage)
	}

	fmt.Println("Generating charter...")
	var charter map[string]any
	if err := c.do("POST", "/api/v1/sessions/"+sessionID+"/charter/generate", nil, &charter); err != nil {
		return err
	}
	fmt.Printf("Charter complete. Governance: %v, feasibility: %v.\n",
		charter["governance_decision"], charter["feasibility"])
	fmt.Printf("Export it with: charterctl export %s --out charter.md\n", sessionID)
	return nil
}

// runStage executes one stage and relays questions and answers until the
// run finishes.
func runStage(c *client, stdin *bufio.Reader, sessionID string, stage int) error {
	path := fmt.Sprintf("/api/v1/sessions/%s/stages/%d/execute", sessionID, stage)
	if err := c.do("POST", path, nil, nil); err != nil {
		return err
	}

	var lastPrompted string
	for {
		var state struct {
			State  string `json:"state"`
			Prompt struct {
				QuestionID string `json:"question_id"`
				Question   string `json:"question"`
				Attempt    int    `json:"attempt"`
				Notice     string `json:"notice"`
			} `json:"prompt"`
			Error *apiError `json:"error"`
		}
		if err := c.do("GET", "/api/v1/sessions/"+sessionID+"/prompt", nil, &state); err != nil {
			return err
		}

		switch state.State {
		case "awaiting_answer":
			key := fmt.Sprintf("%s/%d/%s", state.Prompt.QuestionID, state.Prompt.Attempt, state.Prompt.Notice)
			if key == lastPrompted {
				// Same prompt as before the last poll; answer already sent.
				time.Sleep(300 * time.Millisecond)
				continue
			}
			lastPrompted = key
			if state.Prompt.Notice != "" {
				fmt.Printf("! %s\n\n", state.Prompt.Notice)
			}
			fmt.Printf("%s\n\n", state.Prompt.Question)
			answer, err := readAnswer(stdin)
			if err != nil {
				return err
			}
			if err := c.do("POST", "/api/v1/sessions/"+sessionID+"/answer",
				map[string]string{"answer": answer}, nil); err != nil {
				return err
			}
		case "done":
			return nil
		case "error":
			if state.Error != nil {
				return state.Error
			}
			return fmt.Errorf("stage %d failed", stage)
		default:
			time.Sleep(500 * time.Millisecond)
		}
	}
}

// advanceStage commits the stage, printing the gate verdict on failure.
func advanceStage(c *client, sessionID string, stage int) error {
	path := fmt.Sprintf("/api/v1/sessions/%s/stages/%d/advance", sessionID, stage)
	err := c.do("POST", path, nil, nil)
	if err == nil {
		return nil
	}
	var ae *apiError
	if errors.As(err, &ae) && ae.ErrorCode == "gate_failed" && len(ae.Details) > 0 {
		var verdict struct {
			CompletenessScore float64  `json:"completeness_score"`
			MissingItems      []string `json:"missing_items"`
			Concerns          []string `json:"validation_concerns"`
		}
		if json.Unmarshal(ae.Details, &verdict) == nil {
			fmt.Printf("Stage %d gate failed (completeness %.0f%%).\n",
				stage, verdict.CompletenessScore*100)
			for _, item := range verdict.MissingItems {
				fmt.Println("  missing:", item)
			}
			for _, concern := range verdict.Concerns {
				fmt.Println("  concern:", concern)
			}
		}
	}
	return err
}

// readAnswer reads a multi-line answer terminated by an empty line.
func readAnswer(stdin *bufio.Reader) (string, error) {
	fmt.Println("(enter your answer; finish with an empty line)")
	var lines []string
	for {
		line, err := stdin.ReadString('\n')
		if err != nil {
			if len(lines) > 0 {
				break
			}
			return "", fmt.Errorf("failed to read answer: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	fmt.Println()
	return strings.Join(lines, "\n"), nil
}
