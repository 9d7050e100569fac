package cmd

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List the chat models your credential can use (claude or openai)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Models []string `json:"models"`
		}
		if err := newClient().Do(http.MethodGet, "/models/"+args[0], nil, &out); err != nil {
			return err
		}
		for _, id := range out.Models {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var embeddingsCmd = &cobra.Command{
	Use:   "embeddings",
	Short: "Maintain record embeddings",
}

var reembedCmd = &cobra.Command{
	Use:   "reembed [kind] [id]",
	Short: "Recompute the embedding of one record now",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return newClient().Do(http.MethodPost, fmt.Sprintf("/embeddings/%s/%s/reembed", args[0], args[1]), nil, nil)
	},
}

var backfillLimit int

var backfillCmd = &cobra.Command{
	Use:   "backfill [kind]",
	Short: "Schedule embeddings for records of a kind that have none",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Scheduled int `json:"scheduled"`
		}
		path := fmt.Sprintf("/embeddings/%s/backfill?limit=%d", args[0], backfillLimit)
		if err := newClient().Do(http.MethodPost, path, nil, &out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %d records.\n", out.Scheduled)
		return nil
	},
}

var settingsCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Store a setting such as ai.preferred_provider or ai.openai_api_key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return newClient().Do(http.MethodPut, "/settings", map[string]string{"key": args[0], "value": args[1]}, nil)
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan-insights",
	Short: "Detect month-over-month changes and generate insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Insights []struct {
				Title       string `json:"title"`
				Description string `json:"description"`
				Priority    string `json:"priority"`
			} `json:"insights"`
		}
		if err := newClient().Do(http.MethodPost, "/insights/scan", nil, &out); err != nil {
			return err
		}
		if len(out.Insights) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No new insights.")
		}
		for _, in := range out.Insights {
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n  %s\n", in.Priority, in.Title, in.Description)
		}
		return nil
	},
}

var (
	tokenSecret string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue a development bearer token signed with the service secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := issueToken(tokenSecret, args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func issueToken(secret, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("--secret is required")
	}
	id, err := strconv.ParseUint(userID, 10, 64)
	if err != nil || id == 0 {
		return "", fmt.Errorf("invalid user id %q", userID)
	}
	claims := jwt.MapClaims{"sub": id, "iat": time.Now().Unix()}
	if ttl != 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func init() {
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 500, "maximum records to schedule")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", envOr("ADVISOR_JWT_SECRET", ""), "auth.jwtSecret of the service")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime, 0 for none")
	embeddingsCmd.AddCommand(reembedCmd, backfillCmd)
	rootCmd.AddCommand(modelsCmd, embeddingsCmd, settingsCmd, scanCmd, tokenCmd)
}
