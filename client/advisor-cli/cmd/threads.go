package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

type thread struct {
	ID            uint       `json:"id"`
	Title         string     `json:"title"`
	LastMessageAt *time.Time `json:"last_message_at"`
}

type message struct {
	ID        uint      `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Provider  *string   `json:"provider"`
	Model     *string   `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

type event struct {
	Type     string `json:"type"`
	ThreadID uint   `json:"thread_id"`
	Content  string `json:"content"`
	Error    string `json:"error"`
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Manage advisory threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your threads, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Threads []thread `json:"threads"`
		}
		if err := newClient().Do(http.MethodGet, "/threads", nil, &out); err != nil {
			return err
		}
		for _, t := range out.Threads {
			title := t.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", t.ID, title)
		}
		return nil
	},
}

var threadsCreateCmd = &cobra.Command{
	Use:   "create [title]",
	Short: "Create a thread and make it active",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{}
		if len(args) == 1 {
			body["title"] = args[0]
		}
		var t thread
		if err := newClient().Do(http.MethodPost, "/threads", body, &t); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Thread %d created.\n", t.ID)
		return nil
	},
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete [thread-id]",
	Short: "Delete a thread with its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := parseID(args[0]); err != nil {
			return err
		}
		return newClient().Do(http.MethodDelete, "/threads/"+args[0], nil, nil)
	},
}

var threadsSelectCmd = &cobra.Command{
	Use:   "select [thread-id]",
	Short: "Make a thread the one whose replies are streamed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := parseID(args[0]); err != nil {
			return err
		}
		return newClient().Do(http.MethodPost, "/threads/"+args[0]+"/select", nil, nil)
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show [thread-id]",
	Short: "Print the messages of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := parseID(args[0]); err != nil {
			return err
		}
		var out struct {
			Messages []message `json:"messages"`
		}
		if err := newClient().Do(http.MethodGet, "/threads/"+args[0]+"/messages", nil, &out); err != nil {
			return err
		}
		for _, m := range out.Messages {
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n\n", m.CreatedAt.Format("2006-01-02 15:04"), m.Role, m.Content)
		}
		return nil
	},
}

var stream bool

var askCmd = &cobra.Command{
	Use:   "ask [thread-id] [message]",
	Short: "Send a message and print the advisor's reply",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client := newClient()
		out := cmd.OutOrStdout()

		streamed := make(chan struct{})
		if stream {
			conn, err := client.Subscribe()
			if err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			defer conn.Close()
			go func() {
				defer close(streamed)
				for {
					_, data, err := conn.ReadMessage()
					if err != nil {
						return
					}
					var ev event
					if json.Unmarshal(data, &ev) != nil || ev.ThreadID != id {
						continue
					}
					if ev.Type == "chunk" {
						fmt.Fprint(out, ev.Content)
					}
					if ev.Type == "done" || ev.Type == "error" {
						fmt.Fprintln(out)
						return
					}
				}
			}()
		} else {
			close(streamed)
		}

		var resp struct {
			Message message `json:"message"`
		}
		if err := client.Do(http.MethodPost, fmt.Sprintf("/threads/%d/messages", id), map[string]string{"content": args[1]}, &resp); err != nil {
			return err
		}
		<-streamed
		if !stream {
			fmt.Fprintln(out, resp.Message.Content)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print advisor events as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := newClient().Subscribe()
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		defer conn.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "WebSocket connected. Waiting for events...")
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		}
	},
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid thread id %q", s)
	}
	return uint(id), nil
}

func init() {
	askCmd.Flags().BoolVar(&stream, "stream", false, "stream the reply over WebSocket")
	threadsCmd.AddCommand(threadsListCmd, threadsCreateCmd, threadsDeleteCmd, threadsSelectCmd, threadsShowCmd)
	rootCmd.AddCommand(threadsCmd, askCmd, watchCmd)
}
