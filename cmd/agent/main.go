// Command agent is a headless collaborator: it opens an editing session on a
// document and feeds it edits from stdin. Useful for soak-testing the hub and
// for scripting multi-editor scenarios.
//
//	agent <document-id>
//
// Each stdin line replaces the document body. Lines starting with a slash are
// commands: /flush forces an immediate save, /versions lists the version
// history, /revert N restores version N as a new version, /quit exits.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/copad/copad/internal/collab"
	"github.com/copad/copad/internal/config"
	"github.com/copad/copad/internal/tokens"
	"github.com/copad/copad/pkg/logger"
)

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: agent <document-id>")
		os.Exit(2)
	}
	docID := os.Args[1]

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	user := os.Getenv("COLLAB_USER")
	if user == "" {
		user = "agent-" + uuid.NewString()[:8]
	}

	ctx := context.Background()

	// Prefer an authenticated channel: exchange identity for a connect
	// ticket. Without a ticket store the server accepts ?user= directly.
	var gw *collab.Gateway
	ticket, err := fetchTicket(ctx, cfg, user)
	if err != nil {
		logger.Warnf("no connect ticket (%v); falling back to dev identity", err)
		gw = collab.NewGateway(collab.DevDialer(cfg.Collab.ServerURL, cfg.Collab.WSPath))
		ticket = user
	} else {
		gw = collab.NewGateway(collab.WebSocketDialer(cfg.Collab.ServerURL, cfg.Collab.WSPath))
	}
	if err := gw.Connect(ctx, ticket); err != nil {
		logger.Fatalf("failed to connect channel: %v", err)
	}

	tr := collab.NewRESTTransport(cfg.Collab.ServerURL)
	mgr := collab.NewManager(gw, tr, user, cfg.Collab.AutosaveDelay)

	sess, err := mgr.Open(ctx, docID, consoleNotifier{})
	if err != nil {
		logger.Fatalf("failed to open session on %s: %v", docID, err)
	}
	logger.Infof("editing %s as %s (%d bytes)", docID, user, len(sess.Body()))

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Infof("shutting down")
		mgr.CloseAll()
		gw.Disconnect()
		os.Exit(0)
	}()

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctx, sess, line); quit {
				break
			}
			continue
		}
		sess.OnLocalEdit(line, len(line))
	}

	sess.Flush()
	mgr.CloseAll()
	gw.Disconnect()
}

func runCommand(ctx context.Context, sess *collab.Session, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/flush":
		sess.Flush()
	case "/versions":
		if err := sess.RefreshVersions(ctx); err != nil {
			logger.Errorf("failed to refresh versions: %v", err)
			return false
		}
		for i, v := range sess.Versions() {
			fmt.Printf("%3d  %s  %-12s  %q\n", i, v.CreatedAt.Format(time.RFC3339), v.EditorID, trim(v.Content, 40))
		}
	case "/revert":
		if len(fields) < 2 {
			logger.Errorf("usage: /revert <index>")
			return false
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil {
			logger.Errorf("bad version index %q", fields[1])
			return false
		}
		if err := sess.Revert(ctx, idx); err != nil {
			logger.Errorf("revert failed: %v", err)
		}
	default:
		logger.Errorf("unknown command %s", fields[0])
	}
	return false
}

// fetchTicket asks the server for a connect ticket, authenticating with a
// short-lived HS256 token when a shared secret is configured.
func fetchTicket(ctx context.Context, cfg *config.Config, user string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Collab.ServerURL+"/api/ws-ticket", bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	req.Header.Set("X-User-ID", user)
	if cfg.JWT.Secret != "" {
		tok, err := tokens.GenerateIdentityToken(cfg, user, user, 5*time.Minute)
		if err != nil {
			return "", fmt.Errorf("identity token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ticket endpoint returned %d", resp.StatusCode)
	}
	var out struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Ticket == "" {
		return "", fmt.Errorf("empty ticket in response")
	}
	return out.Ticket, nil
}

func trim(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// consoleNotifier prints session events so a human driving the agent can see
// what the hub is doing.
type consoleNotifier struct{}

func (consoleNotifier) BodyReplaced(body string) {
	fmt.Printf("<< body replaced (%d bytes)\n", len(body))
}

func (consoleNotifier) RosterChanged(users []string) {
	fmt.Printf("<< active users: %s\n", strings.Join(users, ", "))
}

func (consoleNotifier) SaveStateChanged(saving bool) {
	if saving {
		fmt.Println("<< saving…")
	}
}

func (consoleNotifier) Saved(at time.Time) {
	fmt.Printf("<< saved at %s\n", at.Format(time.RFC3339))
}

func (consoleNotifier) SessionError(err error) {
	logger.Errorf("session error: %v", err)
}
