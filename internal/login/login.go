// Package login drives the interactive onboarding flow that turns an account
// record with credentials into an authenticated session. The flow is a chain
// of server-chosen subtasks; each response names the next step and carries a
// flow token that must be threaded through every reply.
package login

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/tidwall/gjson"

	"github.com/twsio/tws/internal/account"
	"github.com/twsio/tws/internal/config"
	"github.com/twsio/tws/internal/imapx"
)

const (
	defaultFlowURL  = "https://api.twitter.com/1.1/onboarding/task.json"
	defaultGuestURL = "https://api.twitter.com/1.1/guest/activate.json"
)

// ErrLoginDenied is returned when the server refuses the login outright.
var ErrLoginDenied = errors.New("login denied")

// Config selects how the flow resolves challenges. FlowURL and GuestURL
// default to the production endpoints and exist for tests.
type Config struct {
	// EmailFirst opens the mailbox before starting the flow, so the
	// confirmation code challenge resolves without a second connection.
	EmailFirst bool
	// Manual prompts on the terminal for confirmation codes instead of
	// reading the mailbox.
	Manual bool
	// Prompt overrides the terminal prompt in manual mode.
	Prompt func(msg string) (string, error)

	FlowURL  string
	GuestURL string
}

type flow struct {
	client  *account.Client
	acc     *account.Account
	cfg     *config.Config
	lc      Config
	imap    *imapx.Reader
	started time.Time
}

// Login runs the flow and, on success, stores the session material (headers
// and cookies) on the account. The caller persists the account.
func Login(ctx context.Context, cfg *config.Config, lc Config, acc *account.Account) error {
	if acc.Active {
		slog.Info("account already active", "username", acc.Username)
		return nil
	}
	if lc.FlowURL == "" {
		lc.FlowURL = defaultFlowURL
	}
	if lc.GuestURL == "" {
		lc.GuestURL = defaultGuestURL
	}

	client, err := acc.MakeClient("", cfg.Proxy, cfg.RequestTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	f := &flow{client: client, acc: acc, cfg: cfg, lc: lc, started: time.Now()}
	if lc.EmailFirst && !lc.Manual {
		if f.imap, err = imapx.Login(acc.Email, acc.EmailPassword); err != nil {
			return err
		}
	}
	if f.imap != nil {
		defer f.imap.Close()
	}

	guestToken, err := f.guestToken(ctx)
	if err != nil {
		return err
	}
	client.SetHeader("x-guest-token", guestToken)

	body, err := f.post(ctx, url.Values{"flow_name": {"login"}}, map[string]any{
		"input_flow_data": map[string]any{
			"flow_context": map[string]any{
				"debug_overrides": map[string]any{},
				"start_location":  map[string]any{"location": "unknown"},
			},
		},
		"subtask_versions": map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("login initiate: %w", err)
	}

	for {
		done, next, err := f.step(ctx, body)
		if err != nil {
			return err
		}
		if done {
			break
		}
		body = next
	}

	ct0 := client.CookieValue("ct0")
	if ct0 == "" {
		return errors.New("ct0 not in cookies (most likely ip ban)")
	}
	client.SetHeader("x-csrf-token", ct0)
	client.SetHeader("x-twitter-auth-type", "OAuth2Session")

	acc.Headers = client.Headers()
	acc.Cookies = client.Cookies()
	return nil
}

func (f *flow) guestToken(ctx context.Context) (string, error) {
	rep, err := f.client.PostJSON(ctx, f.lc.GuestURL, nil, map[string]any{})
	if err != nil {
		return "", fmt.Errorf("guest token: %w", err)
	}
	body, err := readBody(rep)
	if err != nil {
		return "", fmt.Errorf("guest token: %w", err)
	}
	token := gjson.Get(body, "guest_token").String()
	if token == "" {
		return "", fmt.Errorf("guest token missing in response: %s", snippet(body))
	}
	return token, nil
}

// step handles one flow response. It picks the first known subtask, replies
// to it, and returns the next response body. done is true once the flow
// reaches its success state.
func (f *flow) step(ctx context.Context, body string) (done bool, next string, err error) {
	flowToken := gjson.Get(body, "flow_token").String()
	if flowToken == "" {
		return false, "", fmt.Errorf("flow token missing in response: %s", snippet(body))
	}

	for _, sub := range gjson.Get(body, "subtasks").Array() {
		taskID := sub.Get("subtask_id").String()
		input, err := f.subtaskInput(ctx, taskID, sub)
		if err != nil {
			return false, "", fmt.Errorf("login_step=%s err=%w", taskID, err)
		}
		if input == nil {
			continue
		}

		payload := map[string]any{"flow_token": flowToken, "subtask_inputs": []any{}}
		if len(input) > 0 {
			input["subtask_id"] = taskID
			payload["subtask_inputs"] = []any{input}
		}

		next, err := f.post(ctx, nil, payload)
		if err != nil {
			return false, "", fmt.Errorf("login_step=%s err=%w", taskID, err)
		}
		return taskID == "LoginSuccessSubtask", next, nil
	}
	return false, "", fmt.Errorf("no known subtask in response: %s", snippet(body))
}

// subtaskInput builds the reply for one subtask. A nil map skips the subtask,
// an empty map replies with no inputs.
func (f *flow) subtaskInput(ctx context.Context, taskID string, sub gjson.Result) (map[string]any, error) {
	switch taskID {
	case "LoginSuccessSubtask":
		return map[string]any{}, nil

	case "DenyLoginSubtask":
		return nil, fmt.Errorf("%w: %s", ErrLoginDenied, sub.Get("cta.primary_text.text").String())

	case "LoginJsInstrumentationSubtask":
		return map[string]any{
			"js_instrumentation": map[string]any{"response": "{}", "link": "next_link"},
		}, nil

	case "LoginEnterUserIdentifierSSO":
		return map[string]any{
			"settings_list": map[string]any{
				"setting_responses": []any{map[string]any{
					"key":           "user_identifier",
					"response_data": map[string]any{"text_data": map[string]any{"result": f.acc.Username}},
				}},
				"link": "next_link",
			},
		}, nil

	case "LoginEnterAlternateIdentifierSubtask":
		return enterText(f.acc.Username), nil

	case "LoginEnterPassword":
		return map[string]any{
			"enter_password": map[string]any{"password": f.acc.Password, "link": "next_link"},
		}, nil

	case "AccountDuplicationCheck":
		return map[string]any{
			"check_logged_in_account": map[string]any{"link": "AccountDuplicationCheck_false"},
		}, nil

	case "LoginTwoFactorAuthChallenge":
		if f.acc.MFACode == "" {
			return nil, errors.New("two-factor challenge but no mfa code on account")
		}
		code, err := totp.GenerateCode(f.acc.MFACode, time.Now())
		if err != nil {
			return nil, fmt.Errorf("totp: %w", err)
		}
		return enterText(code), nil

	case "LoginAcid":
		hint := strings.ToLower(sub.Get("enter_text.hint_text").String())
		if hint == "confirmation code" {
			code, err := f.emailCode(ctx)
			if err != nil {
				return nil, err
			}
			return enterText(code), nil
		}
		return enterText(f.acc.Email), nil
	}
	return nil, nil
}

func enterText(text string) map[string]any {
	return map[string]any{"enter_text": map[string]any{"text": text, "link": "next_link"}}
}

func (f *flow) emailCode(ctx context.Context) (string, error) {
	if f.lc.Manual {
		prompt := f.lc.Prompt
		if prompt == nil {
			prompt = stdinPrompt
		}
		return prompt(fmt.Sprintf("Enter confirmation code for %s (%s): ", f.acc.Username, f.acc.Email))
	}

	if f.imap == nil {
		r, err := imapx.Login(f.acc.Email, f.acc.EmailPassword)
		if err != nil {
			return "", err
		}
		f.imap = r
	}
	timeout := time.Duration(f.cfg.EmailCodeTimeout) * time.Second
	// Codes queued before the flow started are stale; 30s covers clock skew.
	minTime := f.started.Add(-30 * time.Second)
	return f.imap.WaitForCode(ctx, minTime, timeout, f.cfg.EmailPoll)
}

func (f *flow) post(ctx context.Context, params url.Values, payload any) (string, error) {
	rep, err := f.client.PostJSON(ctx, f.lc.FlowURL, params, payload)
	if err != nil {
		return "", err
	}
	return readBody(rep)
}

func readBody(rep *http.Response) (string, error) {
	defer rep.Body.Close()
	b, err := io.ReadAll(rep.Body)
	if err != nil {
		return "", err
	}
	body := string(b)
	if rep.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", rep.StatusCode, snippet(body))
	}
	return body, nil
}

func stdinPrompt(msg string) (string, error) {
	fmt.Fprint(os.Stderr, msg)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
