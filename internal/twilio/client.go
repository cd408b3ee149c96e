// Package twilio is a REST client for the messaging provider: programmable
// SMS, the Conversations API, and TaskRouter.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flexops/flexops/internal/common/config"
	"github.com/flexops/flexops/internal/common/logger"
	"github.com/flexops/flexops/internal/common/stringutil"
)

// Default API roots per provider product.
const (
	defaultAPIBase           = "https://api.twilio.com"
	defaultConversationsBase = "https://conversations.twilio.com"
	defaultTaskRouterBase    = "https://taskrouter.twilio.com"
)

// ErrNotConfigured is returned when provider credentials are missing.
// Pipelines treat it as "warn once, skip" rather than a transient failure.
var ErrNotConfigured = errors.New("twilio credentials not configured")

// Client calls the provider REST APIs. It performs no retries; callers
// decide whether a failed call is retried on the next tick.
type Client struct {
	// API roots, overridable before first use. Tests point them at local
	// httptest servers.
	APIBase           string
	ConversationsBase string
	TaskRouterBase    string

	accountSid  string
	authToken   string
	phoneNumber string

	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient builds a client from provider credentials.
func NewClient(cfg config.TwilioConfig, log *logger.Logger) *Client {
	return &Client{
		APIBase:           defaultAPIBase,
		ConversationsBase: defaultConversationsBase,
		TaskRouterBase:    defaultTaskRouterBase,
		accountSid:        cfg.AccountSid,
		authToken:         cfg.AuthToken,
		phoneNumber:       cfg.PhoneNumber,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.WithFields(zap.String("component", "twilio-client")),
	}
}

// Configured reports whether credentials are present. Pipelines check this
// up front and warn once instead of failing every tick.
func (c *Client) Configured() bool {
	return c.accountSid != "" && c.authToken != ""
}

// SendSMS sends an SMS from the configured number.
func (c *Client) SendSMS(ctx context.Context, to, body string) (*Message, error) {
	if c.phoneNumber == "" {
		return nil, fmt.Errorf("no sender phone number configured")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.phoneNumber)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.APIBase, url.PathEscape(c.accountSid))
	var msg Message
	if err := c.postForm(ctx, endpoint, form, &msg); err != nil {
		return nil, fmt.Errorf("send sms: %w", err)
	}
	c.logger.Debug("SMS sent",
		zap.String("message_sid", msg.Sid),
		zap.String("body", stringutil.TruncateStringWithEllipsis(body, 64)))
	return &msg, nil
}

// PostConversationMessage posts a message into a conversation under the
// given author identity.
func (c *Client) PostConversationMessage(ctx context.Context, conversationSid, author, body string) (*Message, error) {
	form := url.Values{}
	form.Set("Author", author)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/v1/Conversations/%s/Messages", c.ConversationsBase, url.PathEscape(conversationSid))
	var msg Message
	if err := c.postForm(ctx, endpoint, form, &msg); err != nil {
		return nil, fmt.Errorf("post conversation message: %w", err)
	}
	c.logger.Debug("conversation message sent",
		zap.String("conversation_sid", conversationSid),
		zap.String("message_sid", msg.Sid),
		zap.String("body", stringutil.TruncateStringWithEllipsis(body, 64)))
	return &msg, nil
}

// ListConversationParticipants lists up to limit participants of a conversation.
func (c *Client) ListConversationParticipants(ctx context.Context, conversationSid string, limit int) ([]Participant, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("PageSize", strconv.Itoa(limit))
	}

	endpoint := fmt.Sprintf("%s/v1/Conversations/%s/Participants", c.ConversationsBase, url.PathEscape(conversationSid))
	var page participantPage
	if err := c.get(ctx, endpoint, query, &page); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return page.Participants, nil
}

// CloseConversation flips a conversation to the closed state.
func (c *Client) CloseConversation(ctx context.Context, conversationSid string) error {
	form := url.Values{}
	form.Set("State", "closed")

	endpoint := fmt.Sprintf("%s/v1/Conversations/%s", c.ConversationsBase, url.PathEscape(conversationSid))
	if err := c.postForm(ctx, endpoint, form, nil); err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}
	c.logger.Debug("conversation closed", zap.String("conversation_sid", conversationSid))
	return nil
}

// ListWorkspaces lists the account's TaskRouter workspaces.
func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var page workspacePage
	if err := c.get(ctx, c.TaskRouterBase+"/v1/Workspaces", nil, &page); err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return page.Workspaces, nil
}

// ListAssignedTasks lists workspace tasks in the given assignment statuses,
// up to limit.
func (c *Client) ListAssignedTasks(ctx context.Context, workspaceSid string, statuses []string, limit int) ([]Task, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("AssignmentStatus", status)
	}
	if limit > 0 {
		query.Set("PageSize", strconv.Itoa(limit))
	}

	endpoint := fmt.Sprintf("%s/v1/Workspaces/%s/Tasks", c.TaskRouterBase, url.PathEscape(workspaceSid))
	var page taskPage
	if err := c.get(ctx, endpoint, query, &page); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return page.Tasks, nil
}

// ListAcceptedReservations lists accepted reservations for a task.
func (c *Client) ListAcceptedReservations(ctx context.Context, workspaceSid, taskSid string, limit int) ([]Reservation, error) {
	query := url.Values{}
	query.Set("ReservationStatus", "accepted")
	if limit > 0 {
		query.Set("PageSize", strconv.Itoa(limit))
	}

	endpoint := fmt.Sprintf("%s/v1/Workspaces/%s/Tasks/%s/Reservations",
		c.TaskRouterBase, url.PathEscape(workspaceSid), url.PathEscape(taskSid))
	var page reservationPage
	if err := c.get(ctx, endpoint, query, &page); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return page.Reservations, nil
}

// FetchWorker fetches a single worker.
func (c *Client) FetchWorker(ctx context.Context, workspaceSid, workerSid string) (*Worker, error) {
	endpoint := fmt.Sprintf("%s/v1/Workspaces/%s/Workers/%s",
		c.TaskRouterBase, url.PathEscape(workspaceSid), url.PathEscape(workerSid))
	var worker Worker
	if err := c.get(ctx, endpoint, nil, &worker); err != nil {
		return nil, fmt.Errorf("fetch worker: %w", err)
	}
	return &worker, nil
}

// CompleteTask moves a task to completed with the given reason.
func (c *Client) CompleteTask(ctx context.Context, workspaceSid, taskSid, reason string) error {
	form := url.Values{}
	form.Set("AssignmentStatus", "completed")
	if reason != "" {
		form.Set("Reason", reason)
	}

	endpoint := fmt.Sprintf("%s/v1/Workspaces/%s/Tasks/%s",
		c.TaskRouterBase, url.PathEscape(workspaceSid), url.PathEscape(taskSid))
	if err := c.postForm(ctx, endpoint, form, nil); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	c.logger.Debug("task completed", zap.String("task_sid", taskSid), zap.String("reason", reason))
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	if len(query) > 0 {
		endpoint = endpoint + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	req.SetBasicAuth(c.accountSid, c.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("provider returned %d: %s (code %d)", resp.StatusCode, apiErr.Message, apiErr.Code)
	}
	return fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
