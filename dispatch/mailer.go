package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/badoux/checkmail"
	"gopkg.in/gomail.v2"

	"mailforge/models"
)

// Relays answer fast compared to generation webhooks; a hung relay should
// not stall the loop for minutes.
const defaultMailTimeout = 30 * time.Second

// Message is a composed email ready for delivery.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// MailClient delivers one composed message through a sender account. A
// failed send is not retried; the lead keeps its prior status so a future
// run can try again.
type MailClient interface {
	Send(ctx context.Context, account *models.SenderAccount, msg *Message) (string, error)
}

// validateAddresses rejects syntactically invalid recipient or sender
// addresses before any relay call is made.
func validateAddresses(account *models.SenderAccount, msg *Message) error {
	if err := checkmail.ValidateFormat(msg.To); err != nil {
		return &ValidationError{Message: fmt.Sprintf("invalid recipient address %q", msg.To)}
	}
	if err := checkmail.ValidateFormat(account.FromEmail); err != nil {
		return &ValidationError{Message: fmt.Sprintf("invalid sender address %q", account.FromEmail)}
	}
	return nil
}

// RelayMailClient sends through the HTTP mail relay service. The account's
// credential block is passed through opaquely; the relay performs the actual
// SMTP delivery.
type RelayMailClient struct {
	client   *http.Client
	relayURL string
	timeout  time.Duration
}

func NewRelayMailClient(relayURL string) *RelayMailClient {
	return &RelayMailClient{
		client:   &http.Client{},
		relayURL: relayURL,
		timeout:  defaultMailTimeout,
	}
}

type relayRequest struct {
	SMTP        relaySMTP        `json:"smtp"`
	MailOptions relayMailOptions `json:"mailOptions"`
}

type relaySMTP struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Encryption string `json:"encryption"`
	Label      string `json:"label"`
	FromEmail  string `json:"fromEmail"`
	FromName   string `json:"fromName,omitempty"`
}

type relayMailOptions struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	HTML    string `json:"html"`
}

func (m *RelayMailClient) Send(ctx context.Context, account *models.SenderAccount, msg *Message) (string, error) {
	if err := validateAddresses(account, msg); err != nil {
		return "", err
	}

	body, err := json.Marshal(relayRequest{
		SMTP: relaySMTP{
			Host:       account.SMTPHost,
			Port:       account.SMTPPort,
			Username:   account.SMTPUsername,
			Password:   account.SMTPPassword,
			Encryption: account.Encryption,
			Label:      account.Name,
			FromEmail:  account.FromEmail,
			FromName:   account.FromName,
		},
		MailOptions: relayMailOptions{
			To:      msg.To,
			Subject: msg.Subject,
			Body:    msg.TextBody,
			HTML:    msg.HTMLBody,
		},
	})
	if err != nil {
		return "", fmt.Errorf("encoding relay request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.relayURL, bytes.NewReader(body))
	if err != nil {
		return "", &NetworkError{URL: m.relayURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", classifyTransportError(err, m.relayURL, m.timeout)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{URL: m.relayURL, Err: err}
	}

	var parsed struct {
		MessageID string `json:"messageId"`
		Error     string `json:"error"`
		Message   string `json:"message"`
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = json.Unmarshal(data, &parsed)
		detail := parsed.Message
		if detail == "" {
			detail = truncate(string(data), 256)
		}
		return "", &HTTPStatusError{URL: m.relayURL, StatusCode: resp.StatusCode, Body: detail}
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decoding relay response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("mail relay rejected message: %s", parsed.Message)
	}
	return parsed.MessageID, nil
}

// SMTPMailClient delivers directly over SMTP using the account's own
// credentials. Used when no HTTP relay is configured.
type SMTPMailClient struct{}

func NewSMTPMailClient() *SMTPMailClient {
	return &SMTPMailClient{}
}

func (m *SMTPMailClient) Send(ctx context.Context, account *models.SenderAccount, msg *Message) (string, error) {
	if err := validateAddresses(account, msg); err != nil {
		return "", err
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", fmt.Sprintf("%s <%s>", account.FromName, account.FromEmail))
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.TextBody)
	if msg.HTMLBody != "" {
		gm.AddAlternative("text/html", msg.HTMLBody)
	}

	d := gomail.NewDialer(account.SMTPHost, account.SMTPPort, account.SMTPUsername, account.SMTPPassword)

	done := make(chan error, 1)
	go func() { done <- d.DialAndSend(gm) }()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send failed: %w", err)
		}
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(defaultMailTimeout):
		return "", &TimeoutError{URL: account.SMTPHost, Timeout: defaultMailTimeout}
	}

	// SMTP gives us no relay-assigned id; synthesize one for tracking.
	return fmt.Sprintf("%d.%d@%s", account.ID, time.Now().UnixNano(), account.SMTPHost), nil
}
