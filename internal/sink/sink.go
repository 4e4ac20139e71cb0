// Package sink posts transaction outcomes to an operator webhook.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"
)

const defaultTemplate = "{{.Operation}} {{.Status}} {{.Hash}}"

// Outcome is the data passed to sinks after a contract operation finishes.
type Outcome struct {
	Operation  string
	Status     string
	Hash       string
	CampaignID uint32
	Value      string
	Detail     string
	At         time.Time
}

type Sender interface {
	Send(ctx context.Context, outcome Outcome) error
}

// Options tunes a Webhook. Zero values select POST, the default
// template, a JSON content type and an 8s client.
type Options struct {
	Method   string
	Template string
	Headers  map[string]string
	Client   *http.Client
}

// Webhook posts a JSON document with the rendered text and the outcome fields.
type Webhook struct {
	url     string
	method  string
	text    *template.Template
	headers map[string]string
	client  *http.Client
}

type payload struct {
	Text       string `json:"text"`
	Operation  string `json:"operation"`
	Status     string `json:"status"`
	Hash       string `json:"hash,omitempty"`
	CampaignID uint32 `json:"campaign_id,omitempty"`
	Value      string `json:"value,omitempty"`
	Detail     string `json:"detail,omitempty"`
	At         string `json:"at,omitempty"`
}

func NewWebhook(url string, opts Options) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	text, err := parseTemplate(opts.Template)
	if err != nil {
		return nil, err
	}
	w := &Webhook{
		url:     url,
		method:  strings.ToUpper(opts.Method),
		text:    text,
		headers: opts.Headers,
		client:  opts.Client,
	}
	if w.method == "" {
		w.method = http.MethodPost
	}
	if w.headers == nil {
		w.headers = map[string]string{"Content-Type": "application/json"}
	}
	if w.client == nil {
		w.client = &http.Client{Timeout: 8 * time.Second}
	}
	return w, nil
}

func (w *Webhook) Send(ctx context.Context, o Outcome) error {
	var text bytes.Buffer
	if err := w.text.Execute(&text, o); err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	body := payload{
		Text:       text.String(),
		Operation:  o.Operation,
		Status:     o.Status,
		Hash:       o.Hash,
		CampaignID: o.CampaignID,
		Value:      o.Value,
		Detail:     o.Detail,
	}
	if !o.At.IsZero() {
		body.At = o.At.UTC().Format(time.RFC3339)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.method, w.url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s outcome: %w", o.Operation, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func parseTemplate(tmpl string) (*template.Template, error) {
	if tmpl == "" {
		tmpl = defaultTemplate
	}
	t, err := template.New("outcome").Funcs(template.FuncMap{
		"short": shorten,
		"upper": strings.ToUpper,
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return t, nil
}

// shorten keeps the head and tail of long hashes and strkeys.
func shorten(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}
