/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"context"
	"fmt"
	"net/url"

	"github.com/slack-go/slack"
)

// SlackNotifier delivers messages to a single incoming webhook.
type SlackNotifier struct {
	webhookURL string
}

// NewSlackNotifier constructs a SlackNotifier for the given incoming
// webhook URL.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL}
}

func (n *SlackNotifier) Deliver(ctx context.Context, msg Message) error {
	if _, err := url.ParseRequestURI(n.webhookURL); err != nil {
		return fmt.Errorf("invalid slack webhook url: %w", err)
	}

	text := fmt.Sprintf("*%s*\n%s", msg.Subject, msg.Body)
	err := slack.PostWebhookContext(ctx, n.webhookURL, &slack.WebhookMessage{
		Text: text,
	})
	if err != nil {
		// Slack webhook failures (rate limiting, transient 5xx, network
		// blips) are always worth a retry; a malformed URL is caught
		// above before the request is even attempted.
		return retryable(fmt.Errorf("slack webhook delivery failed: %w", err))
	}
	return nil
}
