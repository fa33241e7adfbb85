package shopify

import "context"

// Webhook topics and formats used by this service.
const (
	TopicOrdersPaid   = "ORDERS_PAID"
	HeaderTopicPaid   = "orders/paid"
	WebhookFormatJSON = "JSON"
)

const webhookSubscriptionCreateMutation = `mutation webhookSubscriptionCreate($topic: WebhookSubscriptionTopic!, $webhookSubscription: WebhookSubscriptionInput!) {
  webhookSubscriptionCreate(topic: $topic, webhookSubscription: $webhookSubscription) {
    webhookSubscription { id }
    userErrors { field message }
  }
}`

// CreateWebhookSubscription subscribes callbackURL to topic and returns the subscription id.
func (c *Client) CreateWebhookSubscription(ctx context.Context, s Session, topic, callbackURL string) (string, error) {
	const op = "webhookSubscriptionCreate"
	if topic == "" || callbackURL == "" {
		return "", ErrInvalidInput
	}

	var out struct {
		Create struct {
			Subscription *struct {
				ID string `json:"id"`
			} `json:"webhookSubscription"`
			UserErrors []userErrorPayload `json:"userErrors"`
		} `json:"webhookSubscriptionCreate"`
	}
	vars := map[string]any{
		"topic": topic,
		"webhookSubscription": map[string]any{
			"callbackUrl": callbackURL,
			"format":      WebhookFormatJSON,
		},
	}
	if err := c.graphql(ctx, op, s, webhookSubscriptionCreateMutation, vars, &out); err != nil {
		return "", err
	}
	if err := firstUserError(op, out.Create.UserErrors); err != nil {
		return "", err
	}
	if out.Create.Subscription == nil || out.Create.Subscription.ID == "" {
		return "", ErrUnexpectedResponse
	}
	return out.Create.Subscription.ID, nil
}
