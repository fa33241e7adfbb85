package shopify

import (
	"context"
	"time"
)

// PriceRule is the input of priceRuleCreate.
type PriceRule struct {
	Title             string
	ValueType         string // PERCENTAGE | FIXED_AMOUNT
	Value             string // negative decimal, e.g. "-10"
	CustomerSelection string
	TargetType        string
	TargetSelection   string
	AllocationMethod  string
	StartsAt          time.Time
}

const priceRuleCreateMutation = `mutation priceRuleCreate($priceRule: PriceRuleInput!) {
  priceRuleCreate(priceRule: $priceRule) {
    priceRule { id }
    userErrors { field message }
  }
}`

const discountCodeCreateMutation = `mutation priceRuleDiscountCodeCreate($priceRuleId: ID!, $code: String!) {
  priceRuleDiscountCodeCreate(priceRuleId: $priceRuleId, code: $code) {
    priceRuleDiscountCode { id code }
    userErrors { field message }
  }
}`

const priceRuleDeleteMutation = `mutation priceRuleDelete($id: ID!) {
  priceRuleDelete(id: $id) {
    deletedPriceRuleId
    userErrors { field message }
  }
}`

// CreateDiscountRule creates a price rule and returns its global id.
func (c *Client) CreateDiscountRule(ctx context.Context, s Session, rule PriceRule) (string, error) {
	const op = "priceRuleCreate"
	if rule.Title == "" || rule.Value == "" {
		return "", ErrInvalidInput
	}
	startsAt := rule.StartsAt
	if startsAt.IsZero() {
		startsAt = time.Now()
	}

	vars := map[string]any{
		"priceRule": map[string]any{
			"title":             rule.Title,
			"valueType":         rule.ValueType,
			"value":             rule.Value,
			"customerSelection": rule.CustomerSelection,
			"targetType":        rule.TargetType,
			"targetSelection":   rule.TargetSelection,
			"allocationMethod":  rule.AllocationMethod,
			"startsAt":          startsAt.UTC().Format(time.RFC3339),
		},
	}

	var out struct {
		PriceRuleCreate struct {
			PriceRule *struct {
				ID string `json:"id"`
			} `json:"priceRule"`
			UserErrors []userErrorPayload `json:"userErrors"`
		} `json:"priceRuleCreate"`
	}
	if err := c.graphql(ctx, op, s, priceRuleCreateMutation, vars, &out); err != nil {
		return "", err
	}
	if err := firstUserError(op, out.PriceRuleCreate.UserErrors); err != nil {
		return "", err
	}
	if out.PriceRuleCreate.PriceRule == nil || out.PriceRuleCreate.PriceRule.ID == "" {
		return "", ErrUnexpectedResponse
	}
	return out.PriceRuleCreate.PriceRule.ID, nil
}

// CreateDiscountCode attaches code to an existing price rule.
func (c *Client) CreateDiscountCode(ctx context.Context, s Session, priceRuleID, code string) (string, error) {
	const op = "priceRuleDiscountCodeCreate"
	if priceRuleID == "" || code == "" {
		return "", ErrInvalidInput
	}

	var out struct {
		Create struct {
			Code *struct {
				ID   string `json:"id"`
				Code string `json:"code"`
			} `json:"priceRuleDiscountCode"`
			UserErrors []userErrorPayload `json:"userErrors"`
		} `json:"priceRuleDiscountCodeCreate"`
	}
	vars := map[string]any{"priceRuleId": priceRuleID, "code": code}
	if err := c.graphql(ctx, op, s, discountCodeCreateMutation, vars, &out); err != nil {
		return "", err
	}
	if err := firstUserError(op, out.Create.UserErrors); err != nil {
		return "", err
	}
	if out.Create.Code == nil || out.Create.Code.ID == "" {
		return "", ErrUnexpectedResponse
	}
	return out.Create.Code.ID, nil
}

// DeleteDiscountRule removes a price rule together with its codes.
func (c *Client) DeleteDiscountRule(ctx context.Context, s Session, priceRuleID string) error {
	const op = "priceRuleDelete"
	if priceRuleID == "" {
		return ErrInvalidInput
	}

	var out struct {
		Delete struct {
			DeletedID  *string            `json:"deletedPriceRuleId"`
			UserErrors []userErrorPayload `json:"userErrors"`
		} `json:"priceRuleDelete"`
	}
	if err := c.graphql(ctx, op, s, priceRuleDeleteMutation, map[string]any{"id": priceRuleID}, &out); err != nil {
		return err
	}
	return firstUserError(op, out.Delete.UserErrors)
}
