package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"roomservice-agent/internal/domain"
)

const (
	pkMenu       = "MENU"
	skPrefixItem = "ITEM#"
	skPrefixMsg  = "MSG#"
	skPrefixOrd  = "ORDER#"
	skMeta       = "META#"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Client wraps one DynamoDB table holding the menu ledger, conversation
// logs and order records in a single-table layout:
//
//	PK=MENU      SK=ITEM#<itemID>   menu item with optional stock counter
//	PK=CONV#<id> SK=META#           guest id, creation time, msgSeq counter
//	PK=CONV#<id> SK=MSG#<seq>       one conversation message
//	PK=CONV#<id> SK=ORDER#<orderID> one confirmed order
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK zero-pads the sequence number so lexicographic SK order is append
// order. Timestamps are kept as payload only; they are not an ordering key.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%012d", skPrefixMsg, seq)
}

// ListItems returns the full menu in stable item-key order.
func (c *Client) ListItems(ctx context.Context) ([]domain.MenuItem, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pkMenu},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixItem},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListItems query: %w", err)
	}

	items := make([]domain.MenuItem, 0, len(out.Items))
	for _, raw := range out.Items {
		item, err := itemToMenuItem(raw)
		if err != nil {
			return nil, fmt.Errorf("repository: ListItems unmarshal: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// GetItem loads one menu item by id.
func (c *Client) GetItem(ctx context.Context, id string) (domain.MenuItem, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkMenu},
			"SK": &types.AttributeValueMemberS{Value: skPrefixItem + id},
		},
	})
	if err != nil {
		return domain.MenuItem{}, fmt.Errorf("repository: GetItem: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.MenuItem{}, fmt.Errorf("repository: GetItem %q: %w", id, domain.ErrNotFound)
	}
	item, err := itemToMenuItem(out.Item)
	if err != nil {
		return domain.MenuItem{}, fmt.Errorf("repository: GetItem unmarshal: %w", err)
	}
	return item, nil
}

// DecrementStockIfPositive atomically takes one unit of tracked stock.
// It returns false without error when the item is untracked or already
// depleted, which callers treat as "fall back to substitutes".
func (c *Client) DecrementStockIfPositive(ctx context.Context, id string) (bool, error) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkMenu},
			"SK": &types.AttributeValueMemberS{Value: skPrefixItem + id},
		},
		UpdateExpression:    aws.String("SET stock = stock - :one"),
		ConditionExpression: aws.String("attribute_exists(stock) AND stock > :zero"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":  &types.AttributeValueMemberN{Value: "1"},
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return false, nil
		}
		return false, fmt.Errorf("repository: DecrementStockIfPositive: %w", err)
	}
	return true, nil
}

// RestoreStock returns one unit taken by DecrementStockIfPositive. A no-op
// for untracked items.
func (c *Client) RestoreStock(ctx context.Context, id string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkMenu},
			"SK": &types.AttributeValueMemberS{Value: skPrefixItem + id},
		},
		UpdateExpression:    aws.String("SET stock = stock + :one"),
		ConditionExpression: aws.String("attribute_exists(stock)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return nil
		}
		return fmt.Errorf("repository: RestoreStock: %w", err)
	}
	return nil
}

// FindSubstitutes returns up to limit available, in-stock items sharing at
// least one tag with the given tag set, excluding excludeID. Tag overlap is
// filtered client-side; DynamoDB cannot express set intersection in a key
// condition.
func (c *Client) FindSubstitutes(ctx context.Context, tags []string, excludeID string, limit int) ([]domain.MenuItem, error) {
	menu, err := c.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: FindSubstitutes: %w", err)
	}

	var subs []domain.MenuItem
	for _, item := range menu {
		if len(subs) >= limit {
			break
		}
		if item.ID == excludeID || !item.Available {
			continue
		}
		if !item.StockTracked() || *item.Stock <= 0 {
			continue
		}
		if sharesTag(item.Tags, tags) {
			subs = append(subs, item)
		}
	}
	return subs, nil
}

// GetOrCreate loads the conversation meta record, creating it if absent.
// The returned conversation carries no messages; Get loads the full log.
func (c *Client) GetOrCreate(ctx context.Context, conversationID, guestID string) (domain.Conversation, error) {
	conv, err := c.getMeta(ctx, conversationID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Conversation{}, err
	}

	created := domain.Conversation{
		ID:        conversationID,
		GuestID:   guestID,
		CreatedAt: time.Now().UTC(),
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                metaItem(created),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			// Lost the create race; the other writer's record wins.
			return c.getMeta(ctx, conversationID)
		}
		return domain.Conversation{}, fmt.Errorf("repository: GetOrCreate put: %w", err)
	}
	return created, nil
}

// AppendMessage allocates the next sequence number on the meta record and
// writes the message under it. The counter bump is atomic, so concurrent
// appends to one conversation serialize instead of colliding.
func (c *Client) AppendMessage(ctx context.Context, conversationID, role, text string) error {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:    aws.String("ADD msgSeq :one"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return fmt.Errorf("repository: AppendMessage %q: %w", conversationID, domain.ErrNotFound)
		}
		return fmt.Errorf("repository: AppendMessage allocate seq: %w", err)
	}
	seq, err := intAttr(out.Attributes, "msgSeq")
	if err != nil {
		return fmt.Errorf("repository: AppendMessage decode seq: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":   &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK":   &types.AttributeValueMemberS{Value: msgSK(seq)},
			"role": &types.AttributeValueMemberS{Value: role},
			"text": &types.AttributeValueMemberS{Value: text},
			"ts":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendMessage put: %w", err)
	}
	return nil
}

// Get loads a conversation and its full message log in append order.
func (c *Client) Get(ctx context.Context, conversationID string) (domain.Conversation, error) {
	conv, err := c.getMeta(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}

	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Get query messages: %w", err)
	}

	conv.Messages = make([]domain.Message, 0, len(out.Items))
	for _, raw := range out.Items {
		msg, err := itemToMessage(raw)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("repository: Get unmarshal message: %w", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, nil
}

// Insert writes a confirmed order under its conversation partition.
func (c *Client) Insert(ctx context.Context, order domain.Order, conversationID string) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":       &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK":       &types.AttributeValueMemberS{Value: skPrefixOrd + order.ID},
			"orderId":  &types.AttributeValueMemberS{Value: order.ID},
			"itemId":   &types.AttributeValueMemberS{Value: order.ItemID},
			"item":     &types.AttributeValueMemberS{Value: order.ItemName},
			"placedAt": &types.AttributeValueMemberS{Value: order.PlacedAt.Format(time.RFC3339Nano)},
			"status":   &types.AttributeValueMemberS{Value: order.Status},
		},
		ConditionExpression: aws.String("attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Insert order: %w", err)
	}
	return nil
}

func (c *Client) getMeta(ctx context.Context, conversationID string) (domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: get conversation meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, fmt.Errorf("repository: conversation %q: %w", conversationID, domain.ErrNotFound)
	}

	conv := domain.Conversation{ID: conversationID}
	conv.GuestID, _ = strAttr(out.Item, "guestId")
	if raw, err := strAttr(out.Item, "createdAt"); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			conv.CreatedAt = ts
		}
	}
	return conv, nil
}

func sharesTag(itemTags, wanted []string) bool {
	for _, t := range itemTags {
		for _, w := range wanted {
			if t == w {
				return true
			}
		}
	}
	return false
}

func metaItem(conv domain.Conversation) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: convPK(conv.ID)},
		"SK":        &types.AttributeValueMemberS{Value: skMeta},
		"guestId":   &types.AttributeValueMemberS{Value: conv.GuestID},
		"createdAt": &types.AttributeValueMemberS{Value: conv.CreatedAt.Format(time.RFC3339Nano)},
		"msgSeq":    &types.AttributeValueMemberN{Value: "0"},
	}
}

// MenuItemAttributes converts a menu item to its stored attribute map.
// Exposed for seeding tables from sample data.
func MenuItemAttributes(item domain.MenuItem) map[string]types.AttributeValue {
	tags := make([]types.AttributeValue, 0, len(item.Tags))
	for _, t := range item.Tags {
		tags = append(tags, &types.AttributeValueMemberS{Value: t})
	}
	attrs := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: pkMenu},
		"SK":        &types.AttributeValueMemberS{Value: skPrefixItem + item.ID},
		"itemId":    &types.AttributeValueMemberS{Value: item.ID},
		"name":      &types.AttributeValueMemberS{Value: item.Name},
		"price":     &types.AttributeValueMemberN{Value: strconv.FormatFloat(item.Price, 'f', -1, 64)},
		"available": &types.AttributeValueMemberBOOL{Value: item.Available},
		"tags":      &types.AttributeValueMemberL{Value: tags},
	}
	if item.Stock != nil {
		attrs["stock"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*item.Stock)}
	}
	return attrs
}

func itemToMenuItem(raw map[string]types.AttributeValue) (domain.MenuItem, error) {
	id, err := strAttr(raw, "itemId")
	if err != nil {
		return domain.MenuItem{}, err
	}
	name, err := strAttr(raw, "name")
	if err != nil {
		return domain.MenuItem{}, err
	}
	price, err := floatAttr(raw, "price")
	if err != nil {
		return domain.MenuItem{}, err
	}

	item := domain.MenuItem{ID: id, Name: name, Price: price}
	if v, ok := raw["available"]; ok {
		if b, ok := v.(*types.AttributeValueMemberBOOL); ok {
			item.Available = b.Value
		}
	}
	if v, ok := raw["tags"]; ok {
		if l, ok := v.(*types.AttributeValueMemberL); ok {
			for _, e := range l.Value {
				if s, ok := e.(*types.AttributeValueMemberS); ok {
					item.Tags = append(item.Tags, s.Value)
				}
			}
		}
	}
	if _, ok := raw["stock"]; ok {
		stock, err := intAttr(raw, "stock")
		if err != nil {
			return domain.MenuItem{}, err
		}
		item.Stock = &stock
	}
	return item, nil
}

func itemToMessage(raw map[string]types.AttributeValue) (domain.Message, error) {
	role, err := strAttr(raw, "role")
	if err != nil {
		return domain.Message{}, err
	}
	text, err := strAttr(raw, "text")
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{Role: role, Text: text}
	if rawTS, err := strAttr(raw, "ts"); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, rawTS); err == nil {
			msg.Timestamp = ts
		}
	}
	return msg, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func floatAttr(item map[string]types.AttributeValue, key string) (float64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
