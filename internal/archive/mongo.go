package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	DefaultDatabase       = "ai_orchestration"
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxPoolSize    = 50

	conversationsCollection  = "conversations"
	agentResponsesCollection = "agent_responses"
	casesCollection          = "cases"
)

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

type Mongo struct {
	client         *mongo.Client
	conversations  *mongo.Collection
	agentResponses *mongo.Collection
	cases          *mongo.Collection
	logger         *slog.Logger
}

// Connect dials MongoDB, verifies the connection and ensures the indexes exist.
func Connect(ctx context.Context, cfg MongoConfig, logger *slog.Logger) (*Mongo, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("mongo uri is required")
	}
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = slog.Default()
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, clientOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	database := client.Database(cfg.Database)
	archive := &Mongo{
		client:         client,
		conversations:  database.Collection(conversationsCollection),
		agentResponses: database.Collection(agentResponsesCollection),
		cases:          database.Collection(casesCollection),
		logger:         logger,
	}
	if err := archive.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	logger.Info("mongo archive connected", "database", cfg.Database)
	return archive, nil
}

func withDefaults(cfg MongoConfig) MongoConfig {
	if strings.TrimSpace(cfg.Database) == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = DefaultMaxPoolSize
	}
	return cfg
}

func clientOptions(cfg MongoConfig) *options.ClientOptions {
	return options.Client().
		ApplyURI(cfg.URI).
		SetAppName("agent-orchestrator").
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout).
		SetRetryWrites(true).
		SetRetryReads(true)
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	if _, err := m.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_message", Value: "text"}, {Key: "bot_response", Value: "text"}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "timestamp", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("create conversation indexes: %w", err)
	}
	if _, err := m.agentResponses.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}},
	}); err != nil {
		return fmt.Errorf("create agent response indexes: %w", err)
	}
	if _, err := m.cases.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "timestamp", Value: -1}},
	}); err != nil {
		return fmt.Errorf("create case indexes: %w", err)
	}
	return nil
}

func (m *Mongo) SaveConversation(ctx context.Context, conversation Conversation) (string, error) {
	if conversation.Timestamp.IsZero() {
		conversation.Timestamp = time.Now().UTC()
	}
	result, err := m.conversations.InsertOne(ctx, conversation)
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return insertedID(result), nil
}

func (m *Mongo) SaveAgentResponse(ctx context.Context, response AgentResponse) (string, error) {
	if response.Timestamp.IsZero() {
		response.Timestamp = time.Now().UTC()
	}
	result, err := m.agentResponses.InsertOne(ctx, response)
	if err != nil {
		return "", fmt.Errorf("insert agent response: %w", err)
	}
	return insertedID(result), nil
}

func (m *Mongo) SaveCase(ctx context.Context, record Case) (string, error) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if strings.TrimSpace(record.Status) == "" {
		record.Status = "open"
	}
	result, err := m.cases.InsertOne(ctx, record)
	if err != nil {
		return "", fmt.Errorf("insert case: %w", err)
	}
	return insertedID(result), nil
}

// FindRelevant runs a full-text search over the tenant's conversations, best match first.
func (m *Mongo) FindRelevant(ctx context.Context, tenantID, query string, limit int) ([]Conversation, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	findOptions := options.Find().
		SetProjection(bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}}}).
		SetSort(bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}}}).
		SetLimit(int64(clampLimit(limit, 5)))
	return m.findConversations(ctx, textSearchFilter(tenantID, query), findOptions)
}

func (m *Mongo) RecentConversations(ctx context.Context, tenantID string, limit int) ([]Conversation, error) {
	findOptions := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(clampLimit(limit, 10)))
	return m.findConversations(ctx, bson.D{{Key: "tenant_id", Value: tenantID}}, findOptions)
}

func (m *Mongo) findConversations(ctx context.Context, filter bson.D, findOptions *options.FindOptions) ([]Conversation, error) {
	cursor, err := m.conversations.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var conversations []Conversation
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return conversations, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func textSearchFilter(tenantID, query string) bson.D {
	return bson.D{
		{Key: "tenant_id", Value: tenantID},
		{Key: "$text", Value: bson.D{{Key: "$search", Value: query}}},
	}
}

func insertedID(result *mongo.InsertOneResult) string {
	if result == nil {
		return ""
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(result.InsertedID)
}

func clampLimit(limit, fallback int) int {
	if limit < 1 {
		return fallback
	}
	if limit > 100 {
		return 100
	}
	return limit
}
