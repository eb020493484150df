package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ejjays/RN-chatapp/internal/apperr"
	"github.com/ejjays/RN-chatapp/internal/domain"
)

func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

type MongoRepository struct {
	client      *mongo.Client
	chatColl    *mongo.Collection
	msgColl     *mongo.Collection
	userColl    *mongo.Collection
	timeout     time.Duration
	appliedKeep int
}

func NewMongoRepository(ctx context.Context, client *mongo.Client, database string, timeout time.Duration) (*MongoRepository, error) {
	db := client.Database(database)
	r := &MongoRepository{
		client:      client,
		chatColl:    db.Collection("chats"),
		msgColl:     db.Collection("messages"),
		userColl:    db.Collection("users"),
		timeout:     timeout,
		appliedKeep: DefaultAppliedKeep,
	}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *MongoRepository) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.chatColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetName("pair_key_unique").SetUnique(true).
				SetPartialFilterExpression(bson.M{"pair_key": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "last_message_at", Value: -1}},
			Options: options.Index().SetName("participants_activity_idx"),
		},
	})
	if err != nil {
		return err
	}
	_, err = r.msgColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "seq", Value: -1}},
		Options: options.Index().SetName("chat_seq_idx"),
	})
	return err
}

func (r *MongoRepository) CreateChat(ctx context.Context, chat *domain.Chat) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	chat.Normalize()
	if _, err := r.chatColl.InsertOne(ctx, chat); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Wrap(apperr.ErrConcurrentCreateConflict, "create chat", err)
		}
		return apperr.Storage("create chat", err)
	}
	return nil
}

func (r *MongoRepository) findChat(ctx context.Context, op string, filter bson.M) (*domain.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var c domain.Chat
	if err := r.chatColl.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound(op, "%v", filter)
		}
		return nil, apperr.Storage(op, err)
	}
	c.Normalize()
	return &c, nil
}

func (r *MongoRepository) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	return r.findChat(ctx, "get chat", bson.M{"_id": chatID})
}

func (r *MongoRepository) FindChatByPair(ctx context.Context, pairKey string) (*domain.Chat, error) {
	return r.findChat(ctx, "find chat by pair", bson.M{"pair_key": pairKey})
}

func (r *MongoRepository) ListChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "created_at", Value: -1}})
	cur, err := r.chatColl.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, apperr.Storage("list chats", err)
	}
	defer cur.Close(ctx)

	out := []domain.Chat{}
	for cur.Next(ctx) {
		var c domain.Chat
		if err := cur.Decode(&c); err != nil {
			return nil, apperr.Storage("list chats", err)
		}
		c.Normalize()
		out = append(out, c)
	}
	if err := cur.Err(); err != nil {
		return nil, apperr.Storage("list chats", err)
	}
	return out, nil
}

func (r *MongoRepository) AllocateSeq(ctx context.Context, chatID, senderID string, now time.Time) (*Allocation, error) {
	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "next_seq", Value: bson.D{{Key: "$add", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$next_seq", 0}}}, 1}}}},
			{Key: "clock", Value: bson.D{{Key: "$max", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$clock", now}}}, now}}}},
		}}},
	}
	res := r.chatColl.FindOneAndUpdate(tctx,
		bson.M{"_id": chatID, "participants": senderID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var c domain.Chat
	if err := res.Decode(&c); err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.Storage("allocate seq", err)
		}
		if _, gerr := r.GetChat(ctx, chatID); gerr != nil {
			return nil, gerr
		}
		return nil, apperr.NotParticipant("allocate seq", senderID, chatID)
	}
	return &Allocation{Seq: c.NextSeq, SentAt: c.Clock, Participants: c.ParticipantIDs}, nil
}

func (r *MongoRepository) SaveMessage(ctx context.Context, m *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	_, err := r.msgColl.UpdateOne(ctx, bson.M{"_id": m.ID}, bson.M{"$setOnInsert": m}, options.Update().SetUpsert(true))
	return apperr.Storage("save message", err)
}

func (r *MongoRepository) GetMessage(ctx context.Context, chatID, messageID string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var m domain.Message
	if err := r.msgColl.FindOne(ctx, bson.M{"_id": messageID, "chat_id": chatID}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("get message", "message %s", messageID)
		}
		return nil, apperr.Storage("get message", err)
	}
	if err := m.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.ErrInternal, "get message", err)
	}
	return &m, nil
}

func (r *MongoRepository) ListMessages(ctx context.Context, chatID string, limit int, beforeSeq int64) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	filter := bson.M{"chat_id": chatID}
	if beforeSeq > 0 {
		filter["seq"] = bson.M{"$lt": beforeSeq}
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}}).SetLimit(int64(limit))
	cur, err := r.msgColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Storage("list messages", err)
	}
	defer cur.Close(ctx)

	out := []domain.Message{}
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, apperr.Storage("list messages", err)
		}
		if err := m.Validate(); err != nil {
			return nil, apperr.Wrap(apperr.ErrInternal, "list messages", err)
		}
		if m.ReadBy == nil {
			m.ReadBy = []string{}
		}
		out = append(out, m)
	}
	if err := cur.Err(); err != nil {
		return nil, apperr.Storage("list messages", err)
	}
	return out, nil
}

func (r *MongoRepository) ApplyMessageEffects(ctx context.Context, m *domain.Message, recipients []string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	readBy := m.ReadBy
	var stored struct {
		ReadBy []string `bson:"read_by"`
	}
	err := r.msgColl.FindOne(ctx, bson.M{"_id": m.ID}, options.FindOne().SetProjection(bson.M{"read_by": 1})).Decode(&stored)
	switch {
	case err == nil:
		readBy = stored.ReadBy
	case !errors.Is(err, mongo.ErrNoDocuments):
		return apperr.Storage("apply effects", err)
	}

	inc := bson.M{}
	for _, u := range unreadRecipients(recipients, readBy) {
		inc["unread."+u] = 1
	}
	counters := bson.M{
		"$push": bson.M{"applied_ids": bson.M{"$each": bson.A{m.ID}, "$slice": -r.appliedKeep}},
	}
	if len(inc) > 0 {
		counters["$inc"] = inc
	}
	if _, err := r.chatColl.UpdateOne(ctx, bson.M{"_id": m.ChatID, "applied_ids": bson.M{"$ne": m.ID}}, counters); err != nil {
		return apperr.Storage("apply effects", err)
	}

	summary := bson.M{"$set": bson.M{
		"last_message":    m.Summary(),
		"last_message_at": m.SentAt,
		"last_seq":        m.Seq,
	}}
	if _, err := r.chatColl.UpdateOne(ctx, bson.M{"_id": m.ChatID, "last_seq": bson.M{"$lt": m.Seq}}, summary); err != nil {
		return apperr.Storage("apply effects", err)
	}
	return nil
}

func (r *MongoRepository) MarkChatRead(ctx context.Context, chatID, userID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.msgColl.UpdateMany(ctx,
		bson.M{"chat_id": chatID, "read_by": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"read_by": userID}},
	)
	if err != nil {
		return 0, apperr.Storage("mark read", err)
	}
	if _, err := r.chatColl.UpdateByID(ctx, chatID, bson.M{"$set": bson.M{"unread." + userID: 0}}); err != nil {
		return 0, apperr.Storage("mark read", err)
	}
	return int(res.ModifiedCount), nil
}

func (r *MongoRepository) UpsertUser(ctx context.Context, u *domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	update := bson.M{
		"$set": bson.M{
			"display_name": u.DisplayName,
			"photo_url":    u.PhotoURL,
			"email":        u.Email,
			"is_online":    u.IsOnline,
			"last_seen":    u.LastSeen,
		},
		"$setOnInsert": bson.M{"created_at": created},
	}
	_, err := r.userColl.UpdateByID(ctx, u.ID, update, options.Update().SetUpsert(true))
	return apperr.Storage("upsert user", err)
}

func (r *MongoRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var u domain.User
	if err := r.userColl.FindOne(ctx, bson.M{"_id": userID}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("get user", "user %s", userID)
		}
		return nil, apperr.Storage("get user", err)
	}
	return &u, nil
}

func (r *MongoRepository) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "display_name", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.userColl.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, apperr.Storage("list users", err)
	}
	defer cur.Close(ctx)
	out := []domain.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, apperr.Storage("list users", err)
	}
	return out, nil
}

func (r *MongoRepository) SetUserOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, err := r.userColl.UpdateByID(ctx, userID, bson.M{"$set": bson.M{"is_online": online, "last_seen": at}})
	if err != nil {
		return apperr.Storage("set online", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("set online", "user %s", userID)
	}
	return nil
}

func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// SetAppliedKeep bounds the per-chat applied message id window. Call it
// before serving traffic.
func (r *MongoRepository) SetAppliedKeep(n int) {
	if n > 0 {
		r.appliedKeep = n
	}
}
