package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ejjays/RN-chatapp/internal/apperr"
	"github.com/ejjays/RN-chatapp/internal/domain"
)

const (
	firestoreChatCollection    = "chats"
	firestorePairCollection    = "chat_pairs"
	firestoreMessageCollection = "messages"
	firestoreUserCollection    = "users"
)

type firestorePair struct {
	ChatID string `firestore:"chatId"`
}

// FirestoreRepository stores chats at chats/{id}, messages at
// chats/{id}/messages/{msgId} and users at users/{uid}. 1:1 uniqueness is
// held by chat_pairs/{pairKey}, created in the same transaction as the chat.
type FirestoreRepository struct {
	client      *firestore.Client
	timeout     time.Duration
	appliedKeep int
}

func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	return firestore.NewClient(ctx, projectID)
}

func NewFirestoreRepository(client *firestore.Client, timeout time.Duration) *FirestoreRepository {
	return &FirestoreRepository{client: client, timeout: timeout, appliedKeep: DefaultAppliedKeep}
}

func (r *FirestoreRepository) chats() *firestore.CollectionRef {
	return r.client.Collection(firestoreChatCollection)
}

func (r *FirestoreRepository) messages(chatID string) *firestore.CollectionRef {
	return r.chats().Doc(chatID).Collection(firestoreMessageCollection)
}

func (r *FirestoreRepository) users() *firestore.CollectionRef {
	return r.client.Collection(firestoreUserCollection)
}

func isCode(err error, c codes.Code) bool {
	return status.Code(err) == c
}

func decodeChat(snap *firestore.DocumentSnapshot) (*domain.Chat, error) {
	var c domain.Chat
	if err := snap.DataTo(&c); err != nil {
		return nil, err
	}
	c.ID = snap.Ref.ID
	c.Normalize()
	return &c, nil
}

func decodeMessage(snap *firestore.DocumentSnapshot) (*domain.Message, error) {
	var m domain.Message
	if err := snap.DataTo(&m); err != nil {
		return nil, err
	}
	m.ID = snap.Ref.ID
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	if err := m.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.ErrInternal, "decode message", err)
	}
	return &m, nil
}

func (r *FirestoreRepository) CreateChat(ctx context.Context, chat *domain.Chat) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	chat.Normalize()

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if chat.PairKey != "" {
			pairRef := r.client.Collection(firestorePairCollection).Doc(chat.PairKey)
			if err := tx.Create(pairRef, firestorePair{ChatID: chat.ID}); err != nil {
				return err
			}
		}
		return tx.Create(r.chats().Doc(chat.ID), chat)
	})
	if isCode(err, codes.AlreadyExists) {
		return apperr.Wrap(apperr.ErrConcurrentCreateConflict, "create chat", err)
	}
	return apperr.Storage("create chat", err)
}

func (r *FirestoreRepository) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	snap, err := r.chats().Doc(chatID).Get(ctx)
	if err != nil {
		if isCode(err, codes.NotFound) {
			return nil, apperr.NotFound("get chat", "chat %s", chatID)
		}
		return nil, apperr.Storage("get chat", err)
	}
	c, err := decodeChat(snap)
	if err != nil {
		return nil, apperr.Storage("get chat", err)
	}
	return c, nil
}

func (r *FirestoreRepository) FindChatByPair(ctx context.Context, pairKey string) (*domain.Chat, error) {
	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	snap, err := r.client.Collection(firestorePairCollection).Doc(pairKey).Get(tctx)
	if err != nil {
		if isCode(err, codes.NotFound) {
			return nil, apperr.NotFound("find chat by pair", "pair %s", pairKey)
		}
		return nil, apperr.Storage("find chat by pair", err)
	}
	var p firestorePair
	if err := snap.DataTo(&p); err != nil {
		return nil, apperr.Storage("find chat by pair", err)
	}
	return r.GetChat(ctx, p.ChatID)
}

func (r *FirestoreRepository) ListChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	snaps, err := r.chats().Where("participants", "array-contains", userID).Documents(ctx).GetAll()
	if err != nil {
		return nil, apperr.Storage("list chats", err)
	}
	out := make([]domain.Chat, 0, len(snaps))
	for _, snap := range snaps {
		c, err := decodeChat(snap)
		if err != nil {
			return nil, apperr.Storage("list chats", err)
		}
		out = append(out, *c)
	}
	// sorted here to avoid a composite index on participants+lastMessageAt
	domain.SortByActivity(out)
	return out, nil
}

func (r *FirestoreRepository) AllocateSeq(ctx context.Context, chatID, senderID string, now time.Time) (*Allocation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var alloc *Allocation
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := r.chats().Doc(chatID)
		snap, err := tx.Get(ref)
		if err != nil {
			if isCode(err, codes.NotFound) {
				return apperr.NotFound("allocate seq", "chat %s", chatID)
			}
			return err
		}
		c, err := decodeChat(snap)
		if err != nil {
			return err
		}
		if !c.HasParticipant(senderID) {
			return apperr.NotParticipant("allocate seq", senderID, chatID)
		}
		seq := c.NextSeq + 1
		clock := c.Clock
		if now.After(clock) {
			clock = now
		}
		alloc = &Allocation{Seq: seq, SentAt: clock, Participants: c.ParticipantIDs}
		return tx.Update(ref, []firestore.Update{
			{Path: "nextSeq", Value: seq},
			{Path: "clock", Value: clock},
		})
	})
	if err != nil {
		return nil, apperr.Storage("allocate seq", err)
	}
	return alloc, nil
}

func (r *FirestoreRepository) SaveMessage(ctx context.Context, m *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	_, err := r.messages(m.ChatID).Doc(m.ID).Create(ctx, m)
	if isCode(err, codes.AlreadyExists) {
		return nil
	}
	return apperr.Storage("save message", err)
}

func (r *FirestoreRepository) GetMessage(ctx context.Context, chatID, messageID string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	snap, err := r.messages(chatID).Doc(messageID).Get(ctx)
	if err != nil {
		if isCode(err, codes.NotFound) {
			return nil, apperr.NotFound("get message", "message %s", messageID)
		}
		return nil, apperr.Storage("get message", err)
	}
	m, err := decodeMessage(snap)
	if err != nil {
		return nil, apperr.Storage("get message", err)
	}
	return m, nil
}

func (r *FirestoreRepository) ListMessages(ctx context.Context, chatID string, limit int, beforeSeq int64) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	q := r.messages(chatID).OrderBy("seq", firestore.Desc)
	if beforeSeq > 0 {
		q = q.Where("seq", "<", beforeSeq)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, apperr.Storage("list messages", err)
	}
	out := make([]domain.Message, 0, len(snaps))
	for _, snap := range snaps {
		m, err := decodeMessage(snap)
		if err != nil {
			return nil, apperr.Storage("list messages", err)
		}
		out = append(out, *m)
	}
	return out, nil
}

func (r *FirestoreRepository) ApplyMessageEffects(ctx context.Context, m *domain.Message, recipients []string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := r.chats().Doc(m.ChatID)
		snap, err := tx.Get(ref)
		if err != nil {
			if isCode(err, codes.NotFound) {
				return apperr.NotFound("apply effects", "chat %s", m.ChatID)
			}
			return err
		}
		c, err := decodeChat(snap)
		if err != nil {
			return err
		}
		// reading the message puts it in the read set, so a concurrent
		// MarkChatRead forces this transaction to retry
		readBy := m.ReadBy
		msnap, err := tx.Get(r.messages(m.ChatID).Doc(m.ID))
		switch {
		case err == nil:
			var stored domain.Message
			if err := msnap.DataTo(&stored); err != nil {
				return err
			}
			readBy = stored.ReadBy
		case !isCode(err, codes.NotFound):
			return err
		}

		var updates []firestore.Update
		if !containsString(c.AppliedIDs, m.ID) {
			for _, u := range unreadRecipients(recipients, readBy) {
				updates = append(updates, firestore.Update{
					FieldPath: firestore.FieldPath{"unreadCount", u},
					Value:     firestore.Increment(1),
				})
			}
			updates = append(updates, firestore.Update{
				Path:  "appliedIds",
				Value: trimApplied(append(c.AppliedIDs, m.ID), r.appliedKeep),
			})
		}
		if m.Seq > c.LastSeq {
			updates = append(updates,
				firestore.Update{Path: "lastMessage", Value: m.Summary()},
				firestore.Update{Path: "lastMessageAt", Value: m.SentAt},
				firestore.Update{Path: "lastSeq", Value: m.Seq},
			)
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Update(ref, updates)
	})
	return apperr.Storage("apply effects", err)
}

func (r *FirestoreRepository) MarkChatRead(ctx context.Context, chatID, userID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	snaps, err := r.messages(chatID).Documents(ctx).GetAll()
	if err != nil {
		return 0, apperr.Storage("mark read", err)
	}

	bw := r.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for _, snap := range snaps {
		var m domain.Message
		if err := snap.DataTo(&m); err != nil {
			return 0, apperr.Storage("mark read", err)
		}
		if m.IsReadBy(userID) {
			continue
		}
		job, err := bw.Update(snap.Ref, []firestore.Update{{Path: "readBy", Value: firestore.ArrayUnion(userID)}})
		if err != nil {
			bw.End()
			return 0, apperr.Storage("mark read", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return 0, apperr.Storage("mark read", err)
		}
	}

	_, err = r.chats().Doc(chatID).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"unreadCount", userID}, Value: 0},
	})
	if err != nil {
		return 0, apperr.Storage("mark read", err)
	}
	return len(jobs), nil
}

func (r *FirestoreRepository) UpsertUser(ctx context.Context, u *domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data := map[string]interface{}{
		"displayName": u.DisplayName,
		"photoURL":    u.PhotoURL,
		"email":       u.Email,
		"isOnline":    u.IsOnline,
		"lastSeen":    u.LastSeen,
	}
	if !u.CreatedAt.IsZero() {
		data["createdAt"] = u.CreatedAt
	}
	_, err := r.users().Doc(u.ID).Set(ctx, data, firestore.MergeAll)
	return apperr.Storage("upsert user", err)
}

func (r *FirestoreRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	snap, err := r.users().Doc(userID).Get(ctx)
	if err != nil {
		if isCode(err, codes.NotFound) {
			return nil, apperr.NotFound("get user", "user %s", userID)
		}
		return nil, apperr.Storage("get user", err)
	}
	var u domain.User
	if err := snap.DataTo(&u); err != nil {
		return nil, apperr.Storage("get user", err)
	}
	u.ID = snap.Ref.ID
	return &u, nil
}

func (r *FirestoreRepository) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	snaps, err := r.users().Documents(ctx).GetAll()
	if err != nil {
		return nil, apperr.Storage("list users", err)
	}
	out := make([]domain.User, 0, len(snaps))
	for _, snap := range snaps {
		var u domain.User
		if err := snap.DataTo(&u); err != nil {
			return nil, apperr.Storage("list users", err)
		}
		u.ID = snap.Ref.ID
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *FirestoreRepository) SetUserOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.users().Doc(userID).Update(ctx, []firestore.Update{
		{Path: "isOnline", Value: online},
		{Path: "lastSeen", Value: at},
	})
	if isCode(err, codes.NotFound) {
		return apperr.NotFound("set online", "user %s", userID)
	}
	return apperr.Storage("set online", err)
}

func (r *FirestoreRepository) Close(context.Context) error {
	return r.client.Close()
}

// SetAppliedKeep bounds the per-chat applied message id window. Call it
// before serving traffic.
func (r *FirestoreRepository) SetAppliedKeep(n int) {
	if n > 0 {
		r.appliedKeep = n
	}
}
