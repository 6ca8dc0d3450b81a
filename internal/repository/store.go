package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kpmajid/chat-app/internal/apperr"
	"github.com/kpmajid/chat-app/internal/models"
)

const (
	collUsers         = "users"
	collConversations = "conversations"
	collGroups        = "groups"
	collMessages      = "messages"
)

// Store is the durable persistence boundary. Every method that returns
// message or conversation data returns populated projections with redaction
// already applied; raw documents never leave this package.
type Store interface {
	EnsureUser(ctx context.Context, userID, username, avatar string) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	ListUsersExcept(ctx context.Context, userID string) ([]models.UserView, error)
	SetOnline(ctx context.Context, userID string, online bool) error

	FindOrCreateDirect(ctx context.Context, userA, userB string) (*models.ConversationView, error)
	CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*models.ConversationView, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]*models.ConversationView, error)
	ContactIDs(ctx context.Context, userID string) ([]string, error)

	AppendMessage(ctx context.Context, convID, senderID, content string) (*AppendResult, error)
	EditMessage(ctx context.Context, msgID, requesterID, content string) (*EditResult, error)
	SoftDeleteMessage(ctx context.Context, msgID, requesterID string) (*DeleteResult, error)
	MarkRead(ctx context.Context, convID, userID string) error
	ListMessages(ctx context.Context, convID, requesterID string, limit, offset int) (*MessagePage, error)
}

type AppendResult struct {
	Message      *models.MessageView
	Conversation *models.ConversationView
}

type EditResult struct {
	Message        *models.MessageView
	ConversationID string
	Recipients     []string // participants other than the editor
}

type DeleteResult struct {
	MessageID      string
	ConversationID string
	DeletedAt      time.Time
	Recipients     []string
}

type MessagePage struct {
	Messages []*models.MessageView `json:"messages"`
	Total    int64                 `json:"total"`
	Limit    int                   `json:"limit"`
	Offset   int                   `json:"offset"`
	HasMore  bool                  `json:"has_more"`
}

type MongoStore struct {
	users         *mongo.Collection
	conversations *mongo.Collection
	groups        *mongo.Collection
	messages      *mongo.Collection
}

func NewMongoStore(db *mongo.Database) (*MongoStore, error) {
	if err := ensureIndexes(context.Background(), db); err != nil {
		return nil, err
	}
	return &MongoStore{
		users:         db.Collection(collUsers),
		conversations: db.Collection(collConversations),
		groups:        db.Collection(collGroups),
		messages:      db.Collection(collMessages),
	}, nil
}

func parseID(hex, what string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, apperr.Newf(apperr.CodeInvalidArgument, "invalid %s format", what)
	}
	return id, nil
}

// pairKey builds the canonical key for a direct conversation: both hexes
// sorted so (A,B) and (B,A) land on the same document.
func pairKey(a, b primitive.ObjectID) string {
	ha, hb := a.Hex(), b.Hex()
	if ha > hb {
		ha, hb = hb, ha
	}
	return ha + ":" + hb
}

// --- users ---

func (s *MongoStore) EnsureUser(ctx context.Context, userID, username, avatar string) error {
	id, err := parseID(userID, "user ID")
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	set := bson.M{"updated_at": now}
	if username != "" {
		set["username"] = username
	}
	if avatar != "" {
		set["avatar"] = avatar
	}
	_, err = s.users.UpdateByID(ctx, id,
		bson.M{"$set": set, "$setOnInsert": bson.M{"created_at": now, "online": false}},
		options.Update().SetUpsert(true))
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "upsert user", err)
	}
	return nil
}

func (s *MongoStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	id, err := parseID(userID, "user ID")
	if err != nil {
		return nil, err
	}
	var u models.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.New(apperr.CodeNotFound, "user not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "find user", err)
	}
	return &u, nil
}

func (s *MongoStore) ListUsersExcept(ctx context.Context, userID string) ([]models.UserView, error) {
	id, err := parseID(userID, "user ID")
	if err != nil {
		return nil, err
	}
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$ne": id}},
		options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "list users", err)
	}
	defer cur.Close(ctx)

	var out []models.UserView
	for cur.Next(ctx) {
		var u models.User
		if err := cur.Decode(&u); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "decode user", err)
		}
		out = append(out, models.NewUserView(&u))
	}
	return out, cur.Err()
}

func (s *MongoStore) SetOnline(ctx context.Context, userID string, online bool) error {
	id, err := parseID(userID, "user ID")
	if err != nil {
		return err
	}
	_, err = s.users.UpdateByID(ctx, id,
		bson.M{"$set": bson.M{"online": online, "updated_at": time.Now().UTC()}})
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "update online flag", err)
	}
	return nil
}

// --- conversations ---

func (s *MongoStore) FindOrCreateDirect(ctx context.Context, userA, userB string) (*models.ConversationView, error) {
	idA, err := parseID(userA, "user ID")
	if err != nil {
		return nil, err
	}
	idB, err := parseID(userB, "user ID")
	if err != nil {
		return nil, err
	}
	if idA == idB {
		return nil, apperr.New(apperr.CodeInvalidArgument, "cannot start a conversation with yourself")
	}
	// both sides must exist, or the conversation projection would carry a
	// zero-value participant
	for _, uid := range []string{userA, userB} {
		if _, err := s.GetUser(ctx, uid); err != nil {
			return nil, err
		}
	}

	key := pairKey(idA, idB)
	var conv models.Conversation
	err = s.conversations.FindOne(ctx, bson.M{"pair_key": key}).Decode(&conv)
	if err == nil {
		return s.buildView(ctx, &conv)
	}
	if err != mongo.ErrNoDocuments {
		return nil, apperr.Wrap(apperr.CodeInternal, "find direct conversation", err)
	}

	now := time.Now().UTC()
	conv = models.Conversation{
		Type:         models.ConversationDirect,
		Participants: []primitive.ObjectID{idA, idB},
		PairKey:      key,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	res, err := s.conversations.InsertOne(ctx, &conv)
	if err != nil {
		// Lost the first-contact race: the unique pair_key index rejected
		// our insert, so the winner's document is there to find.
		if mongo.IsDuplicateKeyError(err) {
			if ferr := s.conversations.FindOne(ctx, bson.M{"pair_key": key}).Decode(&conv); ferr != nil {
				return nil, apperr.Wrap(apperr.CodeInternal, "find direct conversation after race", ferr)
			}
			return s.buildView(ctx, &conv)
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "create direct conversation", err)
	}
	conv.ID = res.InsertedID.(primitive.ObjectID)
	return s.buildView(ctx, &conv)
}

func (s *MongoStore) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*models.ConversationView, error) {
	creator, err := parseID(creatorID, "user ID")
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "group name is required")
	}

	// Dedupe and make sure the creator is a member.
	seen := map[primitive.ObjectID]bool{creator: true}
	ids := []primitive.ObjectID{creator}
	for _, hex := range memberIDs {
		id, err := parseID(hex, "participant ID")
		if err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "a group needs at least one member besides the creator")
	}

	now := time.Now().UTC()
	members := make([]models.GroupMember, 0, len(ids))
	for _, id := range ids {
		role := models.RoleMember
		if id == creator {
			role = models.RoleAdmin
		}
		members = append(members, models.GroupMember{User: id, Role: role})
	}
	group := models.Group{Name: name, Members: members, CreatedAt: now, UpdatedAt: now}
	gres, err := s.groups.InsertOne(ctx, &group)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "create group", err)
	}
	group.ID = gres.InsertedID.(primitive.ObjectID)

	conv := models.Conversation{
		Type:         models.ConversationGroup,
		Participants: ids,
		Group:        group.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	cres, err := s.conversations.InsertOne(ctx, &conv)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "create group conversation", err)
	}
	conv.ID = cres.InsertedID.(primitive.ObjectID)
	return s.buildView(ctx, &conv)
}

func (s *MongoStore) ListConversationsForUser(ctx context.Context, userID string) ([]*models.ConversationView, error) {
	id, err := parseID(userID, "user ID")
	if err != nil {
		return nil, err
	}
	cur, err := s.conversations.Find(ctx, bson.M{"participants": id},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "list conversations", err)
	}
	defer cur.Close(ctx)

	var convs []*models.Conversation
	for cur.Next(ctx) {
		var c models.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "decode conversation", err)
		}
		convs = append(convs, &c)
	}
	if err := cur.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "iterate conversations", err)
	}

	out := make([]*models.ConversationView, 0, len(convs))
	for _, c := range convs {
		v, err := s.buildView(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ContactIDs returns the distinct counterpart user IDs across every
// conversation the user participates in. Runs once per presence edge.
func (s *MongoStore) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	id, err := parseID(userID, "user ID")
	if err != nil {
		return nil, err
	}
	cur, err := s.conversations.Find(ctx, bson.M{"participants": id},
		options.Find().SetProjection(bson.M{"participants": 1}))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "find contacts", err)
	}
	defer cur.Close(ctx)

	seen := map[string]bool{}
	var out []string
	for cur.Next(ctx) {
		var c models.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "decode conversation", err)
		}
		for _, p := range c.Participants {
			hex := p.Hex()
			if hex == userID || seen[hex] {
				continue
			}
			seen[hex] = true
			out = append(out, hex)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "iterate contacts", err)
	}
	sort.Strings(out)
	return out, nil
}

// --- messages ---

func (s *MongoStore) AppendMessage(ctx context.Context, convID, senderID, content string) (*AppendResult, error) {
	cid, err := parseID(convID, "conversation ID")
	if err != nil {
		return nil, err
	}
	sid, err := parseID(senderID, "user ID")
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "message content cannot be empty")
	}

	var conv models.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"_id": cid, "participants": sid}).Decode(&conv); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.New(apperr.CodeNotFound, "conversation not found or access denied")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "find conversation", err)
	}

	now := time.Now().UTC()
	msg := models.Message{
		Conversation: cid,
		Sender:       sid,
		Content:      content,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	ires, err := s.messages.InsertOne(ctx, &msg)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "insert message", err)
	}
	msg.ID = ires.InsertedID.(primitive.ObjectID)

	// One atomic document update: last-message pointer, sort timestamp and
	// every recipient's unread counter move together.
	inc := bson.M{}
	for _, p := range conv.Participants {
		if p != sid {
			inc["unread_count."+p.Hex()] = 1
		}
	}
	update := bson.M{"$set": bson.M{"last_message": msg.ID, "updated_at": now}}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	var updated models.Conversation
	err = s.conversations.FindOneAndUpdate(ctx, bson.M{"_id": cid}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "update conversation", err)
	}

	convView, err := s.buildView(ctx, &updated)
	if err != nil {
		return nil, err
	}
	sender, err := s.userView(ctx, sid)
	if err != nil {
		return nil, err
	}
	return &AppendResult{
		Message:      models.NewMessageView(&msg, sender),
		Conversation: convView,
	}, nil
}

// ownedActiveMessage loads a message and enforces the shared edit/delete
// entry conditions: it must exist, belong to the requester, and not be in
// the terminal deleted state.
func (s *MongoStore) ownedActiveMessage(ctx context.Context, msgID, requesterID string) (*models.Message, primitive.ObjectID, error) {
	mid, err := parseID(msgID, "message ID")
	if err != nil {
		return nil, primitive.NilObjectID, err
	}
	rid, err := parseID(requesterID, "user ID")
	if err != nil {
		return nil, primitive.NilObjectID, err
	}
	var msg models.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": mid}).Decode(&msg); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, primitive.NilObjectID, apperr.New(apperr.CodeNotFound, "message not found")
		}
		return nil, primitive.NilObjectID, apperr.Wrap(apperr.CodeInternal, "find message", err)
	}
	if msg.Sender != rid {
		return nil, primitive.NilObjectID, apperr.New(apperr.CodeForbidden, "message not found or access denied")
	}
	if msg.IsDeleted {
		return nil, primitive.NilObjectID, apperr.New(apperr.CodeConflict, "message already deleted")
	}
	return &msg, rid, nil
}

func (s *MongoStore) EditMessage(ctx context.Context, msgID, requesterID, content string) (*EditResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "message content cannot be empty")
	}
	msg, rid, err := s.ownedActiveMessage(ctx, msgID, requesterID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.messages.UpdateByID(ctx, msg.ID,
		bson.M{"$set": bson.M{"content": content, "edited_at": now, "updated_at": now}})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "update message", err)
	}
	msg.Content = content
	msg.EditedAt = &now

	recipients, err := s.participantsExcept(ctx, msg.Conversation, rid)
	if err != nil {
		return nil, err
	}
	sender, err := s.userView(ctx, msg.Sender)
	if err != nil {
		return nil, err
	}
	return &EditResult{
		Message:        models.NewMessageView(msg, sender),
		ConversationID: msg.Conversation.Hex(),
		Recipients:     recipients,
	}, nil
}

func (s *MongoStore) SoftDeleteMessage(ctx context.Context, msgID, requesterID string) (*DeleteResult, error) {
	msg, rid, err := s.ownedActiveMessage(ctx, msgID, requesterID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.messages.UpdateByID(ctx, msg.ID,
		bson.M{"$set": bson.M{"is_deleted": true, "deleted_at": now, "updated_at": now}})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "delete message", err)
	}

	recipients, err := s.participantsExcept(ctx, msg.Conversation, rid)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{
		MessageID:      msg.ID.Hex(),
		ConversationID: msg.Conversation.Hex(),
		DeletedAt:      now,
		Recipients:     recipients,
	}, nil
}

func (s *MongoStore) MarkRead(ctx context.Context, convID, userID string) error {
	cid, err := parseID(convID, "conversation ID")
	if err != nil {
		return err
	}
	uid, err := parseID(userID, "user ID")
	if err != nil {
		return err
	}
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": cid, "participants": uid},
		bson.M{"$set": bson.M{"unread_count." + uid.Hex(): 0}})
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "mark read", err)
	}
	if res.MatchedCount == 0 {
		return apperr.New(apperr.CodeNotFound, "conversation not found or access denied")
	}
	return nil
}

func (s *MongoStore) ListMessages(ctx context.Context, convID, requesterID string, limit, offset int) (*MessagePage, error) {
	if limit < 1 || limit > 100 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "limit must be between 1 and 100")
	}
	if offset < 0 {
		return nil, apperr.New(apperr.CodeInvalidArgument, "offset must be non-negative")
	}
	cid, err := parseID(convID, "conversation ID")
	if err != nil {
		return nil, err
	}
	rid, err := parseID(requesterID, "user ID")
	if err != nil {
		return nil, err
	}

	var conv models.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"_id": cid}).Decode(&conv); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.New(apperr.CodeNotFound, "conversation not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "find conversation", err)
	}
	member := false
	for _, p := range conv.Participants {
		if p == rid {
			member = true
			break
		}
	}
	if !member {
		return nil, apperr.New(apperr.CodeForbidden, "conversation not found or access denied")
	}

	filter := bson.M{"conversation": cid}
	total, err := s.messages.CountDocuments(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "count messages", err)
	}

	cur, err := s.messages.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "find messages", err)
	}
	defer cur.Close(ctx)

	var msgs []*models.Message
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "decode message", err)
		}
		msgs = append(msgs, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "iterate messages", err)
	}

	// Page was fetched newest-first for the skip window; flip it so clients
	// render oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	senderIDs := make([]primitive.ObjectID, 0, len(msgs))
	for _, m := range msgs {
		senderIDs = append(senderIDs, m.Sender)
	}
	senders, err := s.userViews(ctx, senderIDs)
	if err != nil {
		return nil, err
	}

	views := make([]*models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, models.NewMessageView(m, senders[m.Sender.Hex()]))
	}
	return &MessagePage{
		Messages: views,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
		HasMore:  int64(offset+limit) < total,
	}, nil
}

// --- projection helpers ---

func (s *MongoStore) participantsExcept(ctx context.Context, convID, except primitive.ObjectID) ([]string, error) {
	var conv models.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"_id": convID},
		options.FindOne().SetProjection(bson.M{"participants": 1})).Decode(&conv); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.New(apperr.CodeNotFound, "conversation not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "find conversation", err)
	}
	out := make([]string, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		if p != except {
			out = append(out, p.Hex())
		}
	}
	return out, nil
}

func (s *MongoStore) userView(ctx context.Context, id primitive.ObjectID) (models.UserView, error) {
	views, err := s.userViews(ctx, []primitive.ObjectID{id})
	if err != nil {
		return models.UserView{}, err
	}
	return views[id.Hex()], nil
}

// userViews batch-loads public profiles. Unknown IDs come back as zero-value
// views rather than errors; a participant deleted out-of-band must not break
// everyone else's conversation list.
func (s *MongoStore) userViews(ctx context.Context, ids []primitive.ObjectID) (map[string]models.UserView, error) {
	out := make(map[string]models.UserView, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "load users", err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var u models.User
		if err := cur.Decode(&u); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "decode user", err)
		}
		out[u.ID.Hex()] = models.NewUserView(&u)
	}
	return out, cur.Err()
}

// buildView assembles the fully-populated projection for one conversation:
// participant profiles, group info and the redacted last message.
func (s *MongoStore) buildView(ctx context.Context, conv *models.Conversation) (*models.ConversationView, error) {
	users, err := s.userViews(ctx, conv.Participants)
	if err != nil {
		return nil, err
	}
	participants := make([]models.UserView, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		participants = append(participants, users[p.Hex()])
	}

	var group *models.GroupView
	if !conv.Group.IsZero() {
		var g models.Group
		if err := s.groups.FindOne(ctx, bson.M{"_id": conv.Group}).Decode(&g); err == nil {
			group = models.NewGroupView(&g)
		} else if err != mongo.ErrNoDocuments {
			return nil, apperr.Wrap(apperr.CodeInternal, "find group", err)
		}
	}

	var last *models.MessageView
	if !conv.LastMessage.IsZero() {
		var m models.Message
		err := s.messages.FindOne(ctx, bson.M{"_id": conv.LastMessage}).Decode(&m)
		if err == nil {
			sender, err := s.userView(ctx, m.Sender)
			if err != nil {
				return nil, err
			}
			last = models.NewMessageView(&m, sender)
		} else if err != mongo.ErrNoDocuments {
			return nil, apperr.Wrap(apperr.CodeInternal, "find last message", err)
		}
	}
	return models.NewConversationView(conv, participants, group, last), nil
}
