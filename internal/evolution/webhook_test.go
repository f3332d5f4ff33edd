package evolution

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/notifications"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/realtime"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Fakes
// ==========================

type fakeWebhookStore struct {
	contacts      map[string]*models.Contact
	conversation  *models.Conversation
	convCreated   bool
	messages      []models.Message
	externalIDs   map[string]bool
	inboundAt     []time.Time
	statusUpdates map[string]string
}

func newFakeWebhookStore(conv *models.Conversation) *fakeWebhookStore {
	return &fakeWebhookStore{
		contacts:      make(map[string]*models.Contact),
		conversation:  conv,
		externalIDs:   make(map[string]bool),
		statusUpdates: make(map[string]string),
	}
}

func (f *fakeWebhookStore) UpsertContactByPhone(_ context.Context, clientID, phone, name, source string) (*models.Contact, bool, error) {
	if c, ok := f.contacts[phone]; ok {
		return c, false, nil
	}
	c := &models.Contact{ID: "contact-" + phone, ClientID: clientID, Name: name, Phone: phone, Source: source}
	f.contacts[phone] = c
	return c, true, nil
}

func (f *fakeWebhookStore) FindOrCreateOpenConversation(_ context.Context, clientID, contactID string, instanceID *string, channel string) (*models.Conversation, bool, error) {
	conv := *f.conversation
	conv.ClientID = clientID
	conv.ContactID = contactID
	conv.InstanceID = instanceID
	conv.Channel = channel
	created := f.convCreated
	f.convCreated = false
	return &conv, created, nil
}

func (f *fakeWebhookStore) InsertMessage(_ context.Context, m models.Message) (bool, error) {
	if m.ExternalID != nil {
		if f.externalIDs[*m.ExternalID] {
			return false, nil
		}
		f.externalIDs[*m.ExternalID] = true
	}
	f.messages = append(f.messages, m)
	return true, nil
}

func (f *fakeWebhookStore) RecordInbound(_ context.Context, _ string, at time.Time) error {
	f.inboundAt = append(f.inboundAt, at)
	return nil
}

func (f *fakeWebhookStore) UpdateInstanceStatus(_ context.Context, name, status string) (*models.Instance, error) {
	f.statusUpdates[name] = status
	return &models.Instance{ID: "inst-" + name, ClientID: "client-1", Name: name, Status: status, Active: true}, nil
}

type published struct {
	channel   string
	eventType string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(_ context.Context, channel, eventType string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{channel: channel, eventType: eventType})
	return nil
}

type fakeNotifier struct {
	direct []notifications.Request
	admins []notifications.Request
}

func (n *fakeNotifier) Notify(_ context.Context, req notifications.Request) (*notifications.Result, error) {
	n.direct = append(n.direct, req)
	return &notifications.Result{}, nil
}

func (n *fakeNotifier) NotifyClientAdmins(_ context.Context, _ string, req notifications.Request) error {
	n.admins = append(n.admins, req)
	return nil
}

type fakeTrigger struct {
	calls []string
}

func (f *fakeTrigger) TriggerReply(_, conversationID, messageID, content string) {
	f.calls = append(f.calls, conversationID+"|"+messageID+"|"+content)
}

type fakeIndexer struct {
	indexed []string
}

func (f *fakeIndexer) Index(_ context.Context, c models.Contact) error {
	f.indexed = append(f.indexed, c.ID)
	return nil
}

type webhookFixture struct {
	handler   *WebhookHandler
	store     *fakeWebhookStore
	publisher *fakePublisher
	notifier  *fakeNotifier
	trigger   *fakeTrigger
	indexer   *fakeIndexer
}

func newWebhookFixture(t *testing.T, conv *models.Conversation) *webhookFixture {
	t.Helper()
	access := newTestResolver(t, &fakeAccessStore{instances: map[string]*store.InstanceAccess{
		"main": instanceAccess("main", true, models.ClientStatusActive),
	}}, "")

	f := &webhookFixture{
		store:     newFakeWebhookStore(conv),
		publisher: &fakePublisher{},
		notifier:  &fakeNotifier{},
		trigger:   &fakeTrigger{},
		indexer:   &fakeIndexer{},
	}
	f.handler = NewWebhookHandler(access, f.store, f.publisher, f.indexer, f.notifier, f.trigger, logger.NewTestLogger(t))
	return f
}

func strPtr(s string) *string { return &s }

const upsertPayload = `{
	"event": "messages.upsert",
	"instance": "main",
	"data": {
		"key": {"remoteJid": "5491122334455@s.whatsapp.net", "fromMe": false, "id": "3EB0A1"},
		"pushName": "Ana",
		"message": {"conversation": "Hola, quiero info"},
		"messageType": "conversation",
		"messageTimestamp": 1717000000
	}
}`

// ==========================
// messages.upsert
// ==========================

func TestWebhook_MessageUpsert_StoresAndTriggersReply(t *testing.T) {
	f := newWebhookFixture(t, &models.Conversation{ID: "conv-1", AIActive: true, AgentID: strPtr("agent-1")})
	f.store.convCreated = true

	res, err := f.handler.Process(context.Background(), []byte(upsertPayload), "key-main")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Status)
	assert.Equal(t, EventMessagesUpsert, res.Event)
	assert.Equal(t, "conv-1", res.ConversationID)

	require.Len(t, f.store.messages, 1)
	msg := f.store.messages[0]
	assert.Equal(t, "Hola, quiero info", msg.Content)
	assert.Equal(t, models.RoleContact, msg.Role)
	assert.Equal(t, "3EB0A1", *msg.ExternalID)
	assert.Equal(t, time.Unix(1717000000, 0).UTC(), msg.CreatedAt)

	assert.Equal(t, "Ana", f.store.contacts["5491122334455"].Name)
	assert.Equal(t, []string{"contact-5491122334455"}, f.indexer.indexed)

	assert.Equal(t, []published{
		{channel: realtime.ConversationChannel("conv-1"), eventType: realtime.EventMessageCreated},
		{channel: realtime.ClientConversationsChannel("client-1"), eventType: realtime.EventConversationCreated},
	}, f.publisher.events)

	require.Len(t, f.notifier.admins, 1)
	assert.Equal(t, models.NotificationNewMessage, f.notifier.admins[0].Type)
	assert.Equal(t, []string{"conv-1|" + msg.ID + "|Hola, quiero info"}, f.trigger.calls)
}

func TestWebhook_MessageUpsert_NotifiesAssignedUser(t *testing.T) {
	f := newWebhookFixture(t, &models.Conversation{ID: "conv-1", AssignedUserID: strPtr("user-9")})

	_, err := f.handler.Process(context.Background(), []byte(upsertPayload), "key-main")
	require.NoError(t, err)

	require.Len(t, f.notifier.direct, 1)
	assert.Equal(t, "user-9", f.notifier.direct[0].UserID)
	assert.Empty(t, f.notifier.admins)
	assert.Empty(t, f.trigger.calls, "AI is off for this conversation")
}

func TestWebhook_MessageUpsert_DuplicateIsIgnored(t *testing.T) {
	f := newWebhookFixture(t, &models.Conversation{ID: "conv-1", AIActive: true, AgentID: strPtr("agent-1")})

	_, err := f.handler.Process(context.Background(), []byte(upsertPayload), "key-main")
	require.NoError(t, err)
	res, err := f.handler.Process(context.Background(), []byte(upsertPayload), "key-main")
	require.NoError(t, err)

	assert.Equal(t, OutcomeDuplicate, res.Status)
	assert.Len(t, f.store.messages, 1)
	assert.Len(t, f.store.inboundAt, 1)
	assert.Len(t, f.trigger.calls, 1)
}

func TestWebhook_MessageUpsert_Skips(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		reason  string
	}{
		{
			name:    "outbound echo",
			payload: `{"event":"messages.upsert","instance":"main","data":{"key":{"remoteJid":"5491122334455@s.whatsapp.net","fromMe":true,"id":"X1"},"message":{"conversation":"hi"}}}`,
			reason:  "outbound echo",
		},
		{
			name:    "group",
			payload: `{"event":"messages.upsert","instance":"main","data":{"key":{"remoteJid":"1203630@g.us","fromMe":false,"id":"X2"},"message":{"conversation":"hi"}}}`,
			reason:  "group message",
		},
		{
			name:    "no content",
			payload: `{"event":"messages.upsert","instance":"main","data":{"key":{"remoteJid":"5491122334455@s.whatsapp.net","fromMe":false,"id":"X3"},"message":{}}}`,
			reason:  "empty message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(t, &models.Conversation{ID: "conv-1"})
			res, err := f.handler.Process(context.Background(), []byte(tt.payload), "key-main")
			require.NoError(t, err)
			assert.Equal(t, OutcomeIgnored, res.Status)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Empty(t, f.store.messages)
			assert.Empty(t, f.publisher.events)
		})
	}
}

func TestWebhook_UppercaseEventAndBodyKey(t *testing.T) {
	f := newWebhookFixture(t, &models.Conversation{ID: "conv-1"})
	payload := `{"event":"MESSAGES_UPSERT","instance":"main","apikey":"key-main","data":{"key":{"remoteJid":"5491122334455@s.whatsapp.net","id":"U1"},"message":{"extendedTextMessage":{"text":"link"}}}}`

	res, err := f.handler.Process(context.Background(), []byte(payload), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Status)
	require.Len(t, f.store.messages, 1)
	assert.Equal(t, "link", f.store.messages[0].Content)
}

// ==========================
// Rejections
// ==========================

func TestWebhook_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		apiKey   string
		wantCode apperrors.ErrorCode
	}{
		{name: "bad key", payload: upsertPayload, apiKey: "wrong", wantCode: apperrors.ErrCodeWebhookRejected},
		{name: "unknown instance", payload: `{"event":"messages.upsert","instance":"ghost","data":{}}`, apiKey: "key-main", wantCode: apperrors.ErrCodeWebhookRejected},
		{name: "missing instance", payload: `{"event":"messages.upsert","data":{}}`, apiKey: "key-main", wantCode: apperrors.ErrCodeValidationFailed},
		{name: "not json", payload: `not json`, apiKey: "key-main", wantCode: apperrors.ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(t, &models.Conversation{ID: "conv-1"})
			_, err := f.handler.Process(context.Background(), []byte(tt.payload), tt.apiKey)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tt.wantCode), err.Error())
			assert.Empty(t, f.store.messages)
		})
	}
}

func TestWebhook_Handle_RejectedIs403(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newWebhookFixture(t, &models.Conversation{ID: "conv-1"})
	router := gin.New()
	router.POST("/api/webhook/evolution", f.handler.Handle)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/evolution", bytes.NewBufferString(upsertPayload))
	req.Header.Set("apikey", "wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), string(apperrors.ErrCodeWebhookRejected))
}

// ==========================
// connection.update
// ==========================

func TestWebhook_ConnectionUpdate(t *testing.T) {
	f := newWebhookFixture(t, &models.Conversation{ID: "conv-1"})
	payload := `{"event":"connection.update","instance":"main","data":{"instance":"main","state":"close","statusReason":401}}`

	res, err := f.handler.Process(context.Background(), []byte(payload), "key-main")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Status)
	assert.Equal(t, models.InstanceClosed, f.store.statusUpdates["main"])
	assert.Equal(t, []published{
		{channel: realtime.InstanceChannel("client-1", "main"), eventType: realtime.EventInstanceStatus},
	}, f.publisher.events)
	require.Len(t, f.notifier.admins, 1)
	assert.Equal(t, models.PriorityHigh, f.notifier.admins[0].Priority)
}

func TestWebhook_UnsupportedEventIsIgnored(t *testing.T) {
	f := newWebhookFixture(t, &models.Conversation{ID: "conv-1"})
	res, err := f.handler.Process(context.Background(), []byte(`{"event":"presence.update","instance":"main","data":{}}`), "key-main")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Status)
}
