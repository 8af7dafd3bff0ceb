package testutil

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/tmc/langchaingo/llms"
	"google.golang.org/grpc/metadata"

	"dmeRoutePlanner/internal/db"
)

// OpenInMemoryDB opens an in-memory SQLite database and applies migrations.
// The DB is closed through t.Cleanup.
func OpenInMemoryDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	// Shared cache so every pooled connection sees the same database.
	d, err := db.Open(context.Background(), "file:"+name+"?mode=memory&cache=shared", nil)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// GenerateJWTHS256 returns a signed JWT string with minimal claims used by the app.
func GenerateJWTHS256(t *testing.T, secret, name, kind string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"name": name,
		"kind": kind,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// CtxWithBearer returns a context containing gRPC metadata Authorization header with the given token.
func CtxWithBearer(ctx context.Context, token string) context.Context {
	md := metadata.Pairs("authorization", "Bearer "+token)
	return metadata.NewIncomingContext(ctx, md)
}

// OutgoingBearer is CtxWithBearer for client-side calls.
func OutgoingBearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

// Reply is one scripted model answer.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// ScriptedModel is an llms.Model that plays back replies in order and records prompts.
// Once the script is exhausted the last reply repeats.
type ScriptedModel struct {
	mu      sync.Mutex
	replies []Reply
	calls   int
	prompts []string
}

var _ llms.Model = (*ScriptedModel)(nil)

func NewScriptedModel(replies ...Reply) *ScriptedModel {
	return &ScriptedModel{replies: replies}
}

// Texts is shorthand for successful replies.
func Texts(texts ...string) *ScriptedModel {
	rs := make([]Reply, len(texts))
	for i, t := range texts {
		rs[i] = Reply{Text: t}
	}
	return NewScriptedModel(rs...)
}

func (m *ScriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var prompt string
	for _, msg := range messages {
		for _, p := range msg.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				prompt += tc.Text + "\n"
			}
		}
	}
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	if len(m.replies) == 0 {
		m.calls++
		m.mu.Unlock()
		return nil, errors.New("scripted model has no replies")
	}
	r := m.replies[min(m.calls, len(m.replies)-1)]
	m.calls++
	m.mu.Unlock()

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: r.Text}}}, nil
}

func (m *ScriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Calls returns how many times the model was invoked.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastPrompt returns the text of the most recent call.
func (m *ScriptedModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// Clock is a settable time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{t: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
