// Package llmtest provides a scripted chat model for tests of the
// components that drive an eino model.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Reply computes the model's answer for one Generate call.
type Reply func(ctx context.Context, msgs []*schema.Message) (*schema.Message, error)

// ChatModel is a model.BaseChatModel whose replies come from a function. It
// records every call so tests can inspect the prompts and options sent.
type ChatModel struct {
	mu    sync.Mutex
	reply Reply
	calls [][]*schema.Message
	opts  []*model.Options
}

// New returns a ChatModel answering with reply.
func New(reply Reply) *ChatModel {
	return &ChatModel{reply: reply}
}

// Text returns a ChatModel that always answers content.
func Text(content string) *ChatModel {
	return New(func(context.Context, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage(content, nil), nil
	})
}

// Failing returns a ChatModel whose every call fails with err.
func Failing(err error) *ChatModel {
	return New(func(context.Context, []*schema.Message) (*schema.Message, error) {
		return nil, err
	})
}

// Generate records the call and returns the scripted reply.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, input)
	m.opts = append(m.opts, model.GetCommonOptions(&model.Options{}, opts...))
	m.mu.Unlock()
	return m.reply(ctx, input)
}

// Stream is not used by the pipeline.
func (m *ChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("llmtest: streaming not supported")
}

// Calls returns the message lists of every Generate call so far.
func (m *ChatModel) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.calls...)
}

// Options returns the common options of every Generate call so far.
func (m *ChatModel) Options() []*model.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Options(nil), m.opts...)
}
