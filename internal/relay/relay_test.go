package relay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sindi-homes/assistant/internal/llm"
	"github.com/sindi-homes/assistant/internal/llm/llmtest"
	"github.com/sindi-homes/assistant/internal/model"
)

type recordingSink struct {
	writes []string
	failAt int
}

func (s *recordingSink) Write(text string) error {
	if s.failAt > 0 && len(s.writes) >= s.failAt {
		return errors.New("broken pipe")
	}
	s.writes = append(s.writes, text)
	return nil
}

func tokens(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "t" + string(rune('a'+i)) + " "
	}
	return out
}

func TestRelayCompleteStream(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink, model.PropertyHints{Search: []string{"s1"}})
	client := &llmtest.Client{Tokens: []string{"Two ", "flats.", "<PROPERTIES_JSON>", `["s1"]`, "</PROPERTIES_JSON>"}}

	_, err := client.CompleteStream(context.Background(), &llm.CompletionRequest{}, r.Callback(context.Background()))
	require.NoError(t, err)

	out := r.Finish(context.Background(), err)
	require.True(t, out.Complete)
	require.False(t, out.ClientGone)
	require.Equal(t, `Two flats.<PROPERTIES_JSON>["s1"]</PROPERTIES_JSON>`, out.Text)
	require.Equal(t, out.Text, strings.Join(sink.writes, ""))
}

func TestRelayClientDisconnectMidStream(t *testing.T) {
	toks := tokens(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{}
	r := New(sink, model.PropertyHints{})
	client := &llmtest.Client{
		Tokens: toks,
		BeforeToken: func(i int) {
			if i == 4 {
				cancel()
			}
		},
	}

	_, err := client.CompleteStream(context.Background(), &llm.CompletionRequest{}, r.Callback(ctx))
	require.ErrorIs(t, err, context.Canceled)

	out := r.Finish(ctx, err)
	require.False(t, out.Complete)
	require.True(t, out.ClientGone)
	require.Equal(t, strings.Join(toks[:4], ""), out.Text)
	require.Len(t, sink.writes, 4)

	// No writes after the disconnect.
	require.ErrorIs(t, r.Emit(context.Background(), "late"), context.Canceled)
	require.Len(t, sink.writes, 4)
}

func TestRelaySinkFailureStopsDelivery(t *testing.T) {
	sink := &recordingSink{failAt: 2}
	r := New(sink, model.PropertyHints{})

	require.NoError(t, r.Emit(context.Background(), "a"))
	require.NoError(t, r.Emit(context.Background(), "b"))
	err := r.Emit(context.Background(), "c")
	require.Error(t, err)

	out := r.Finish(context.Background(), err)
	require.True(t, out.ClientGone)
	require.Equal(t, "abc", out.Text)
	require.Equal(t, []string{"a", "b"}, sink.writes)
}

func TestRelayDropsUnterminatedCitation(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink, model.PropertyHints{Search: []string{"s1"}})

	require.NoError(t, r.Emit(context.Background(), "Answer <PROPERTIES_JSON>[\"s1\""))
	out := r.Finish(context.Background(), nil)
	require.Equal(t, "Answer ", out.Text)
	require.Equal(t, []string{"Answer "}, sink.writes)
}

func TestRelayStreamCancelledBeforeCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}
	r := New(sink, model.PropertyHints{})

	require.NoError(t, r.Emit(ctx, "Hello"))
	cancel()

	out := r.Finish(ctx, context.Canceled)
	require.True(t, out.ClientGone)
	require.False(t, out.Complete)
	require.Equal(t, "Hello", out.Text)
}

func TestRelayUpstreamFailureIsNotDisconnect(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink, model.PropertyHints{})

	require.NoError(t, r.Emit(context.Background(), "Hel"))
	out := r.Finish(context.Background(), errors.New("upstream 500"))
	require.False(t, out.ClientGone)
	require.False(t, out.Complete)
	require.Equal(t, "Hel", out.Text)
	require.True(t, r.Started())
}

func TestRelayDisconnectDropsHeldPrefix(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}
	r := New(sink, model.PropertyHints{Search: []string{"s1"}})

	require.NoError(t, r.Emit(ctx, "Two flats. <PROP"))
	cancel()

	out := r.Finish(ctx, context.Canceled)
	require.True(t, out.ClientGone)
	require.Equal(t, "Two flats. ", out.Text)
	require.Equal(t, []string{"Two flats. "}, sink.writes)
}

func TestRelayUpstreamFailureDropsHeldPrefix(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink, model.PropertyHints{Search: []string{"s1"}})

	require.NoError(t, r.Emit(context.Background(), "Two flats. <PROPERTIES_J"))
	out := r.Finish(context.Background(), errors.New("upstream 500"))
	require.False(t, out.Complete)
	require.Equal(t, "Two flats. ", out.Text)
}
