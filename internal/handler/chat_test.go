package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sindi-homes/assistant/internal/model"
)

type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (w brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("write: broken pipe")
}

func TestStreamWriterReportsEventFailure(t *testing.T) {
	w := brokenWriter{httptest.NewRecorder()}
	sink := newStreamWriter(w, true)

	err := sink.event("done", &model.DoneEvent{ConversationID: "c1"})
	require.Error(t, err)
	require.True(t, sink.committed)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
}

func TestStreamWriterTokenFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := newStreamWriter(rec, true)

	require.NoError(t, sink.Write("Hi"))
	require.NoError(t, sink.Write("!"))
	require.Equal(t,
		"event: token\ndata: {\"token\":\"Hi\",\"index\":0}\n\nevent: token\ndata: {\"token\":\"!\",\"index\":1}\n\n",
		rec.Body.String(),
	)
	require.True(t, rec.Flushed)
}
