package nats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sindi-homes/assistant/internal/model"
)

func TestEventSubject(t *testing.T) {
	require.Equal(t, "sindi.p1.c1.event.title_generated",
		EventSubject("p1", "c1", model.EventTitleGenerated))
	require.Equal(t, "sindi.user_example_com.c1.event.share_created",
		EventSubject("user.example.com", "c1", model.EventShareCreated))
	require.Equal(t, "sindi._.c_1.event.turn_failed",
		EventSubject("", "c 1", model.EventTurnFailed))
}

func TestConversationFilter(t *testing.T) {
	require.Equal(t, "sindi.p1.c1.event.>", ConversationFilter("p1", "c1"))
	require.Equal(t, "sindi.a_b.c_.event.>", ConversationFilter("a*b", "c>"))
}
